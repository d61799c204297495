package scylla

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"opschat/internal/domain/chat"
)

var errNoSession = errors.New("scylla session not initialized")

// MessageStore wraps Scylla queries for the message log. Messages are
// partitioned by conversation and clustered newest-first on a timeuuid, so a
// page read is one partition slice.
type MessageStore struct {
	session *gocql.Session
	logger  *slog.Logger
}

func NewMessageStore(session *gocql.Session, logger *slog.Logger) *MessageStore {
	return &MessageStore{session: session, logger: logger}
}

var _ chat.MessageRepository = (*MessageStore)(nil)

// Add appends a message, minting its timeuuid identifier.
func (s *MessageStore) Add(ctx context.Context, params chat.AddMessageParams) (*chat.Message, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	convID, err := gocql.ParseUUID(strings.TrimSpace(params.ConversationID))
	if err != nil {
		return nil, chat.ErrConversationGone
	}
	messageID := gocql.TimeUUID()
	at := messageID.Time().UTC()

	if err := s.session.
		Query(`INSERT INTO messages (conversation_id, message_id, sender_id, body, kind, attachment_url, attachment_name, attachment_size, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			convID, messageID, params.SenderID, params.Body, string(params.Kind),
			params.AttachmentURL, params.AttachmentName, params.AttachmentSize, at).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return nil, err
	}
	return &chat.Message{
		ID:             messageID.String(),
		ConversationID: params.ConversationID,
		SenderID:       params.SenderID,
		Body:           params.Body,
		Kind:           params.Kind,
		AttachmentURL:  params.AttachmentURL,
		AttachmentName: params.AttachmentName,
		AttachmentSize: params.AttachmentSize,
		CreatedAt:      at,
	}, nil
}

// List returns up to limit messages ordered oldest to newest. A non-empty
// before cursor restricts the page to messages older than that identifier.
func (s *MessageStore) List(ctx context.Context, conversationID string, limit int, before string) ([]chat.Message, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	convID, err := gocql.ParseUUID(strings.TrimSpace(conversationID))
	if err != nil {
		return nil, chat.ErrConversationGone
	}
	if limit <= 0 || limit > 200 {
		limit = chat.DefaultPageSize
	}

	var iter *gocql.Iter
	if before != "" {
		cursor, err := gocql.ParseUUID(strings.TrimSpace(before))
		if err != nil {
			return nil, chat.ErrMessageGone
		}
		iter = s.session.
			Query(`SELECT conversation_id, message_id, sender_id, body, kind, attachment_url, attachment_name, attachment_size, created_at, read_at FROM messages WHERE conversation_id = ? AND message_id < ? ORDER BY message_id DESC LIMIT ?`,
				convID, cursor, limit).
			WithContext(ctx).
			Consistency(gocql.One).
			Iter()
	} else {
		iter = s.session.
			Query(`SELECT conversation_id, message_id, sender_id, body, kind, attachment_url, attachment_name, attachment_size, created_at, read_at FROM messages WHERE conversation_id = ? ORDER BY message_id DESC LIMIT ?`,
				convID, limit).
			WithContext(ctx).
			Consistency(gocql.One).
			Iter()
	}

	// Scanned newest-first; reverse before returning.
	newestFirst := make([]chat.Message, 0, limit)
	var (
		cID       gocql.UUID
		messageID gocql.UUID
		sender    string
		body      string
		kind      string
		attURL    string
		attName   string
		attSize   int64
		createdAt time.Time
		readAt    time.Time
	)
	for iter.Scan(&cID, &messageID, &sender, &body, &kind, &attURL, &attName, &attSize, &createdAt, &readAt) {
		msg := chat.Message{
			ID:             messageID.String(),
			ConversationID: cID.String(),
			SenderID:       sender,
			Body:           body,
			Kind:           chat.MessageKind(kind),
			AttachmentURL:  attURL,
			AttachmentName: attName,
			AttachmentSize: attSize,
			CreatedAt:      createdAt.UTC(),
		}
		if !readAt.IsZero() {
			t := readAt.UTC()
			msg.ReadAt = &t
		}
		newestFirst = append(newestFirst, msg)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	messages := make([]chat.Message, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		messages = append(messages, newestFirst[i])
	}
	return messages, nil
}

// MarkUnreadRead stamps read_at on every customer-authored message in the
// conversation that does not carry one yet. Returns the stamped messages.
func (s *MessageStore) MarkUnreadRead(ctx context.Context, conversationID string, at time.Time) ([]chat.Message, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	convID, err := gocql.ParseUUID(strings.TrimSpace(conversationID))
	if err != nil {
		return nil, chat.ErrConversationGone
	}
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	iter := s.session.
		Query(`SELECT conversation_id, message_id, sender_id, body, kind, attachment_url, attachment_name, attachment_size, created_at, read_at FROM messages WHERE conversation_id = ?`, convID).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()
	var (
		cID       gocql.UUID
		messageID gocql.UUID
		sender    string
		body      string
		kind      string
		attURL    string
		attName   string
		attSize   int64
		createdAt time.Time
		readAt    time.Time
	)
	pending := make([]chat.Message, 0)
	for iter.Scan(&cID, &messageID, &sender, &body, &kind, &attURL, &attName, &attSize, &createdAt, &readAt) {
		if sender == chat.AgentSenderID || !readAt.IsZero() {
			continue
		}
		pending = append(pending, chat.Message{
			ID:             messageID.String(),
			ConversationID: cID.String(),
			SenderID:       sender,
			Body:           body,
			Kind:           chat.MessageKind(kind),
			AttachmentURL:  attURL,
			AttachmentName: attName,
			AttachmentSize: attSize,
			CreatedAt:      createdAt.UTC(),
		})
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	stamped := make([]chat.Message, 0, len(pending))
	for _, msg := range pending {
		id, err := gocql.ParseUUID(msg.ID)
		if err != nil {
			continue
		}
		if err := s.session.
			Query(`UPDATE messages SET read_at = ? WHERE conversation_id = ? AND message_id = ?`, at, convID, id).
			WithContext(ctx).
			Consistency(gocql.Quorum).
			Exec(); err != nil {
			return stamped, err
		}
		readTime := at
		msg.ReadAt = &readTime
		stamped = append(stamped, msg)
	}
	return stamped, nil
}

// DeleteConversation drops the whole message partition for a conversation.
func (s *MessageStore) DeleteConversation(ctx context.Context, conversationID string) error {
	if s.session == nil {
		return errNoSession
	}
	convID, err := gocql.ParseUUID(strings.TrimSpace(conversationID))
	if err != nil {
		return chat.ErrConversationGone
	}
	return s.session.
		Query(`DELETE FROM messages WHERE conversation_id = ?`, convID).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec()
}
