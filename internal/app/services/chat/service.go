// Package chat coordinates the conversation roster, the message log and the
// change-event stream behind the REST surface.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	domainchat "opschat/internal/domain/chat"
)

const previewLimit = 120

var (
	ErrBodyRequired = errors.New("chat: message body or attachment required")
)

// EventPublisher pushes row-level change events toward live subscribers.
type EventPublisher interface {
	PublishChange(ctx context.Context, ev domainchat.ChangeEvent) error
}

// Service implements the chat operations. Persistence is split: summaries
// live in the conversation repository, the message log in its own store.
type Service struct {
	Conversations domainchat.ConversationRepository
	Messages      domainchat.MessageRepository
	Events        EventPublisher
	Logger        *slog.Logger
	PageSize      int
}

func (s *Service) pageSize() int {
	if s.PageSize > 0 {
		return s.PageSize
	}
	return domainchat.DefaultPageSize
}

// ListConversations returns roster rows, restricted to one customer when
// customerID is non-empty.
func (s *Service) ListConversations(ctx context.Context, customerID string) ([]domainchat.Conversation, error) {
	return s.Conversations.List(ctx, customerID)
}

// GetConversation returns one roster row.
func (s *Service) GetConversation(ctx context.Context, id string) (domainchat.Conversation, error) {
	return s.Conversations.Get(ctx, id)
}

// ConversationForCustomer returns the customer's active thread, creating it
// on first contact.
func (s *Service) ConversationForCustomer(ctx context.Context, customerID, name, email string) (domainchat.Conversation, error) {
	conv, created, err := s.Conversations.GetOrCreateForCustomer(ctx, customerID, name, email)
	if err != nil {
		return domainchat.Conversation{}, err
	}
	if created {
		s.publish(ctx, domainchat.ChangeEvent{
			Op:             domainchat.OpInsert,
			ConversationID: conv.ID,
			Conversation:   &conv,
		})
	}
	return conv, nil
}

// ListMessages returns one history page, oldest to newest. A non-empty before
// cursor pages backward.
func (s *Service) ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]domainchat.Message, error) {
	if _, err := s.Conversations.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.pageSize()
	}
	return s.Messages.List(ctx, conversationID, limit, before)
}

// SendParams carries one outbound message.
type SendParams struct {
	SenderID       string
	Body           string
	Kind           domainchat.MessageKind
	AttachmentURL  string
	AttachmentName string
	AttachmentSize int64
	// AgentSide marks replies from the support side; they never bump the
	// conversation's unread counter.
	AgentSide bool
}

// SendMessage appends a message, refreshes the roster row and emits the
// insert event.
func (s *Service) SendMessage(ctx context.Context, conversationID string, params SendParams) (*domainchat.Message, error) {
	body := strings.TrimSpace(params.Body)
	if body == "" && params.AttachmentURL == "" {
		return nil, ErrBodyRequired
	}
	kind := params.Kind
	if kind == "" {
		kind = domainchat.KindText
	}
	conv, err := s.Conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	msg, err := s.Messages.Add(ctx, domainchat.AddMessageParams{
		ConversationID: conv.ID,
		SenderID:       params.SenderID,
		Body:           body,
		Kind:           kind,
		AttachmentURL:  params.AttachmentURL,
		AttachmentName: params.AttachmentName,
		AttachmentSize: params.AttachmentSize,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.Conversations.RecordMessage(ctx, conv.ID, msg.Preview(previewLimit), msg.CreatedAt, !params.AgentSide); err != nil {
		if s.Logger != nil {
			s.Logger.Warn("roster row update failed", "error", err, "conversation_id", conv.ID)
		}
	}

	s.publish(ctx, domainchat.ChangeEvent{
		Op:             domainchat.OpInsert,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Message:        msg,
	})
	return msg, nil
}

// MarkAllRead stamps every unread customer message in the conversation and
// zeroes the roster counter. Each stamped message yields an update event.
func (s *Service) MarkAllRead(ctx context.Context, conversationID string) (int, error) {
	if _, err := s.Conversations.Get(ctx, conversationID); err != nil {
		return 0, err
	}
	stamped, err := s.Messages.MarkUnreadRead(ctx, conversationID, time.Now().UTC())
	if err != nil {
		return len(stamped), err
	}
	conv, err := s.Conversations.ClearUnread(ctx, conversationID)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("unread counter reset failed", "error", err, "conversation_id", conversationID)
		}
	} else {
		s.publish(ctx, domainchat.ChangeEvent{
			Op:             domainchat.OpUpdate,
			ConversationID: conv.ID,
			Conversation:   &conv,
		})
	}
	for i := range stamped {
		msg := stamped[i]
		s.publish(ctx, domainchat.ChangeEvent{
			Op:             domainchat.OpUpdate,
			ConversationID: conversationID,
			MessageID:      msg.ID,
			Message:        &msg,
		})
	}
	return len(stamped), nil
}

// SetStatus transitions the conversation lifecycle state.
func (s *Service) SetStatus(ctx context.Context, conversationID string, status domainchat.Status) (domainchat.Conversation, error) {
	conv, err := s.Conversations.SetStatus(ctx, conversationID, status)
	if err != nil {
		return domainchat.Conversation{}, err
	}
	s.publish(ctx, domainchat.ChangeEvent{
		Op:             domainchat.OpUpdate,
		ConversationID: conv.ID,
		Conversation:   &conv,
	})
	return conv, nil
}

// SetMode switches who answers the customer.
func (s *Service) SetMode(ctx context.Context, conversationID string, mode domainchat.Mode) (domainchat.Conversation, error) {
	conv, err := s.Conversations.SetMode(ctx, conversationID, mode)
	if err != nil {
		return domainchat.Conversation{}, err
	}
	s.publish(ctx, domainchat.ChangeEvent{
		Op:             domainchat.OpUpdate,
		ConversationID: conv.ID,
		Conversation:   &conv,
	})
	return conv, nil
}

// DeleteConversation removes the thread and its message log.
func (s *Service) DeleteConversation(ctx context.Context, conversationID string) error {
	if _, err := s.Conversations.Get(ctx, conversationID); err != nil {
		return err
	}
	if err := s.Conversations.Delete(ctx, conversationID); err != nil {
		return err
	}
	if err := s.Messages.DeleteConversation(ctx, conversationID); err != nil {
		if s.Logger != nil {
			s.Logger.Warn("message log cleanup failed", "error", err, "conversation_id", conversationID)
		}
	}
	s.publish(ctx, domainchat.ChangeEvent{
		Op:             domainchat.OpDelete,
		ConversationID: conversationID,
	})
	return nil
}

// publish is best effort: the write already committed, a lost event is
// repaired by the clients' backstop poll.
func (s *Service) publish(ctx context.Context, ev domainchat.ChangeEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.PublishChange(ctx, ev); err != nil && s.Logger != nil {
		s.Logger.Warn("change event publish failed", "error", err, "op", ev.Op, "conversation_id", ev.ConversationID)
	}
}
