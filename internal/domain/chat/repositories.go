package chat

import (
	"context"
	"time"
)

// AddMessageParams carries the caller-supplied fields of a new message. The
// repository mints the identifier and timestamp.
type AddMessageParams struct {
	ConversationID string
	SenderID       string
	Body           string
	Kind           MessageKind
	AttachmentURL  string
	AttachmentName string
	AttachmentSize int64
}

// MessageRepository is the persistent message log, ordered per conversation.
type MessageRepository interface {
	Add(ctx context.Context, params AddMessageParams) (*Message, error)
	// List returns up to limit messages oldest to newest; a non-empty before
	// cursor restricts the page to messages older than that id.
	List(ctx context.Context, conversationID string, limit int, before string) ([]Message, error)
	// MarkUnreadRead stamps read_at on unread customer messages and returns
	// the stamped messages.
	MarkUnreadRead(ctx context.Context, conversationID string, at time.Time) ([]Message, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// ConversationRepository holds the roster summaries.
type ConversationRepository interface {
	List(ctx context.Context, customerID string) ([]Conversation, error)
	Get(ctx context.Context, id string) (Conversation, error)
	GetOrCreateForCustomer(ctx context.Context, customerID, name, email string) (Conversation, bool, error)
	RecordMessage(ctx context.Context, id, preview string, at time.Time, countUnread bool) (Conversation, error)
	ClearUnread(ctx context.Context, id string) (Conversation, error)
	SetStatus(ctx context.Context, id string, status Status) (Conversation, error)
	SetMode(ctx context.Context, id string, mode Mode) (Conversation, error)
	Delete(ctx context.Context, id string) error
}
