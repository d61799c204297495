// Package api defines the typed client surface the sync engine is built
// against. The backend is an external collaborator; implementations live in
// api/rest, tests substitute fakes.
package api

import (
	"context"
	"io"

	"opschat/internal/domain/chat"
)

// Attachment references an uploaded object to be attached to a message.
type Attachment struct {
	URL  string
	Name string
	Size int64
}

// SendParams carries everything needed to post one message.
type SendParams struct {
	Body       string
	Kind       chat.MessageKind
	Attachment *Attachment
}

// Upload is the result of storing an attachment.
type Upload struct {
	URL  string
	Name string
	Size int64
	Kind chat.MessageKind
}

// Client is the operation set the sync core consumes. ListMessages returns at
// most pageSize messages ordered oldest to newest; when beforeMessageID is
// non-empty, it returns the page immediately preceding that message.
type Client interface {
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, pageSize int, beforeMessageID string) ([]chat.Message, error)
	SendMessage(ctx context.Context, conversationID string, params SendParams) (chat.Message, error)
	MarkAllRead(ctx context.Context, conversationID string) error
	UpdateConversationStatus(ctx context.Context, conversationID string, status chat.Status) (chat.Conversation, error)
	UpdateConversationMode(ctx context.Context, conversationID string, mode chat.Mode) (chat.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	UploadAttachment(ctx context.Context, name string, contentType string, content io.Reader) (Upload, error)
}
