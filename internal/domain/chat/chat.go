package chat

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// AgentSenderID is the reserved sender identifier for messages produced by
// the automated agent rather than a human participant.
const AgentSenderID = "agent"

// DefaultPageSize caps a single message page returned by the history API.
const DefaultPageSize = 50

var (
	ErrEmptyBody        = errors.New("chat: message body is required")
	ErrInvalidKind      = errors.New("chat: invalid message kind")
	ErrInvalidStatus    = errors.New("chat: invalid conversation status")
	ErrInvalidMode      = errors.New("chat: invalid conversation mode")
	ErrConversationGone = errors.New("chat: conversation not found")
	ErrMessageGone      = errors.New("chat: message not found")
)

// MessageKind distinguishes plain text from attachment-bearing messages.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

// ParseKind validates a wire-level kind value, defaulting empty to text.
func ParseKind(raw string) (MessageKind, error) {
	switch MessageKind(strings.ToLower(strings.TrimSpace(raw))) {
	case "", KindText:
		return KindText, nil
	case KindImage:
		return KindImage, nil
	case KindFile:
		return KindFile, nil
	default:
		return "", ErrInvalidKind
	}
}

// Status describes the lifecycle of a support conversation.
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
	StatusArchived Status = "archived"
)

func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusActive:
		return StatusActive, nil
	case StatusResolved:
		return StatusResolved, nil
	case StatusArchived:
		return StatusArchived, nil
	default:
		return "", ErrInvalidStatus
	}
}

// Mode says who is answering the customer: the automated agent or a human.
type Mode string

const (
	ModeAutomated Mode = "automated"
	ModeHuman     Mode = "human"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeAutomated:
		return ModeAutomated, nil
	case ModeHuman:
		return ModeHuman, nil
	default:
		return "", ErrInvalidMode
	}
}

// Message is one chat message. IDs are opaque and stable across reloads;
// CreatedAt is server-assigned.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           string
	Kind           MessageKind
	AttachmentURL  string
	AttachmentName string
	AttachmentSize int64
	CreatedAt      time.Time
	ReadAt         *time.Time
}

// FromAgent reports whether the message was authored by the automated agent.
func (m Message) FromAgent() bool {
	return m.SenderID == AgentSenderID
}

// Preview returns a short human-readable summary of the message, suitable
// for roster rows and notifications. Attachments collapse to a placeholder.
func (m Message) Preview(max int) string {
	switch m.Kind {
	case KindImage:
		return "[image] " + m.AttachmentName
	case KindFile:
		return "[file] " + m.AttachmentName
	}
	return TrimSnippet(m.Body, max)
}

// TrimSnippet shortens text to at most max runes, appending an ellipsis when
// anything was cut.
func TrimSnippet(text string, max int) string {
	text = strings.TrimSpace(text)
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max]) + "…"
}

// Conversation is a customer-support thread summary as shown in the roster.
// The client mirrors identity and summary fields; it never invents them.
type Conversation struct {
	ID            string
	CustomerID    string
	CustomerName  string
	CustomerEmail string
	Status        Status
	Mode          Mode
	LastMessage   string
	LastMessageAt time.Time
	UnreadCount   int
	CreatedAt     time.Time
}

// Counterpart returns the display name used when addressing the customer,
// falling back to the email and then the customer id.
func (c Conversation) Counterpart() string {
	if name := strings.TrimSpace(c.CustomerName); name != "" {
		return name
	}
	if email := strings.TrimSpace(c.CustomerEmail); email != "" {
		return email
	}
	return c.CustomerID
}
