package dto

import (
	"time"

	"opschat/internal/domain/chat"
)

// Conversation describes a support thread summary.
type Conversation struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customer_id"`
	CustomerName  string    `json:"customer_name,omitempty"`
	CustomerEmail string    `json:"customer_email,omitempty"`
	Status        string    `json:"status"`
	Mode          string    `json:"mode"`
	LastMessage   string    `json:"last_message,omitempty"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
	UnreadCount   int       `json:"unread_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// ConversationList is the roster payload.
type ConversationList struct {
	Items []Conversation `json:"items"`
}

// ChatMessage contains a single message payload.
type ChatMessage struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Body           string     `json:"body"`
	Kind           string     `json:"kind"`
	AttachmentURL  string     `json:"attachment_url,omitempty"`
	AttachmentName string     `json:"attachment_name,omitempty"`
	AttachmentSize int64      `json:"attachment_size,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

// ChatMessageList is one page of messages, ordered oldest to newest.
type ChatMessageList struct {
	Items []ChatMessage `json:"items"`
}

// SendMessageRequest is the body of a message post.
type SendMessageRequest struct {
	Body           string `json:"body"`
	Kind           string `json:"kind,omitempty"`
	AttachmentURL  string `json:"attachment_url,omitempty"`
	AttachmentName string `json:"attachment_name,omitempty"`
	AttachmentSize int64  `json:"attachment_size,omitempty"`
}

// Upload is the result of storing an attachment.
type Upload struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Kind string `json:"kind"`
}

// ChangeEvent is the wire shape of a row-level change, shared by the broker
// topic and the websocket push protocol.
type ChangeEvent struct {
	Op             string        `json:"op"`
	ConversationID string        `json:"conversation_id"`
	MessageID      string        `json:"message_id,omitempty"`
	Message        *ChatMessage  `json:"message,omitempty"`
	Conversation   *Conversation `json:"conversation,omitempty"`
}

// FromMessage maps a domain message to its wire shape.
func FromMessage(msg chat.Message) ChatMessage {
	return ChatMessage{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Body:           msg.Body,
		Kind:           string(msg.Kind),
		AttachmentURL:  msg.AttachmentURL,
		AttachmentName: msg.AttachmentName,
		AttachmentSize: msg.AttachmentSize,
		CreatedAt:      msg.CreatedAt,
		ReadAt:         msg.ReadAt,
	}
}

// ToMessage maps a wire message back to the domain.
func (m ChatMessage) ToMessage() chat.Message {
	kind, err := chat.ParseKind(m.Kind)
	if err != nil {
		kind = chat.KindText
	}
	return chat.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		Kind:           kind,
		AttachmentURL:  m.AttachmentURL,
		AttachmentName: m.AttachmentName,
		AttachmentSize: m.AttachmentSize,
		CreatedAt:      m.CreatedAt,
		ReadAt:         m.ReadAt,
	}
}

// FromConversation maps a domain conversation to its wire shape.
func FromConversation(conv chat.Conversation) Conversation {
	return Conversation{
		ID:            conv.ID,
		CustomerID:    conv.CustomerID,
		CustomerName:  conv.CustomerName,
		CustomerEmail: conv.CustomerEmail,
		Status:        string(conv.Status),
		Mode:          string(conv.Mode),
		LastMessage:   conv.LastMessage,
		LastMessageAt: conv.LastMessageAt,
		UnreadCount:   conv.UnreadCount,
		CreatedAt:     conv.CreatedAt,
	}
}

// ToConversation maps a wire conversation back to the domain.
func (c Conversation) ToConversation() chat.Conversation {
	status, err := chat.ParseStatus(c.Status)
	if err != nil {
		status = chat.StatusActive
	}
	mode, err := chat.ParseMode(c.Mode)
	if err != nil {
		mode = chat.ModeHuman
	}
	return chat.Conversation{
		ID:            c.ID,
		CustomerID:    c.CustomerID,
		CustomerName:  c.CustomerName,
		CustomerEmail: c.CustomerEmail,
		Status:        status,
		Mode:          mode,
		LastMessage:   c.LastMessage,
		LastMessageAt: c.LastMessageAt,
		UnreadCount:   c.UnreadCount,
		CreatedAt:     c.CreatedAt,
	}
}

// FromChangeEvent maps a domain change event to the wire.
func FromChangeEvent(ev chat.ChangeEvent) ChangeEvent {
	out := ChangeEvent{
		Op:             string(ev.Op),
		ConversationID: ev.ConversationID,
		MessageID:      ev.MessageID,
	}
	if ev.Message != nil {
		msg := FromMessage(*ev.Message)
		out.Message = &msg
	}
	if ev.Conversation != nil {
		conv := FromConversation(*ev.Conversation)
		out.Conversation = &conv
	}
	return out
}

// ToChangeEvent maps a wire change event back to the domain.
func (e ChangeEvent) ToChangeEvent() chat.ChangeEvent {
	out := chat.ChangeEvent{
		Op:             chat.Op(e.Op),
		ConversationID: e.ConversationID,
		MessageID:      e.MessageID,
	}
	if e.Message != nil {
		msg := e.Message.ToMessage()
		out.Message = &msg
		if out.MessageID == "" {
			out.MessageID = msg.ID
		}
	}
	if e.Conversation != nil {
		conv := e.Conversation.ToConversation()
		out.Conversation = &conv
	}
	return out
}
