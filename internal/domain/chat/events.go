package chat

// Op identifies the row-level change carried by a ChangeEvent.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ChangeEvent is the single event shape flowing from the backend to live
// subscribers: a message change, a conversation change, or both IDs for a
// delete. Exactly one of Message/Conversation is set for insert/update.
type ChangeEvent struct {
	Op             Op
	ConversationID string
	MessageID      string
	Message        *Message
	Conversation   *Conversation
}

// IsMessage reports whether the event targets a message row (as opposed to a
// conversation summary row). Delete events carry no payload, so the message
// id is the discriminator there.
func (e ChangeEvent) IsMessage() bool {
	return e.Message != nil || (e.Op == OpDelete && e.MessageID != "")
}
