package sync

import (
	"sort"
	"time"

	"opschat/internal/domain/chat"
)

// Roster is the list of conversation summaries shown in the sidebar. It is
// fed by two independent producers, the periodic reload and the live update
// channel, both funneled through idempotent merge-by-id operations, so the
// two never need reconciliation beyond last-writer-wins per row.
type Roster struct {
	rows map[string]chat.Conversation
}

// NewRoster builds an empty roster.
func NewRoster() *Roster {
	return &Roster{rows: map[string]chat.Conversation{}}
}

// Replace swaps the whole roster for a freshly loaded snapshot.
func (r *Roster) Replace(conversations []chat.Conversation) {
	r.rows = make(map[string]chat.Conversation, len(conversations))
	for _, conv := range conversations {
		r.rows[conv.ID] = conv
	}
}

// Get returns the summary row for a conversation.
func (r *Roster) Get(id string) (chat.Conversation, bool) {
	conv, ok := r.rows[id]
	return conv, ok
}

// Upsert inserts or overwrites one summary row.
func (r *Roster) Upsert(conv chat.Conversation) {
	r.rows[conv.ID] = conv
}

// Remove drops a conversation from the roster; no-op when absent.
func (r *Roster) Remove(id string) {
	delete(r.rows, id)
}

// RecordMessage refreshes the denormalized last-message fields for a
// conversation and, when countUnread is set, bumps its unread counter.
// Unknown conversations are ignored: identity is mirrored from the backend,
// never invented, and the next roster reload will pick the row up.
func (r *Roster) RecordMessage(msg chat.Message, countUnread bool) {
	conv, ok := r.rows[msg.ConversationID]
	if !ok {
		return
	}
	conv.LastMessage = msg.Preview(120)
	conv.LastMessageAt = msg.CreatedAt
	if countUnread {
		conv.UnreadCount++
	}
	r.rows[msg.ConversationID] = conv
}

// ClearUnread zeroes the unread counter for a conversation. Called after a
// successful read-tracking acknowledgement.
func (r *Roster) ClearUnread(id string) {
	if conv, ok := r.rows[id]; ok {
		conv.UnreadCount = 0
		r.rows[id] = conv
	}
}

// Len returns the number of conversations currently listed.
func (r *Roster) Len() int { return len(r.rows) }

// Conversations returns the roster ordered by most recent activity first.
func (r *Roster) Conversations() []chat.Conversation {
	out := make([]chat.Conversation, 0, len(r.rows))
	for _, conv := range r.rows {
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool {
		return lastActivity(out[i]).After(lastActivity(out[j]))
	})
	return out
}

func lastActivity(conv chat.Conversation) time.Time {
	if conv.LastMessageAt.IsZero() {
		return conv.CreatedAt
	}
	return conv.LastMessageAt
}
