// Package sync implements the client-side live-message synchronization
// engine: an ordered deduplicated message store, a conversation roster, a
// live update channel, scroll-anchored backward pagination, read tracking,
// and a notification gate, all serialized behind a single session.
package sync

import (
	"sort"
	"time"

	"opschat/internal/domain/chat"
)

// MessageStore holds the ordered, deduplicated message sequence for one open
// conversation. Entries are sorted by CreatedAt ascending; ids are unique.
// Stores for different conversations never merge entries; switching
// conversations replaces the store wholesale.
type MessageStore struct {
	conversationID string
	pageSize       int
	messages       []chat.Message
	present        map[string]struct{}
	hasMore        bool
}

// NewMessageStore builds an empty store bound to one conversation.
func NewMessageStore(conversationID string, pageSize int) *MessageStore {
	if pageSize <= 0 {
		pageSize = chat.DefaultPageSize
	}
	return &MessageStore{
		conversationID: conversationID,
		pageSize:       pageSize,
		present:        map[string]struct{}{},
	}
}

// ConversationID returns the conversation this store belongs to.
func (s *MessageStore) ConversationID() string { return s.conversationID }

// HasMore reports whether older history may still exist: true when the most
// recently loaded page came back exactly full-sized.
func (s *MessageStore) HasMore() bool { return s.hasMore }

// Len returns the number of messages currently held.
func (s *MessageStore) Len() int { return len(s.messages) }

// Messages returns a copy of the current sequence, oldest first.
func (s *MessageStore) Messages() []chat.Message {
	return append([]chat.Message(nil), s.messages...)
}

// Oldest returns the first message of the sequence, used as the backward
// pagination cursor.
func (s *MessageStore) Oldest() (chat.Message, bool) {
	if len(s.messages) == 0 {
		return chat.Message{}, false
	}
	return s.messages[0], true
}

// Newest returns the last message of the sequence.
func (s *MessageStore) Newest() (chat.Message, bool) {
	if len(s.messages) == 0 {
		return chat.Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Reset clears the sequence.
func (s *MessageStore) Reset() {
	s.messages = nil
	s.present = map[string]struct{}{}
	s.hasMore = false
}

// LoadInitialPage replaces the sequence with an ascending-sorted,
// deduplicated copy of the given page.
func (s *MessageStore) LoadInitialPage(page []chat.Message) {
	s.Reset()
	for _, msg := range page {
		if _, dup := s.present[msg.ID]; dup {
			continue
		}
		s.present[msg.ID] = struct{}{}
		s.messages = append(s.messages, msg)
	}
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].CreatedAt.Before(s.messages[j].CreatedAt)
	})
	s.hasMore = len(page) == s.pageSize
}

// PrependOlderPage merges an older page in front of the current sequence.
// Messages whose id is already present are dropped; relative order inside the
// page is preserved. Returns how many entries were actually added.
func (s *MessageStore) PrependOlderPage(page []chat.Message) int {
	fresh := make([]chat.Message, 0, len(page))
	for _, msg := range page {
		if _, dup := s.present[msg.ID]; dup {
			continue
		}
		s.present[msg.ID] = struct{}{}
		fresh = append(fresh, msg)
	}
	if len(fresh) > 0 {
		s.messages = append(fresh, s.messages...)
	}
	s.hasMore = len(page) == s.pageSize
	return len(fresh)
}

// ApplyInsert appends the message if its id is not already present. Live
// inserts are appended at the tail even when CreatedAt is older than the
// current newest entry: ordering of live events is trusted to the server
// (see the transport-ordering assumption), not re-sorted client-side.
func (s *MessageStore) ApplyInsert(msg chat.Message) bool {
	if _, dup := s.present[msg.ID]; dup {
		return false
	}
	s.present[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)
	return true
}

// ApplyUpdate replaces the entry with a matching id in place; no-op when the
// id is absent.
func (s *MessageStore) ApplyUpdate(msg chat.Message) bool {
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			s.messages[i] = msg
			return true
		}
	}
	return false
}

// ApplyDelete removes the entry with the given id; no-op when absent.
func (s *MessageStore) ApplyDelete(id string) bool {
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			delete(s.present, id)
			return true
		}
	}
	return false
}

// StampRead sets ReadAt to the given time on every message that lacks it.
// Used after a successful mark-all-read acknowledgement.
func (s *MessageStore) StampRead(at time.Time) int {
	stamped := 0
	for i := range s.messages {
		if s.messages[i].ReadAt == nil {
			readAt := at
			s.messages[i].ReadAt = &readAt
			stamped++
		}
	}
	return stamped
}
