// Package push abstracts the live-update subscription channel: topics carry
// row-level change events, handles identify subscriptions, and status
// callbacks report transport health.
package push

import (
	"context"

	"opschat/internal/domain/chat"
)

// Status is a connection-state transition reported by a Subscriber.
type Status string

const (
	StatusSubscribed Status = "subscribed"
	StatusError      Status = "error"
	StatusTimedOut   Status = "timed_out"
	StatusClosed     Status = "closed"
)

// Handle identifies one active subscription. It is opaque to callers and
// owned by the Subscriber that issued it.
type Handle interface{}

// Filter restricts which operations a subscription receives. An empty Ops
// slice means all operations.
type Filter struct {
	Ops []chat.Op
}

// Match reports whether the filter admits the given operation.
func (f Filter) Match(op chat.Op) bool {
	if len(f.Ops) == 0 {
		return true
	}
	for _, candidate := range f.Ops {
		if candidate == op {
			return true
		}
	}
	return false
}

// EventFunc receives change events for one subscription. Callbacks for a
// single topic are invoked in delivery order.
type EventFunc func(chat.ChangeEvent)

// StatusFunc observes connection-state transitions.
type StatusFunc func(Status)

// Subscriber is the push-subscription API. Implementations deliver events for
// a topic until the handle is unsubscribed or the subscriber is closed.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, filter Filter, fn EventFunc) (Handle, error)
	Unsubscribe(handle Handle) error
	OnStatus(fn StatusFunc)
	Close() error
}

// RosterTopic observes inserts and updates across all conversations. It is
// restricted to privileged viewers.
const RosterTopic = "conversations"

// MessagesTopic names the per-conversation message event stream.
func MessagesTopic(conversationID string) string {
	return "conversation:" + conversationID + ":messages"
}

// ConversationTopic names the per-conversation summary event stream.
func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}
