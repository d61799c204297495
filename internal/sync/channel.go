package sync

import (
	"context"
	"fmt"
	"log/slog"

	"opschat/internal/domain/chat"
	"opschat/internal/push"
)

// LiveChannel owns the push subscriptions for the session: at most one
// message channel and one conversation channel for the open conversation,
// plus an optional global channel for privileged viewers. Handles are opaque
// and never leave this type.
type LiveChannel struct {
	sub    push.Subscriber
	logger *slog.Logger

	messages     push.Handle
	conversation push.Handle
	global       push.Handle
}

// NewLiveChannel wraps a subscriber. Status transitions are logged and
// otherwise ignored: the backstop poll, not channel retries, bounds
// staleness when the transport degrades.
func NewLiveChannel(sub push.Subscriber, logger *slog.Logger) *LiveChannel {
	ch := &LiveChannel{sub: sub, logger: logger}
	sub.OnStatus(func(status push.Status) {
		if logger != nil && status != push.StatusSubscribed {
			logger.Warn("live channel degraded", "status", status)
		}
	})
	return ch
}

// Open subscribes to one conversation's message and summary streams, tearing
// down any previously open pair first.
func (ch *LiveChannel) Open(ctx context.Context, conversationID string, fn push.EventFunc) error {
	ch.closeConversationChannels()

	messages, err := ch.sub.Subscribe(ctx, push.MessagesTopic(conversationID), push.Filter{}, fn)
	if err != nil {
		return fmt.Errorf("subscribe messages: %w", err)
	}
	conversation, err := ch.sub.Subscribe(ctx, push.ConversationTopic(conversationID), push.Filter{
		Ops: []chat.Op{chat.OpUpdate, chat.OpDelete},
	}, fn)
	if err != nil {
		ch.unsubscribe(messages)
		return fmt.Errorf("subscribe conversation: %w", err)
	}
	ch.messages = messages
	ch.conversation = conversation
	return nil
}

// OpenGlobal subscribes to inserts and updates across all conversations.
// Used solely to keep the roster fresh and feed the notification gate for
// conversations that are not currently focused.
func (ch *LiveChannel) OpenGlobal(ctx context.Context, fn push.EventFunc) error {
	if ch.global != nil {
		ch.unsubscribe(ch.global)
		ch.global = nil
	}
	global, err := ch.sub.Subscribe(ctx, push.RosterTopic, push.Filter{}, fn)
	if err != nil {
		return fmt.Errorf("subscribe roster: %w", err)
	}
	ch.global = global
	return nil
}

// Close releases every open subscription.
func (ch *LiveChannel) Close() {
	ch.closeConversationChannels()
	if ch.global != nil {
		ch.unsubscribe(ch.global)
		ch.global = nil
	}
}

func (ch *LiveChannel) closeConversationChannels() {
	if ch.messages != nil {
		ch.unsubscribe(ch.messages)
		ch.messages = nil
	}
	if ch.conversation != nil {
		ch.unsubscribe(ch.conversation)
		ch.conversation = nil
	}
}

func (ch *LiveChannel) unsubscribe(handle push.Handle) {
	if err := ch.sub.Unsubscribe(handle); err != nil && ch.logger != nil {
		ch.logger.Debug("unsubscribe failed", "error", err)
	}
}
