package sync

import (
	"log/slog"
	gosync "sync"

	"opschat/internal/domain/chat"
)

// Notifier is the platform alert surface. RequestPermission defers to the
// platform's native prompt; Notify shows one alert.
type Notifier interface {
	RequestPermission() bool
	Notify(title, body string)
}

// NotificationGate decides whether an incoming insert should produce a
// user-visible alert. Permission is requested at most once per session; the
// requested flag never reverts.
type NotificationGate struct {
	notifier Notifier
	selfID   string
	logger   *slog.Logger

	mu        gosync.Mutex
	requested bool
	granted   bool
}

// NewNotificationGate builds a gate for the given viewer.
func NewNotificationGate(notifier Notifier, selfID string, logger *slog.Logger) *NotificationGate {
	return &NotificationGate{notifier: notifier, selfID: selfID, logger: logger}
}

// Offer considers one inserted message. Suppressed when the viewer authored
// it, when its conversation is the one currently focused, or when permission
// was denied. counterpart is the display name shown in the alert title.
func (g *NotificationGate) Offer(msg chat.Message, focusedConversationID, counterpart string) bool {
	if g == nil || g.notifier == nil {
		return false
	}
	if msg.SenderID == g.selfID {
		return false
	}
	if msg.ConversationID == focusedConversationID {
		return false
	}
	if !g.permissionGranted() {
		return false
	}
	g.notifier.Notify(counterpart, msg.Preview(80))
	return true
}

func (g *NotificationGate) permissionGranted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.requested {
		g.requested = true
		g.granted = g.notifier.RequestPermission()
		if !g.granted && g.logger != nil {
			g.logger.Debug("notification permission denied")
		}
	}
	return g.granted
}
