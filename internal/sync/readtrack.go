package sync

import (
	"context"
	"log/slog"
	gosync "sync"

	"opschat/internal/api"
)

// ReadTracker marks a conversation's unread messages as read, at most once
// per focus event. A per-conversation in-flight flag guarantees a single
// outstanding network call; concurrent attempts are refused rather than
// queued. Failures are logged only; read tracking never blocks the UI.
type ReadTracker struct {
	api    api.Client
	logger *slog.Logger

	mu       gosync.Mutex
	inflight map[string]bool
}

// NewReadTracker builds a tracker over the given API client.
func NewReadTracker(client api.Client, logger *slog.Logger) *ReadTracker {
	return &ReadTracker{api: client, logger: logger, inflight: map[string]bool{}}
}

// MarkAllRead issues one mark-read call for the conversation. Returns false
// without calling the backend when a call for the same conversation is
// already outstanding. The returned error is informational: callers degrade
// silently on failure.
func (t *ReadTracker) MarkAllRead(ctx context.Context, conversationID string) (bool, error) {
	t.mu.Lock()
	if t.inflight[conversationID] {
		t.mu.Unlock()
		return false, nil
	}
	t.inflight[conversationID] = true
	t.mu.Unlock()

	err := t.api.MarkAllRead(ctx, conversationID)

	t.mu.Lock()
	delete(t.inflight, conversationID)
	t.mu.Unlock()

	if err != nil {
		if t.logger != nil {
			t.logger.Warn("mark read failed", "conversation_id", conversationID, "error", err)
		}
		return true, err
	}
	return true, nil
}
