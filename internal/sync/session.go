package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"opschat/internal/api"
	"opschat/internal/domain/chat"
	"opschat/internal/push"
)

// Viewport is the scroll surface the pagination controller anchors. Heights
// are in whatever unit the view uses; only deltas matter.
type Viewport interface {
	ScrollHeight() int
	ScrollBy(delta int)
}

var (
	ErrNoConversation = errors.New("sync: no conversation selected")
	ErrSendInFlight   = errors.New("sync: a send is already in flight")
)

const defaultPollInterval = 30 * time.Second

// Options configures a Session.
type Options struct {
	API        api.Client
	Subscriber push.Subscriber
	Viewport   Viewport
	Notifier   Notifier
	Logger     *slog.Logger
	SelfID     string
	// Privileged viewers additionally hold a global channel across all
	// conversations to keep the roster fresh and feed the notification gate.
	Privileged   bool
	PageSize     int
	PollInterval time.Duration
}

// Session is the synchronization engine for one chat view: it owns the
// message store for the open conversation, the roster, the live channel, and
// the read/notification controllers. Every entry point (caller methods,
// subscriber callbacks, poll ticks) serializes on one mutex, so state
// transitions behave as if driven by a single event loop.
type Session struct {
	api      api.Client
	channel  *LiveChannel
	viewport Viewport
	gate     *NotificationGate
	reads    *ReadTracker
	logger   *slog.Logger

	selfID       string
	privileged   bool
	pageSize     int
	pollInterval time.Duration

	mu          gosync.Mutex
	gen         uint64
	store       *MessageStore
	roster      *Roster
	loadingMore bool
	sending     bool

	stop     chan struct{}
	stopOnce gosync.Once
}

// NewSession builds a session. API and Subscriber are required.
func NewSession(opts Options) (*Session, error) {
	if opts.API == nil {
		return nil, errors.New("sync: api client is required")
	}
	if opts.Subscriber == nil {
		return nil, errors.New("sync: subscriber is required")
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = chat.DefaultPageSize
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Session{
		api:          opts.API,
		channel:      NewLiveChannel(opts.Subscriber, opts.Logger),
		viewport:     opts.Viewport,
		gate:         NewNotificationGate(opts.Notifier, opts.SelfID, opts.Logger),
		reads:        NewReadTracker(opts.API, opts.Logger),
		logger:       opts.Logger,
		selfID:       opts.SelfID,
		privileged:   opts.Privileged,
		pageSize:     pageSize,
		pollInterval: pollInterval,
		roster:       NewRoster(),
		stop:         make(chan struct{}),
	}, nil
}

// Start loads the roster, opens the global channel for privileged viewers,
// and launches the backstop poll. A failed initial roster load is logged and
// left to the poll: every fetch failure here is transient by contract.
func (s *Session) Start(ctx context.Context) error {
	if err := s.refreshRoster(ctx); err != nil {
		s.logWarn("initial roster load failed", "error", err)
	}
	if s.privileged {
		s.mu.Lock()
		err := s.channel.OpenGlobal(ctx, s.handleEvent)
		s.mu.Unlock()
		if err != nil {
			s.logWarn("global channel open failed", "error", err)
		}
	}
	go s.pollLoop(ctx)
	return nil
}

// Close tears down every live subscription and stops the backstop poll.
func (s *Session) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.channel.Close()
	s.mu.Unlock()
}

// Select switches the session to a conversation: reset the store, load the
// first page, open the live channel, then mark the thread read. A response
// that lands after another Select won is discarded by generation check; the
// stale-response guard replaces request cancellation.
func (s *Session) Select(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	// The previous conversation's channels close on the switch itself, not
	// after the load: a failed page load must not leave them subscribed.
	s.channel.closeConversationChannels()
	s.store = NewMessageStore(conversationID, s.pageSize)
	s.loadingMore = false
	s.mu.Unlock()

	page, err := s.api.ListMessages(ctx, conversationID, s.pageSize, "")
	if err != nil {
		s.logWarn("initial page load failed", "conversation_id", conversationID, "error", err)
		return fmt.Errorf("load messages: %w", err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.logDebug("stale page load discarded", "conversation_id", conversationID)
		return nil
	}
	s.store.LoadInitialPage(page)
	if err := s.channel.Open(ctx, conversationID, s.handleEvent); err != nil {
		// Degraded channel: the backstop poll bounds staleness.
		s.logWarn("live channel open failed", "conversation_id", conversationID, "error", err)
	}
	s.mu.Unlock()

	s.markRead(ctx, conversationID)
	return nil
}

// Refocus re-fires read tracking for the open conversation, used when the
// view regains focus.
func (s *Session) Refocus(ctx context.Context) {
	s.mu.Lock()
	conversationID := s.currentLocked()
	s.mu.Unlock()
	if conversationID == "" {
		return
	}
	s.markRead(ctx, conversationID)
}

// LoadOlder fetches the page preceding the oldest loaded message and
// prepends it, keeping the viewport anchored on the previously visible
// message. Refused while a load is outstanding; a failure leaves hasMore
// untouched so the next scroll-to-top retries.
func (s *Session) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	if s.store == nil {
		s.mu.Unlock()
		return ErrNoConversation
	}
	oldest, ok := s.store.Oldest()
	if !ok || !s.store.HasMore() || s.loadingMore {
		s.mu.Unlock()
		return nil
	}
	gen := s.gen
	conversationID := s.store.ConversationID()
	s.loadingMore = true
	s.mu.Unlock()

	oldHeight := 0
	if s.viewport != nil {
		oldHeight = s.viewport.ScrollHeight()
	}

	page, err := s.api.ListMessages(ctx, conversationID, s.pageSize, oldest.ID)

	s.mu.Lock()
	s.loadingMore = false
	if err != nil {
		s.mu.Unlock()
		s.logWarn("older page load failed", "conversation_id", conversationID, "error", err)
		return nil
	}
	if s.gen != gen {
		s.mu.Unlock()
		s.logDebug("stale older page discarded", "conversation_id", conversationID)
		return nil
	}
	s.store.PrependOlderPage(page)
	s.mu.Unlock()

	if s.viewport != nil {
		s.viewport.ScrollBy(s.viewport.ScrollHeight() - oldHeight)
	}
	return nil
}

// Send posts a message to the open conversation. Failures are returned to
// the caller for a single user-visible alert; the sending flag is cleared
// either way so the user can retry.
func (s *Session) Send(ctx context.Context, params api.SendParams) (chat.Message, error) {
	s.mu.Lock()
	conversationID := s.currentLocked()
	if conversationID == "" {
		s.mu.Unlock()
		return chat.Message{}, ErrNoConversation
	}
	if s.sending {
		s.mu.Unlock()
		return chat.Message{}, ErrSendInFlight
	}
	gen := s.gen
	s.sending = true
	s.mu.Unlock()

	msg, err := s.api.SendMessage(ctx, conversationID, params)

	s.mu.Lock()
	s.sending = false
	if err != nil {
		s.mu.Unlock()
		return chat.Message{}, fmt.Errorf("send message: %w", err)
	}
	if s.gen == gen && s.store != nil {
		// The live channel echoes the insert; ApplyInsert dedups by id.
		s.store.ApplyInsert(msg)
		s.roster.RecordMessage(msg, false)
	}
	s.mu.Unlock()
	return msg, nil
}

// Current returns the id of the open conversation, empty when none.
func (s *Session) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

// Messages returns a copy of the open conversation's message sequence.
func (s *Session) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	return s.store.Messages()
}

// HasMore reports whether older history may remain for the open conversation.
func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store != nil && s.store.HasMore()
}

// Roster returns the conversation summaries, most recent activity first.
func (s *Session) Roster() []chat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster.Conversations()
}

func (s *Session) currentLocked() string {
	if s.store == nil {
		return ""
	}
	return s.store.ConversationID()
}

// markRead is the read-tracking entry point: at most one outstanding call per
// conversation; on success, local messages are stamped, the unread badge is
// cleared, and the roster silently refreshed.
func (s *Session) markRead(ctx context.Context, conversationID string) {
	started, err := s.reads.MarkAllRead(ctx, conversationID)
	if !started || err != nil {
		return
	}
	now := time.Now().UTC()
	s.mu.Lock()
	if s.store != nil && s.store.ConversationID() == conversationID {
		s.store.StampRead(now)
	}
	s.roster.ClearUnread(conversationID)
	s.mu.Unlock()
	if err := s.refreshRoster(ctx); err != nil {
		s.logDebug("post-read roster refresh failed", "error", err)
	}
}

// refreshRoster reloads the roster snapshot. Silent by contract: no loading
// state, no user-visible error.
func (s *Session) refreshRoster(ctx context.Context) error {
	conversations, err := s.api.ListConversations(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.roster.Replace(conversations)
	s.mu.Unlock()
	return nil
}

// pollLoop is the backstop poll: a low-frequency roster reload bounding
// staleness when the push channel is degraded. It only ever touches roster
// summaries, never the open message store.
func (s *Session) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.refreshRoster(ctx); err != nil {
				s.logDebug("backstop roster poll failed", "error", err)
			}
		}
	}
}

// handleEvent dispatches one live change event. Message events for the
// focused conversation mutate the store; everything else is roster
// bookkeeping plus the notification gate.
func (s *Session) handleEvent(ev chat.ChangeEvent) {
	s.mu.Lock()
	focused := s.currentLocked()

	if ev.IsMessage() {
		if focused != "" && ev.ConversationID == focused {
			switch ev.Op {
			case chat.OpInsert:
				if ev.Message != nil {
					s.store.ApplyInsert(*ev.Message)
					s.roster.RecordMessage(*ev.Message, false)
				}
			case chat.OpUpdate:
				if ev.Message != nil {
					s.store.ApplyUpdate(*ev.Message)
				}
			case chat.OpDelete:
				s.store.ApplyDelete(ev.MessageID)
			}
			s.mu.Unlock()
			return
		}
		if ev.Op == chat.OpInsert && ev.Message != nil {
			msg := *ev.Message
			s.roster.RecordMessage(msg, msg.SenderID != s.selfID)
			counterpart := ev.ConversationID
			if conv, ok := s.roster.Get(ev.ConversationID); ok {
				counterpart = conv.Counterpart()
			}
			s.mu.Unlock()
			s.gate.Offer(msg, focused, counterpart)
			return
		}
		s.mu.Unlock()
		return
	}

	switch ev.Op {
	case chat.OpInsert, chat.OpUpdate:
		if ev.Conversation != nil {
			s.roster.Upsert(*ev.Conversation)
		}
	case chat.OpDelete:
		s.roster.Remove(ev.ConversationID)
		if focused == ev.ConversationID {
			s.gen++
			s.store = nil
			s.channel.closeConversationChannels()
		}
	}
	s.mu.Unlock()
}

func (s *Session) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Session) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
