package sync

import (
	"context"
	"errors"
	"io"
	gosync "sync"
	"testing"
	"time"

	"opschat/internal/api"
	"opschat/internal/domain/chat"
	"opschat/internal/push"
)

// fakeClient implements api.Client with overridable behavior and call
// recording. Zero-value methods succeed with empty results.
type fakeClient struct {
	mu gosync.Mutex

	listConversationsFn func(ctx context.Context) ([]chat.Conversation, error)
	listMessagesFn      func(ctx context.Context, conversationID string, pageSize int, before string) ([]chat.Message, error)
	sendFn              func(ctx context.Context, conversationID string, params api.SendParams) (chat.Message, error)
	markReadFn          func(ctx context.Context, conversationID string) error

	listMessagesCalls []listMessagesCall
	markReadCalls     []string
	callOrder         []string
}

type listMessagesCall struct {
	conversationID string
	pageSize       int
	before         string
}

func (f *fakeClient) record(name string) {
	f.mu.Lock()
	f.callOrder = append(f.callOrder, name)
	f.mu.Unlock()
}

func (f *fakeClient) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	f.record("listConversations")
	if f.listConversationsFn != nil {
		return f.listConversationsFn(ctx)
	}
	return nil, nil
}

func (f *fakeClient) ListMessages(ctx context.Context, conversationID string, pageSize int, before string) ([]chat.Message, error) {
	f.mu.Lock()
	f.listMessagesCalls = append(f.listMessagesCalls, listMessagesCall{conversationID, pageSize, before})
	f.callOrder = append(f.callOrder, "listMessages")
	f.mu.Unlock()
	if f.listMessagesFn != nil {
		return f.listMessagesFn(ctx, conversationID, pageSize, before)
	}
	return nil, nil
}

func (f *fakeClient) SendMessage(ctx context.Context, conversationID string, params api.SendParams) (chat.Message, error) {
	f.record("sendMessage")
	if f.sendFn != nil {
		return f.sendFn(ctx, conversationID, params)
	}
	return chat.Message{}, nil
}

func (f *fakeClient) MarkAllRead(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	f.markReadCalls = append(f.markReadCalls, conversationID)
	f.callOrder = append(f.callOrder, "markAllRead")
	f.mu.Unlock()
	if f.markReadFn != nil {
		return f.markReadFn(ctx, conversationID)
	}
	return nil
}

func (f *fakeClient) UpdateConversationStatus(ctx context.Context, conversationID string, status chat.Status) (chat.Conversation, error) {
	return chat.Conversation{}, nil
}

func (f *fakeClient) UpdateConversationMode(ctx context.Context, conversationID string, mode chat.Mode) (chat.Conversation, error) {
	return chat.Conversation{}, nil
}

func (f *fakeClient) DeleteConversation(ctx context.Context, conversationID string) error {
	return nil
}

func (f *fakeClient) UploadAttachment(ctx context.Context, name, contentType string, content io.Reader) (api.Upload, error) {
	return api.Upload{}, nil
}

func (f *fakeClient) markReads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.markReadCalls...)
}

// fakeSubscriber delivers events synchronously to matching subscriptions.
type fakeSubscriber struct {
	mu     gosync.Mutex
	nextID int
	subs   map[int]fakeSubscription
}

type fakeSubscription struct {
	topic  string
	filter push.Filter
	fn     push.EventFunc
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{subs: map[int]fakeSubscription{}}
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, topic string, filter push.Filter, fn push.EventFunc) (push.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.subs[f.nextID] = fakeSubscription{topic: topic, filter: filter, fn: fn}
	return f.nextID, nil
}

func (f *fakeSubscriber) Unsubscribe(handle push.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, handle.(int))
	return nil
}

func (f *fakeSubscriber) OnStatus(fn push.StatusFunc) {}

func (f *fakeSubscriber) Close() error { return nil }

func (f *fakeSubscriber) emit(topic string, ev chat.ChangeEvent) {
	f.mu.Lock()
	var targets []push.EventFunc
	for _, sub := range f.subs {
		if sub.topic == topic && sub.filter.Match(ev.Op) {
			targets = append(targets, sub.fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range targets {
		fn(ev)
	}
}

func (f *fakeSubscriber) topics() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for _, sub := range f.subs {
		out[sub.topic]++
	}
	return out
}

// fakeViewport reports a height proportional to the rendered message count.
type fakeViewport struct {
	session    *Session
	perMessage int
	scrolled   int
}

func (v *fakeViewport) ScrollHeight() int {
	return v.perMessage * len(v.session.Messages())
}

func (v *fakeViewport) ScrollBy(delta int) { v.scrolled += delta }

func newTestSession(t *testing.T, client *fakeClient, sub *fakeSubscriber, opts Options) *Session {
	t.Helper()
	opts.API = client
	opts.Subscriber = sub
	if opts.SelfID == "" {
		opts.SelfID = "admin-1"
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Hour // keep the backstop out of the way
	}
	session, err := NewSession(opts)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(session.Close)
	return session
}

func TestSelectLoadsPageThenMarksRead(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	client.listConversationsFn = func(context.Context) ([]chat.Conversation, error) {
		unread := 3
		if len(client.markReads()) > 0 {
			unread = 0
		}
		return []chat.Conversation{mkConversation("c1", unread, storeEpoch)}, nil
	}
	client.listMessagesFn = func(_ context.Context, conversationID string, _ int, _ string) ([]chat.Message, error) {
		return mkMessages(conversationID, 1, 3), nil
	}

	session := newTestSession(t, client, newFakeSubscriber(), Options{})
	if err := session.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := session.Roster(); len(got) != 1 || got[0].UnreadCount != 3 {
		t.Fatalf("roster before select: %+v", got)
	}

	if err := session.Select(ctx, "c1"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	client.mu.Lock()
	order := append([]string(nil), client.callOrder...)
	client.mu.Unlock()
	sawList, sawMark := -1, -1
	for i, call := range order {
		switch call {
		case "listMessages":
			if sawList < 0 {
				sawList = i
			}
		case "markAllRead":
			sawMark = i
		}
	}
	if sawList < 0 || sawMark < 0 || sawMark < sawList {
		t.Fatalf("call order = %v, want listMessages before markAllRead", order)
	}

	if got := session.Roster(); got[0].UnreadCount != 0 {
		t.Fatalf("unread = %d after mark read, want 0", got[0].UnreadCount)
	}
	for _, msg := range session.Messages() {
		if msg.ReadAt == nil {
			t.Fatalf("message %s not stamped read", msg.ID)
		}
	}
}

func TestBackwardPaginationStopsOnShortPage(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	client.listMessagesFn = func(_ context.Context, conversationID string, pageSize int, before string) ([]chat.Message, error) {
		if before == "" {
			return mkMessages(conversationID, 31, 80), nil // exactly pageSize
		}
		if before != "m31" {
			t.Errorf("cursor = %q, want oldest id m31", before)
		}
		return mkMessages(conversationID, 1, 30), nil
	}

	session := newTestSession(t, client, newFakeSubscriber(), Options{PageSize: 50})
	if err := session.Select(ctx, "c1"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if !session.HasMore() {
		t.Fatalf("full first page should leave hasMore true")
	}

	if err := session.LoadOlder(ctx); err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if session.HasMore() {
		t.Fatalf("short page should clear hasMore")
	}
	if got := len(session.Messages()); got != 80 {
		t.Fatalf("len = %d, want 80", got)
	}

	// Further scroll-to-top events must not trigger another load.
	before := len(client.listMessagesCalls)
	if err := session.LoadOlder(ctx); err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if got := len(client.listMessagesCalls); got != before {
		t.Fatalf("LoadOlder issued a request with hasMore false")
	}
}

func TestLoadOlderKeepsScrollAnchor(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	client.listMessagesFn = func(_ context.Context, conversationID string, pageSize int, before string) ([]chat.Message, error) {
		if before == "" {
			return mkMessages(conversationID, 11, 20), nil
		}
		return mkMessages(conversationID, 1, 10), nil
	}

	viewport := &fakeViewport{perMessage: 24}
	session := newTestSession(t, client, newFakeSubscriber(), Options{PageSize: 10, Viewport: viewport})
	viewport.session = session

	if err := session.Select(ctx, "c1"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := session.LoadOlder(ctx); err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	// Ten messages of height 24 were prepended above the anchor.
	if viewport.scrolled != 240 {
		t.Fatalf("scrolled = %d, want 240", viewport.scrolled)
	}
}

func TestStaleResponseDiscarded(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{})
	client := &fakeClient{}
	client.listMessagesFn = func(_ context.Context, conversationID string, _ int, _ string) ([]chat.Message, error) {
		if conversationID == "c1" {
			close(started)
			<-release // hold c1's response until c2 is selected
			return mkMessages("c1", 1, 5), nil
		}
		return mkMessages("c2", 101, 103), nil
	}

	session := newTestSession(t, client, newFakeSubscriber(), Options{})

	done := make(chan error, 1)
	go func() { done <- session.Select(ctx, "c1") }()
	<-started

	if err := session.Select(ctx, "c2"); err != nil {
		t.Fatalf("Select c2: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Select c1: %v", err)
	}

	if session.Current() != "c2" {
		t.Fatalf("current = %q, want c2", session.Current())
	}
	assertIDs(t, session.Messages(), "m101", "m102", "m103")
}

func TestLiveInsertForUnfocusedConversation(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	client.listConversationsFn = func(context.Context) ([]chat.Conversation, error) {
		return []chat.Conversation{
			mkConversation("c1", 0, storeEpoch),
			mkConversation("c2", 0, storeEpoch.Add(time.Minute)),
		}, nil
	}
	client.listMessagesFn = func(_ context.Context, conversationID string, _ int, _ string) ([]chat.Message, error) {
		return mkMessages(conversationID, 201, 203), nil
	}

	sub := newFakeSubscriber()
	notifier := &fakeNotifier{granted: true}
	session := newTestSession(t, client, sub, Options{Privileged: true, Notifier: notifier})
	if err := session.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := session.Select(ctx, "c2"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	insert := mkMessage("c1", 300)
	sub.emit(push.RosterTopic, chat.ChangeEvent{
		Op:             chat.OpInsert,
		ConversationID: "c1",
		MessageID:      insert.ID,
		Message:        &insert,
	})

	// c2's store must be untouched.
	assertIDs(t, session.Messages(), "m201", "m202", "m203")

	var c1 chat.Conversation
	for _, conv := range session.Roster() {
		if conv.ID == "c1" {
			c1 = conv
		}
	}
	if c1.UnreadCount != 1 {
		t.Fatalf("c1 unread = %d, want 1", c1.UnreadCount)
	}
	if len(notifier.titles) != 1 || notifier.titles[0] != "Customer c1" {
		t.Fatalf("notifications = %v, want one naming c1's counterpart", notifier.titles)
	}
}

func TestLiveInsertForFocusedConversationIsSilent(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	client.listMessagesFn = func(_ context.Context, conversationID string, _ int, _ string) ([]chat.Message, error) {
		return mkMessages(conversationID, 1, 2), nil
	}

	sub := newFakeSubscriber()
	notifier := &fakeNotifier{granted: true}
	session := newTestSession(t, client, sub, Options{Notifier: notifier})
	if err := session.Select(ctx, "c1"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	insert := mkMessage("c1", 3)
	sub.emit(push.MessagesTopic("c1"), chat.ChangeEvent{
		Op:             chat.OpInsert,
		ConversationID: "c1",
		MessageID:      insert.ID,
		Message:        &insert,
	})

	assertIDs(t, session.Messages(), "m1", "m2", "m3")
	if len(notifier.titles) != 0 {
		t.Fatalf("focused conversation produced a notification")
	}
	// The echo of the same event (e.g. via the global channel) must dedup.
	sub.emit(push.MessagesTopic("c1"), chat.ChangeEvent{
		Op:             chat.OpInsert,
		ConversationID: "c1",
		MessageID:      insert.ID,
		Message:        &insert,
	})
	assertIDs(t, session.Messages(), "m1", "m2", "m3")
}

func TestSelectTearsDownPreviousChannels(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	sub := newFakeSubscriber()
	session := newTestSession(t, client, sub, Options{})

	if err := session.Select(ctx, "c1"); err != nil {
		t.Fatalf("Select c1: %v", err)
	}
	if err := session.Select(ctx, "c2"); err != nil {
		t.Fatalf("Select c2: %v", err)
	}

	topics := sub.topics()
	if topics[push.MessagesTopic("c1")] != 0 || topics[push.ConversationTopic("c1")] != 0 {
		t.Fatalf("c1 channels still open: %v", topics)
	}
	if topics[push.MessagesTopic("c2")] != 1 || topics[push.ConversationTopic("c2")] != 1 {
		t.Fatalf("c2 channels not open exactly once: %v", topics)
	}
}

func TestFailedSelectStillTearsDownPreviousChannels(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	client.listConversationsFn = func(context.Context) ([]chat.Conversation, error) {
		return []chat.Conversation{
			mkConversation("c1", 0, storeEpoch),
			mkConversation("c2", 0, storeEpoch.Add(time.Minute)),
		}, nil
	}
	client.listMessagesFn = func(_ context.Context, conversationID string, _ int, _ string) ([]chat.Message, error) {
		if conversationID == "c2" {
			return nil, errors.New("backend unavailable")
		}
		return mkMessages(conversationID, 1, 3), nil
	}

	sub := newFakeSubscriber()
	notifier := &fakeNotifier{granted: true}
	session := newTestSession(t, client, sub, Options{Privileged: true, Notifier: notifier})
	if err := session.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := session.Select(ctx, "c1"); err != nil {
		t.Fatalf("Select c1: %v", err)
	}
	if err := session.Select(ctx, "c2"); err == nil {
		t.Fatalf("Select c2 should surface the load failure")
	}

	topics := sub.topics()
	if topics[push.MessagesTopic("c1")] != 0 || topics[push.ConversationTopic("c1")] != 0 {
		t.Fatalf("c1 channels survived a failed switch: %v", topics)
	}

	// One c1 insert arrives the way the hub fans it out: on the message
	// topic and on the roster topic. Only the global channel remains, so
	// it must count and notify exactly once.
	insert := mkMessage("c1", 10)
	ev := chat.ChangeEvent{
		Op:             chat.OpInsert,
		ConversationID: "c1",
		MessageID:      insert.ID,
		Message:        &insert,
	}
	sub.emit(push.MessagesTopic("c1"), ev)
	sub.emit(push.RosterTopic, ev)

	var c1 chat.Conversation
	for _, conv := range session.Roster() {
		if conv.ID == "c1" {
			c1 = conv
		}
	}
	if c1.UnreadCount != 1 {
		t.Fatalf("c1 unread = %d after one message, want 1", c1.UnreadCount)
	}
	if len(notifier.titles) != 1 {
		t.Fatalf("notifications = %v, want exactly one", notifier.titles)
	}
}

func TestConversationDeleteEventClosesOpenThread(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	client.listConversationsFn = func(context.Context) ([]chat.Conversation, error) {
		return []chat.Conversation{mkConversation("c1", 0, storeEpoch)}, nil
	}
	sub := newFakeSubscriber()
	session := newTestSession(t, client, sub, Options{})
	if err := session.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := session.Select(ctx, "c1"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	sub.emit(push.ConversationTopic("c1"), chat.ChangeEvent{Op: chat.OpDelete, ConversationID: "c1"})

	if session.Current() != "" {
		t.Fatalf("deleted conversation still selected")
	}
	if len(session.Roster()) != 0 {
		t.Fatalf("deleted conversation still listed")
	}
}

func TestReadTrackingExactlyOncePerFocusBurst(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	client := &fakeClient{}
	client.listMessagesFn = func(_ context.Context, conversationID string, _ int, _ string) ([]chat.Message, error) {
		return mkMessages(conversationID, 1, 2), nil
	}
	client.markReadFn = func(context.Context, string) error {
		<-release
		return nil
	}

	session := newTestSession(t, client, newFakeSubscriber(), Options{})

	done := make(chan struct{}, 2)
	go func() { _ = session.Select(ctx, "c1"); done <- struct{}{} }()

	// Wait for the first markAllRead call to be in flight.
	deadline := time.After(2 * time.Second)
	for len(client.markReads()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("markAllRead never issued")
		case <-time.After(time.Millisecond):
		}
	}

	go func() { session.Refocus(ctx); done <- struct{}{} }()
	// The refocus must be refused by the in-flight guard, not queued.
	<-done
	close(release)
	<-done

	if got := client.markReads(); len(got) != 1 {
		t.Fatalf("markAllRead calls = %v, want exactly one", got)
	}
}
