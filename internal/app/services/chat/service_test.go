package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	domainchat "opschat/internal/domain/chat"
)

type fakeConversations struct {
	rows map[string]domainchat.Conversation
}

func newFakeConversations(rows ...domainchat.Conversation) *fakeConversations {
	f := &fakeConversations{rows: map[string]domainchat.Conversation{}}
	for _, row := range rows {
		f.rows[row.ID] = row
	}
	return f
}

func (f *fakeConversations) List(_ context.Context, customerID string) ([]domainchat.Conversation, error) {
	out := make([]domainchat.Conversation, 0, len(f.rows))
	for _, row := range f.rows {
		if customerID == "" || row.CustomerID == customerID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeConversations) Get(_ context.Context, id string) (domainchat.Conversation, error) {
	row, ok := f.rows[id]
	if !ok {
		return domainchat.Conversation{}, domainchat.ErrConversationGone
	}
	return row, nil
}

func (f *fakeConversations) GetOrCreateForCustomer(_ context.Context, customerID, name, email string) (domainchat.Conversation, bool, error) {
	for _, row := range f.rows {
		if row.CustomerID == customerID && row.Status == domainchat.StatusActive {
			return row, false, nil
		}
	}
	row := domainchat.Conversation{
		ID:           "conv-" + customerID,
		CustomerID:   customerID,
		CustomerName: name, CustomerEmail: email,
		Status: domainchat.StatusActive,
		Mode:   domainchat.ModeAutomated,
	}
	f.rows[row.ID] = row
	return row, true, nil
}

func (f *fakeConversations) RecordMessage(_ context.Context, id, preview string, at time.Time, countUnread bool) (domainchat.Conversation, error) {
	row, ok := f.rows[id]
	if !ok {
		return domainchat.Conversation{}, domainchat.ErrConversationGone
	}
	row.LastMessage = preview
	row.LastMessageAt = at
	if countUnread {
		row.UnreadCount++
	}
	f.rows[id] = row
	return row, nil
}

func (f *fakeConversations) ClearUnread(_ context.Context, id string) (domainchat.Conversation, error) {
	row, ok := f.rows[id]
	if !ok {
		return domainchat.Conversation{}, domainchat.ErrConversationGone
	}
	row.UnreadCount = 0
	f.rows[id] = row
	return row, nil
}

func (f *fakeConversations) SetStatus(_ context.Context, id string, status domainchat.Status) (domainchat.Conversation, error) {
	row, ok := f.rows[id]
	if !ok {
		return domainchat.Conversation{}, domainchat.ErrConversationGone
	}
	row.Status = status
	f.rows[id] = row
	return row, nil
}

func (f *fakeConversations) SetMode(_ context.Context, id string, mode domainchat.Mode) (domainchat.Conversation, error) {
	row, ok := f.rows[id]
	if !ok {
		return domainchat.Conversation{}, domainchat.ErrConversationGone
	}
	row.Mode = mode
	f.rows[id] = row
	return row, nil
}

func (f *fakeConversations) Delete(_ context.Context, id string) error {
	if _, ok := f.rows[id]; !ok {
		return domainchat.ErrConversationGone
	}
	delete(f.rows, id)
	return nil
}

type fakeMessages struct {
	log    map[string][]domainchat.Message
	nextID int
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{log: map[string][]domainchat.Message{}}
}

func (f *fakeMessages) Add(_ context.Context, params domainchat.AddMessageParams) (*domainchat.Message, error) {
	f.nextID++
	msg := domainchat.Message{
		ID:             fmt.Sprintf("m%d", f.nextID),
		ConversationID: params.ConversationID,
		SenderID:       params.SenderID,
		Body:           params.Body,
		Kind:           params.Kind,
		AttachmentURL:  params.AttachmentURL,
		AttachmentName: params.AttachmentName,
		AttachmentSize: params.AttachmentSize,
		CreatedAt:      time.Now().UTC(),
	}
	f.log[params.ConversationID] = append(f.log[params.ConversationID], msg)
	return &msg, nil
}

func (f *fakeMessages) List(_ context.Context, conversationID string, limit int, before string) ([]domainchat.Message, error) {
	all := f.log[conversationID]
	end := len(all)
	if before != "" {
		for i, msg := range all {
			if msg.ID == before {
				end = i
				break
			}
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return append([]domainchat.Message(nil), all[start:end]...), nil
}

func (f *fakeMessages) MarkUnreadRead(_ context.Context, conversationID string, at time.Time) ([]domainchat.Message, error) {
	stamped := make([]domainchat.Message, 0)
	for i, msg := range f.log[conversationID] {
		if msg.SenderID == domainchat.AgentSenderID || msg.ReadAt != nil {
			continue
		}
		readAt := at
		f.log[conversationID][i].ReadAt = &readAt
		stamped = append(stamped, f.log[conversationID][i])
	}
	return stamped, nil
}

func (f *fakeMessages) DeleteConversation(_ context.Context, conversationID string) error {
	delete(f.log, conversationID)
	return nil
}

type capturePublisher struct {
	events []domainchat.ChangeEvent
}

func (p *capturePublisher) PublishChange(_ context.Context, ev domainchat.ChangeEvent) error {
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) ops() []domainchat.Op {
	out := make([]domainchat.Op, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Op)
	}
	return out
}

func newTestService(convs *fakeConversations) (*Service, *fakeMessages, *capturePublisher) {
	msgs := newFakeMessages()
	pub := &capturePublisher{}
	return &Service{Conversations: convs, Messages: msgs, Events: pub}, msgs, pub
}

func activeConversation(id, customerID string) domainchat.Conversation {
	return domainchat.Conversation{
		ID:         id,
		CustomerID: customerID,
		Status:     domainchat.StatusActive,
		Mode:       domainchat.ModeHuman,
	}
}

func TestSendMessageBumpsUnreadForCustomerOnly(t *testing.T) {
	convs := newFakeConversations(activeConversation("c1", "u1"))
	svc, _, pub := newTestService(convs)
	ctx := context.Background()

	if _, err := svc.SendMessage(ctx, "c1", SendParams{SenderID: "u1", Body: "hi"}); err != nil {
		t.Fatalf("customer send: %v", err)
	}
	if _, err := svc.SendMessage(ctx, "c1", SendParams{SenderID: domainchat.AgentSenderID, Body: "hello", AgentSide: true}); err != nil {
		t.Fatalf("agent send: %v", err)
	}

	row := convs.rows["c1"]
	if row.UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1", row.UnreadCount)
	}
	if row.LastMessage != "hello" {
		t.Fatalf("last message = %q, want agent reply", row.LastMessage)
	}
	if len(pub.events) != 2 || pub.events[0].Op != domainchat.OpInsert || pub.events[0].Message == nil {
		t.Fatalf("unexpected events %+v", pub.ops())
	}
}

func TestSendMessageRejectsEmptyBody(t *testing.T) {
	convs := newFakeConversations(activeConversation("c1", "u1"))
	svc, _, _ := newTestService(convs)

	_, err := svc.SendMessage(context.Background(), "c1", SendParams{SenderID: "u1", Body: "   "})
	if !errors.Is(err, ErrBodyRequired) {
		t.Fatalf("err = %v, want ErrBodyRequired", err)
	}
}

func TestSendMessageAllowsAttachmentWithoutBody(t *testing.T) {
	convs := newFakeConversations(activeConversation("c1", "u1"))
	svc, _, _ := newTestService(convs)

	msg, err := svc.SendMessage(context.Background(), "c1", SendParams{
		SenderID:       "u1",
		Kind:           domainchat.KindFile,
		AttachmentURL:  "http://files/invoice.pdf",
		AttachmentName: "invoice.pdf",
		AttachmentSize: 1024,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Kind != domainchat.KindFile {
		t.Fatalf("kind = %q", msg.Kind)
	}
	if got := convs.rows["c1"].LastMessage; !strings.HasPrefix(got, "[file]") {
		t.Fatalf("preview = %q, want attachment placeholder", got)
	}
}

func TestSendMessageUnknownConversation(t *testing.T) {
	svc, _, _ := newTestService(newFakeConversations())
	_, err := svc.SendMessage(context.Background(), "nope", SendParams{SenderID: "u1", Body: "hi"})
	if !errors.Is(err, domainchat.ErrConversationGone) {
		t.Fatalf("err = %v, want ErrConversationGone", err)
	}
}

func TestMarkAllReadStampsAndPublishes(t *testing.T) {
	convs := newFakeConversations(activeConversation("c1", "u1"))
	svc, msgs, pub := newTestService(convs)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.SendMessage(ctx, "c1", SendParams{SenderID: "u1", Body: fmt.Sprintf("q%d", i)}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if _, err := svc.SendMessage(ctx, "c1", SendParams{SenderID: domainchat.AgentSenderID, Body: "a", AgentSide: true}); err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	pub.events = nil

	n, err := svc.MarkAllRead(ctx, "c1")
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n != 3 {
		t.Fatalf("stamped = %d, want 3", n)
	}
	if convs.rows["c1"].UnreadCount != 0 {
		t.Fatalf("unread = %d after mark read", convs.rows["c1"].UnreadCount)
	}
	for _, msg := range msgs.log["c1"] {
		if msg.SenderID != domainchat.AgentSenderID && msg.ReadAt == nil {
			t.Fatalf("message %s left unstamped", msg.ID)
		}
	}
	// one conversation update plus one update per stamped message
	if len(pub.events) != 4 {
		t.Fatalf("events = %d (%v), want 4", len(pub.events), pub.ops())
	}
	if pub.events[0].Conversation == nil {
		t.Fatalf("first event should carry the conversation summary")
	}

	// second pass finds nothing to stamp
	n, err = svc.MarkAllRead(ctx, "c1")
	if err != nil || n != 0 {
		t.Fatalf("second pass = (%d, %v), want (0, nil)", n, err)
	}
}

func TestDeleteConversationPurgesLogAndEmitsDelete(t *testing.T) {
	convs := newFakeConversations(activeConversation("c1", "u1"))
	svc, msgs, pub := newTestService(convs)
	ctx := context.Background()

	if _, err := svc.SendMessage(ctx, "c1", SendParams{SenderID: "u1", Body: "hi"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := svc.DeleteConversation(ctx, "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := convs.rows["c1"]; ok {
		t.Fatal("conversation row survived delete")
	}
	if len(msgs.log["c1"]) != 0 {
		t.Fatal("message log survived delete")
	}
	last := pub.events[len(pub.events)-1]
	if last.Op != domainchat.OpDelete || last.MessageID != "" || last.ConversationID != "c1" {
		t.Fatalf("unexpected delete event %+v", last)
	}
}

func TestConversationForCustomerCreatesOnce(t *testing.T) {
	convs := newFakeConversations()
	svc, _, pub := newTestService(convs)
	ctx := context.Background()

	first, err := svc.ConversationForCustomer(ctx, "u1", "Dana", "dana@example.com")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := svc.ConversationForCustomer(ctx, "u1", "Dana", "dana@example.com")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("created two threads: %s vs %s", first.ID, second.ID)
	}
	if len(pub.events) != 1 || pub.events[0].Op != domainchat.OpInsert || pub.events[0].Conversation == nil {
		t.Fatalf("unexpected events %v", pub.ops())
	}
}

func TestListMessagesUnknownConversation(t *testing.T) {
	svc, _, _ := newTestService(newFakeConversations())
	_, err := svc.ListMessages(context.Background(), "nope", 10, "")
	if !errors.Is(err, domainchat.ErrConversationGone) {
		t.Fatalf("err = %v, want ErrConversationGone", err)
	}
}
