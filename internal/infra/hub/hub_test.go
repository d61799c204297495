package hub

import (
	"testing"

	"opschat/internal/domain/chat"
	"opschat/internal/push"
)

func insertEvent(convID, msgID string) chat.ChangeEvent {
	return chat.ChangeEvent{
		Op:             chat.OpInsert,
		ConversationID: convID,
		MessageID:      msgID,
		Message: &chat.Message{
			ID:             msgID,
			ConversationID: convID,
			SenderID:       "u1",
			Body:           "hello",
			Kind:           chat.KindText,
		},
	}
}

func drain(c *Conn) []Frame {
	frames := make([]Frame, 0)
	for {
		select {
		case f := <-c.Frames():
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestBroadcastRoutesByTopic(t *testing.T) {
	h := New(nil)
	focused := h.Register()
	other := h.Register()
	focused.Subscribe(1, push.MessagesTopic("c1"))
	other.Subscribe(1, push.MessagesTopic("c2"))
	drain(focused)
	drain(other)

	h.Broadcast(insertEvent("c1", "m1"))

	got := drain(focused)
	if len(got) != 1 {
		t.Fatalf("focused frames = %d, want 1", len(got))
	}
	if got[0].Kind != FrameEvent || got[0].Topic != push.MessagesTopic("c1") {
		t.Fatalf("unexpected frame %+v", got[0])
	}
	if got[0].Event == nil || got[0].Event.MessageID != "m1" {
		t.Fatalf("frame missing event payload: %+v", got[0])
	}
	if leaked := drain(other); len(leaked) != 0 {
		t.Fatalf("conn subscribed to c2 received %d frames", len(leaked))
	}
}

func TestBroadcastReachesRosterSubscribers(t *testing.T) {
	h := New(nil)
	admin := h.Register()
	admin.Subscribe(7, push.RosterTopic)
	drain(admin)

	h.Broadcast(insertEvent("c9", "m1"))

	got := drain(admin)
	if len(got) != 1 {
		t.Fatalf("roster frames = %d, want 1", len(got))
	}
	if got[0].Topic != push.RosterTopic {
		t.Fatalf("topic = %q, want %q", got[0].Topic, push.RosterTopic)
	}
}

func TestConversationEventsUseSummaryTopic(t *testing.T) {
	h := New(nil)
	c := h.Register()
	c.Subscribe(1, push.ConversationTopic("c1"))
	c.Subscribe(2, push.MessagesTopic("c1"))
	drain(c)

	h.Broadcast(chat.ChangeEvent{Op: chat.OpDelete, ConversationID: "c1"})

	got := drain(c)
	if len(got) != 1 {
		t.Fatalf("frames = %d, want 1", len(got))
	}
	if got[0].Topic != push.ConversationTopic("c1") {
		t.Fatalf("topic = %q, want summary topic", got[0].Topic)
	}
}

func TestSubscribeAcksAndUnsubscribeStops(t *testing.T) {
	h := New(nil)
	c := h.Register()
	c.Subscribe(3, push.MessagesTopic("c1"))

	acks := drain(c)
	if len(acks) != 1 || acks[0].Kind != FrameSubscribed || acks[0].ID != 3 {
		t.Fatalf("unexpected ack frames %+v", acks)
	}

	c.Unsubscribe(3)
	h.Broadcast(insertEvent("c1", "m1"))
	if got := drain(c); len(got) != 0 {
		t.Fatalf("received %d frames after unsubscribe", len(got))
	}
}

func TestSlowClientDropsInsteadOfBlocking(t *testing.T) {
	h := New(nil)
	c := h.Register()
	c.Subscribe(1, push.MessagesTopic("c1"))
	drain(c)

	// Saturate the buffer and one more; Broadcast must return promptly.
	for i := 0; i <= sendBuffer; i++ {
		h.Broadcast(insertEvent("c1", "m"))
	}
	if got := drain(c); len(got) != sendBuffer {
		t.Fatalf("buffered frames = %d, want %d", len(got), sendBuffer)
	}
}

func TestUnregisterClosesFrameChannel(t *testing.T) {
	h := New(nil)
	c := h.Register()
	h.Unregister(c)
	if _, open := <-c.Frames(); open {
		t.Fatal("frame channel still open after unregister")
	}
	// double unregister is a no-op
	h.Unregister(c)
}
