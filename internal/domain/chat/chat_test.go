package chat

import (
	"errors"
	"testing"
)

func TestParseKind(t *testing.T) {
	cases := []struct {
		raw     string
		want    MessageKind
		wantErr bool
	}{
		{"", KindText, false},
		{"text", KindText, false},
		{" Image ", KindImage, false},
		{"FILE", KindFile, false},
		{"video", "", true},
	}
	for _, tc := range cases {
		got, err := ParseKind(tc.raw)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidKind) {
				t.Errorf("ParseKind(%q) err = %v, want ErrInvalidKind", tc.raw, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseKind(%q) = (%q, %v), want %q", tc.raw, got, err, tc.want)
		}
	}
}

func TestPreviewCollapsesAttachments(t *testing.T) {
	msg := Message{Kind: KindFile, AttachmentName: "invoice.pdf", Body: "ignored"}
	if got := msg.Preview(120); got != "[file] invoice.pdf" {
		t.Fatalf("Preview = %q", got)
	}
	img := Message{Kind: KindImage, AttachmentName: "cat.png"}
	if got := img.Preview(120); got != "[image] cat.png" {
		t.Fatalf("Preview = %q", got)
	}
}

func TestTrimSnippet(t *testing.T) {
	if got := TrimSnippet("  hello  ", 10); got != "hello" {
		t.Fatalf("TrimSnippet trim = %q", got)
	}
	if got := TrimSnippet("abcdef", 3); got != "abc…" {
		t.Fatalf("TrimSnippet cut = %q", got)
	}
	// rune-aware, not byte-aware
	if got := TrimSnippet("héllo wörld", 5); got != "héllo…" {
		t.Fatalf("TrimSnippet unicode = %q", got)
	}
}

func TestCounterpartFallbacks(t *testing.T) {
	c := Conversation{CustomerID: "u1"}
	if got := c.Counterpart(); got != "u1" {
		t.Fatalf("id fallback = %q", got)
	}
	c.CustomerEmail = "dana@example.com"
	if got := c.Counterpart(); got != "dana@example.com" {
		t.Fatalf("email fallback = %q", got)
	}
	c.CustomerName = "Dana"
	if got := c.Counterpart(); got != "Dana" {
		t.Fatalf("name = %q", got)
	}
}

func TestChangeEventIsMessage(t *testing.T) {
	msgEvent := ChangeEvent{Op: OpInsert, Message: &Message{ID: "m1"}}
	if !msgEvent.IsMessage() {
		t.Fatal("insert with message payload should be a message event")
	}
	convEvent := ChangeEvent{Op: OpUpdate, Conversation: &Conversation{ID: "c1"}}
	if convEvent.IsMessage() {
		t.Fatal("conversation update is not a message event")
	}
	msgDelete := ChangeEvent{Op: OpDelete, ConversationID: "c1", MessageID: "m1"}
	if !msgDelete.IsMessage() {
		t.Fatal("delete with message id is a message event")
	}
	convDelete := ChangeEvent{Op: OpDelete, ConversationID: "c1"}
	if convDelete.IsMessage() {
		t.Fatal("delete without message id targets the conversation")
	}
}
