package sync

import (
	"context"
	gosync "sync"
	"testing"
	"time"
)

func TestReadTrackerRefusesConcurrentCalls(t *testing.T) {
	release := make(chan struct{})
	client := &fakeClient{}
	client.markReadFn = func(context.Context, string) error {
		<-release
		return nil
	}
	tracker := NewReadTracker(client, nil)

	var wg gosync.WaitGroup
	results := make(chan bool, 5)
	wg.Add(1)
	go func() {
		defer wg.Done()
		started, _ := tracker.MarkAllRead(context.Background(), "c1")
		results <- started
	}()

	// Wait until the first call is in flight.
	deadline := time.After(2 * time.Second)
	for len(client.markReads()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("first MarkAllRead never started")
		case <-time.After(time.Millisecond):
		}
	}

	for i := 0; i < 4; i++ {
		started, err := tracker.MarkAllRead(context.Background(), "c1")
		if err != nil {
			t.Fatalf("MarkAllRead: %v", err)
		}
		results <- started
	}
	close(release)
	wg.Wait()

	startedCount := 0
	for i := 0; i < 5; i++ {
		if <-results {
			startedCount++
		}
	}
	if startedCount != 1 {
		t.Fatalf("started = %d, want 1", startedCount)
	}
	if got := client.markReads(); len(got) != 1 {
		t.Fatalf("network calls = %d, want 1", len(got))
	}
}

func TestReadTrackerIndependentPerConversation(t *testing.T) {
	client := &fakeClient{}
	tracker := NewReadTracker(client, nil)

	for _, id := range []string{"c1", "c2", "c1"} {
		if _, err := tracker.MarkAllRead(context.Background(), id); err != nil {
			t.Fatalf("MarkAllRead(%s): %v", id, err)
		}
	}
	if got := client.markReads(); len(got) != 3 {
		t.Fatalf("sequential calls must all go through, got %v", got)
	}
}
