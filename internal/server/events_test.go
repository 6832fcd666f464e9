package server

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherDeliversToMatchingUser(t *testing.T) {
	dispatcher := NewSyncEventDispatcher()

	stream, cancel := dispatcher.Subscribe(context.Background(), "creator-1")
	defer cancel()
	otherStream, otherCancel := dispatcher.Subscribe(context.Background(), "creator-2")
	defer otherCancel()

	dispatcher.Publish(SyncEvent{UserID: "creator-1", EventType: SyncEventCompleted})

	select {
	case event := <-stream:
		if event.EventType != SyncEventCompleted {
			t.Fatalf("unexpected event type: %s", event.EventType)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event delivery")
	}

	select {
	case event := <-otherStream:
		t.Fatalf("event leaked to another user: %+v", event)
	default:
	}
}

func TestDispatcherSkipsSaturatedSubscribers(t *testing.T) {
	dispatcher := NewSyncEventDispatcher()
	dispatcher.bufferSize = 1

	stream, cancel := dispatcher.Subscribe(context.Background(), "creator-1")
	defer cancel()

	// Publishing past a full buffer must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			dispatcher.Publish(SyncEvent{UserID: "creator-1", EventType: SyncEventCompleted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}

	if len(stream) != 1 {
		t.Fatalf("expected one buffered event, got %d", len(stream))
	}
}

func TestDispatcherUnsubscribesOnContextCancel(t *testing.T) {
	dispatcher := NewSyncEventDispatcher()

	ctx, cancel := context.WithCancel(context.Background())
	_, cleanup := dispatcher.Subscribe(ctx, "creator-1")
	defer cleanup()
	cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		dispatcher.mu.RLock()
		remaining := len(dispatcher.subscribers["creator-1"])
		dispatcher.mu.RUnlock()
		if remaining == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscriber not removed after context cancellation")
}

func TestDispatcherIgnoresIncompleteEvents(t *testing.T) {
	dispatcher := NewSyncEventDispatcher()

	stream, cancel := dispatcher.Subscribe(context.Background(), "creator-1")
	defer cancel()

	dispatcher.Publish(SyncEvent{UserID: "creator-1"})
	dispatcher.Publish(SyncEvent{EventType: SyncEventCompleted})

	select {
	case event := <-stream:
		t.Fatalf("unexpected delivery: %+v", event)
	default:
	}
}
