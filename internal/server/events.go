package server

import (
	"context"
	"sync"
	"time"

	"github.com/c2hq/backend/internal/ingest"
)

const SyncEventCompleted = "sync-complete"

// SyncEvent notifies a user's open dashboards that a sync run finished.
type SyncEvent struct {
	UserID    string         `json:"-"`
	EventType string         `json:"event"`
	Summary   ingest.Summary `json:"summary"`
	Timestamp time.Time      `json:"timestamp"`
}

// SyncEventDispatcher fans sync completion events out to per-user subscribers.
// Slow subscribers are skipped rather than blocking the publisher.
type SyncEventDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*syncSubscriber
	nextID      int64
	bufferSize  int
}

type syncSubscriber struct {
	id     int64
	stream chan SyncEvent
}

func NewSyncEventDispatcher() *SyncEventDispatcher {
	return &SyncEventDispatcher{
		subscribers: make(map[string]map[int64]*syncSubscriber),
		bufferSize:  16,
	}
}

func (d *SyncEventDispatcher) Subscribe(ctx context.Context, userID string) (<-chan SyncEvent, func()) {
	if userID == "" {
		ch := make(chan SyncEvent)
		close(ch)
		return ch, func() {}
	}
	subscriber := &syncSubscriber{
		id:     d.nextSequence(),
		stream: make(chan SyncEvent, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(userID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *SyncEventDispatcher) Publish(event SyncEvent) {
	if event.UserID == "" || event.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[event.UserID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*syncSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *SyncEventDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *SyncEventDispatcher) registerSubscriber(userID string, subscriber *syncSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*syncSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *SyncEventDispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
