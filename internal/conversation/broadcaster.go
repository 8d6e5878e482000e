// ABOUTME: In-memory fan-out of recorded dialogue turns to live session watchers
// ABOUTME: Publishes each persisted user or assistant turn to subscribers of its session key

package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marksk1/chatmarket-mvp/internal/store"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Event is one recorded turn.
type Event struct {
	Key       store.SessionKey `json:"-"`
	Speaker   store.Speaker    `json:"speaker"`
	Text      string           `json:"text"`
	Stage     string           `json:"stage,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// EventBroadcaster provides in-memory pub/sub for recorded turns, keyed by
// session. Slow subscribers lose events rather than blocking a turn.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[store.SessionKey]map[string]chan Event
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. Pass nil logger for default.
func NewEventBroadcaster(logger *slog.Logger) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		subscribers: make(map[store.SessionKey]map[string]chan Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for events on key. The subscription is removed and
// its channel closed when ctx is cancelled.
func (b *EventBroadcaster) Subscribe(ctx context.Context, key store.SessionKey) (<-chan Event, string) {
	subID := uuid.NewString()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[string]chan Event)
	}
	b.subscribers[key][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "session", key.String(), "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(key, subID)
	}()

	return ch, subID
}

// Publish delivers event to every subscriber of event.Key without blocking.
func (b *EventBroadcaster) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.Key] {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber", "session", event.Key.String())
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) Unsubscribe(key store.SessionKey, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[key]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, key)
	}

	b.logger.Debug("subscriber removed", "session", key.String(), "sub_id", subID)
}

// Subscribers returns the number of live subscriptions on key.
func (b *EventBroadcaster) Subscribers(key store.SessionKey) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[key])
}

// Close closes all subscriber channels.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}
	b.logger.Debug("broadcaster closed")
}
