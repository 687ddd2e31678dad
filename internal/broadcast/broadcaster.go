// Package broadcast fans serialized payloads out to the live subscriber
// set, best-effort per subscriber.
package broadcast

import (
	"sync"

	"github.com/etaengine/internal/common/logger"
)

// Subscriber is one live delivery target. Send failures cause eviction.
type Subscriber interface {
	ID() string
	Send(payload []byte) error
	Close()
}

// SubscriberMetrics receives the live subscriber count on every attach,
// detach and eviction.
type SubscriberMetrics interface {
	SetSubscribers(count int)
}

// Broadcaster holds the subscriber set. It is process-scoped: created at
// service start, closed at shutdown. Attach/Detach may run concurrently
// with Broadcast.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[string]Subscriber
	metrics SubscriberMetrics
	logger  logger.Logger
}

func New(log logger.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string]Subscriber),
		logger: log,
	}
}

// SetMetrics installs the subscriber-count hook and reports the current
// count immediately.
func (b *Broadcaster) SetMetrics(m SubscriberMetrics) {
	b.mu.Lock()
	b.metrics = m
	total := len(b.subs)
	b.mu.Unlock()
	if m != nil {
		m.SetSubscribers(total)
	}
}

// Attach adds a subscriber, replacing any previous one with the same id.
func (b *Broadcaster) Attach(sub Subscriber) {
	b.mu.Lock()
	b.subs[sub.ID()] = sub
	total := len(b.subs)
	m := b.metrics
	b.mu.Unlock()
	if m != nil {
		m.SetSubscribers(total)
	}
	b.logger.Info("Subscriber attached", "subscriber_id", sub.ID(), "total", total)
}

// Detach removes a subscriber without closing it.
func (b *Broadcaster) Detach(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	total := len(b.subs)
	m := b.metrics
	b.mu.Unlock()
	if m != nil {
		m.SetSubscribers(total)
	}
	b.logger.Info("Subscriber detached", "subscriber_id", id, "total", total)
}

// Count returns the number of live subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Broadcast attempts delivery to every live subscriber. A failed send
// evicts that subscriber only; the rest still receive the payload. No
// ordering or delivery guarantee beyond best effort.
func (b *Broadcaster) Broadcast(payload []byte) {
	b.mu.RLock()
	snapshot := make([]Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		snapshot = append(snapshot, sub)
	}
	b.mu.RUnlock()

	for _, sub := range snapshot {
		if err := sub.Send(payload); err != nil {
			b.logger.Warn("Evicting subscriber after send failure",
				"subscriber_id", sub.ID(), "error", err)
			b.evict(sub)
		}
	}
}

func (b *Broadcaster) evict(sub Subscriber) {
	b.mu.Lock()
	// Another goroutine may have replaced this id; only drop our instance.
	if cur, ok := b.subs[sub.ID()]; ok && cur == sub {
		delete(b.subs, sub.ID())
	}
	total := len(b.subs)
	m := b.metrics
	b.mu.Unlock()
	if m != nil {
		m.SetSubscribers(total)
	}
	sub.Close()
}

// Close detaches and closes every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]Subscriber)
	m := b.metrics
	b.mu.Unlock()
	if m != nil {
		m.SetSubscribers(0)
	}

	for _, sub := range subs {
		sub.Close()
	}
}
