package broadcast

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/etaengine/internal/common/logger"
)

type fakeSubscriber struct {
	id       string
	mu       sync.Mutex
	received [][]byte
	sendErr  error
	closed   bool
}

func (s *fakeSubscriber) ID() string { return s.id }

func (s *fakeSubscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.received = append(s.received, payload)
	return nil
}

func (s *fakeSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSubscriber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func newBroadcaster() *Broadcaster {
	return New(logger.NewWriter(io.Discard))
}

func TestAttachDetach(t *testing.T) {
	b := newBroadcaster()

	sub := &fakeSubscriber{id: "a"}
	b.Attach(sub)
	if b.Count() != 1 {
		t.Errorf("Expected 1 subscriber, got %d", b.Count())
	}

	// Same id replaces, not duplicates.
	b.Attach(&fakeSubscriber{id: "a"})
	if b.Count() != 1 {
		t.Errorf("Expected replacement to keep count at 1, got %d", b.Count())
	}

	b.Detach("a")
	if b.Count() != 0 {
		t.Errorf("Expected 0 subscribers after detach, got %d", b.Count())
	}
}

func TestBroadcastDeliversToAll(t *testing.T) {
	b := newBroadcaster()
	first := &fakeSubscriber{id: "a"}
	second := &fakeSubscriber{id: "b"}
	b.Attach(first)
	b.Attach(second)

	b.Broadcast([]byte("payload"))

	if first.count() != 1 || second.count() != 1 {
		t.Errorf("Expected delivery to both, got %d and %d", first.count(), second.count())
	}
}

func TestBroadcastEvictsFailingSubscriberOnly(t *testing.T) {
	b := newBroadcaster()
	healthy := &fakeSubscriber{id: "healthy"}
	broken := &fakeSubscriber{id: "broken", sendErr: errors.New("gone")}
	b.Attach(healthy)
	b.Attach(broken)

	b.Broadcast([]byte("one"))

	if b.Count() != 1 {
		t.Errorf("Expected failing subscriber evicted, count=%d", b.Count())
	}
	if !broken.closed {
		t.Error("Expected evicted subscriber to be closed")
	}
	if healthy.count() != 1 {
		t.Errorf("Healthy subscriber must still receive, got %d", healthy.count())
	}

	b.Broadcast([]byte("two"))
	if healthy.count() != 2 {
		t.Errorf("Expected continued delivery after eviction, got %d", healthy.count())
	}
}

func TestCloseClosesAllSubscribers(t *testing.T) {
	b := newBroadcaster()
	subs := []*fakeSubscriber{{id: "a"}, {id: "b"}}
	for _, s := range subs {
		b.Attach(s)
	}

	b.Close()

	if b.Count() != 0 {
		t.Errorf("Expected empty subscriber set, got %d", b.Count())
	}
	for _, s := range subs {
		if !s.closed {
			t.Errorf("Subscriber %s not closed", s.id)
		}
	}
}

type fakeGauge struct {
	mu   sync.Mutex
	last int
	sets int
}

func (g *fakeGauge) SetSubscribers(count int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = count
	g.sets++
}

func (g *fakeGauge) value() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

func TestMetricsTrackSubscriberCount(t *testing.T) {
	b := newBroadcaster()
	gauge := &fakeGauge{}
	b.SetMetrics(gauge)
	if gauge.value() != 0 {
		t.Errorf("Expected initial count 0, got %d", gauge.value())
	}

	b.Attach(&fakeSubscriber{id: "a"})
	broken := &fakeSubscriber{id: "broken", sendErr: errors.New("gone")}
	b.Attach(broken)
	if gauge.value() != 2 {
		t.Errorf("Expected count 2 after attaches, got %d", gauge.value())
	}

	// Eviction must be visible on the gauge.
	b.Broadcast([]byte("x"))
	if gauge.value() != 1 {
		t.Errorf("Expected count 1 after eviction, got %d", gauge.value())
	}

	b.Detach("a")
	if gauge.value() != 0 {
		t.Errorf("Expected count 0 after detach, got %d", gauge.value())
	}

	b.Attach(&fakeSubscriber{id: "b"})
	b.Close()
	if gauge.value() != 0 {
		t.Errorf("Expected count 0 after close, got %d", gauge.value())
	}
}

func TestConcurrentAttachBroadcast(t *testing.T) {
	b := newBroadcaster()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Attach(&fakeSubscriber{id: fmt.Sprintf("sub-%d", i)})
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Broadcast([]byte("x"))
		}()
	}
	wg.Wait()

	if b.Count() != 8 {
		t.Errorf("Expected 8 subscribers, got %d", b.Count())
	}
}
