// ABOUTME: Bounded, TTL-based record of correlation ids that already settled.
// ABOUTME: Lets the bus tell late or duplicate replies apart from unknown ids.

package bus

import (
	"container/list"
	"sync"
	"time"
)

// settleReason records how a correlation id stopped being pending.
type settleReason string

const (
	settledReplied settleReason = "replied"
	settledExpired settleReason = "expired"
)

type settledEntry struct {
	reason  settleReason
	at      time.Time
	element *list.Element
}

// settledSet remembers recently settled correlation ids. The oldest id is
// evicted once maxSize is reached; expired ids are swept by a background
// goroutine until close is called.
type settledSet struct {
	mu      sync.Mutex
	entries map[string]*settledEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

func newSettledSet(ttl time.Duration, maxSize int) *settledSet {
	s := &settledSet{
		entries: make(map[string]*settledEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.sweep()
	return s
}

// add records id as settled. A second add for the same id keeps the first
// reason and refreshes its position.
func (s *settledSet) add(id string, reason settleReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if e, ok := s.entries[id]; ok {
		e.at = now
		s.order.MoveToBack(e.element)
		return
	}

	if len(s.entries) >= s.maxSize {
		if front := s.order.Front(); front != nil {
			key, _ := front.Value.(string)
			s.order.Remove(front)
			delete(s.entries, key)
		}
	}

	s.entries[id] = &settledEntry{
		reason:  reason,
		at:      now,
		element: s.order.PushBack(id),
	}
}

// lookup reports why id settled, if it did so within the TTL.
func (s *settledSet) lookup(id string) (settleReason, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || time.Since(e.at) >= s.ttl {
		return "", false
	}
	return e.reason, true
}

func (s *settledSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *settledSet) sweep() {
	defer s.wg.Done()

	interval := s.ttl / 2
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.expire()
		case <-s.done:
			return
		}
	}
}

func (s *settledSet) expire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for e := s.order.Front(); e != nil; {
		key, _ := e.Value.(string)
		entry := s.entries[key]
		if now.Sub(entry.at) < s.ttl {
			// order is by last touch, so everything behind is newer
			return
		}
		next := e.Next()
		s.order.Remove(e)
		delete(s.entries, key)
		e = next
	}
}

// close stops the sweeper and waits for it. Safe to call more than once.
func (s *settledSet) close() {
	s.mu.Lock()
	if !s.closed {
		close(s.done)
		s.closed = true
	}
	s.mu.Unlock()
	s.wg.Wait()
}
