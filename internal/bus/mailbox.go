// ABOUTME: Per-agent mailbox with one unbounded FIFO lane per sender.
// ABOUTME: Each lane is drained by at most one goroutine, preserving sender order.

package bus

import (
	"sync"

	"github.com/marksk1/chatmarket-mvp/internal/message"
)

type lane struct {
	queue   []message.Envelope
	running bool
}

type mailbox struct {
	name    string
	handler Handler

	mu    sync.Mutex
	lanes map[string]*lane
}

func newMailbox(name string, handler Handler) *mailbox {
	return &mailbox{
		name:    name,
		handler: handler,
		lanes:   make(map[string]*lane),
	}
}

// enqueue appends env to the sender's lane and starts a drainer if the lane
// is idle. Must be called with b.mu read-locked so Close cannot race the
// WaitGroup.
func (b *Bus) enqueue(mb *mailbox, env message.Envelope) {
	mb.mu.Lock()
	l, ok := mb.lanes[env.From]
	if !ok {
		l = &lane{}
		mb.lanes[env.From] = l
	}
	l.queue = append(l.queue, env)
	if l.running {
		mb.mu.Unlock()
		return
	}
	l.running = true
	b.wg.Add(1)
	mb.mu.Unlock()

	go b.drain(mb, env.From, l)
}

func (b *Bus) drain(mb *mailbox, from string, l *lane) {
	defer b.wg.Done()

	for {
		mb.mu.Lock()
		if len(l.queue) == 0 || b.ctx.Err() != nil {
			dropped := len(l.queue)
			l.queue = nil
			l.running = false
			delete(mb.lanes, from)
			mb.mu.Unlock()
			if dropped > 0 {
				b.logger.Debug("dropped queued envelopes on close",
					"agent", mb.name,
					"from", from,
					"count", dropped,
				)
			}
			return
		}
		env := l.queue[0]
		l.queue[0] = message.Envelope{}
		l.queue = l.queue[1:]
		mb.mu.Unlock()

		b.handle(mb, env)
	}
}

// depth returns the number of envelopes queued across all lanes.
func (mb *mailbox) depth() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	n := 0
	for _, l := range mb.lanes {
		n += len(l.queue)
	}
	return n
}
