// ABOUTME: Named-agent message bus with fire-and-forget send and correlated request/reply.
// ABOUTME: Recovers handler failures into typed Failure replies and rejects stale replies.

package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marksk1/chatmarket-mvp/internal/message"
	"github.com/marksk1/chatmarket-mvp/internal/metrics"
)

// ErrDuplicateAddress indicates an agent is already registered under the name.
var ErrDuplicateAddress = errors.New("duplicate agent address")

// ErrUnknownAddress indicates no agent is registered under the destination name.
var ErrUnknownAddress = errors.New("unknown agent address")

// ErrTimeout indicates a request received no reply before its deadline.
var ErrTimeout = errors.New("request timed out")

// ErrStaleCorrelation indicates a reply whose correlation id is unknown,
// expired, already answered, or addressed to the wrong agent.
var ErrStaleCorrelation = errors.New("stale correlation id")

// ErrClosed indicates the bus has been shut down.
var ErrClosed = errors.New("bus closed")

// ErrHandlerPanic wraps a panic recovered from a handler.
var ErrHandlerPanic = errors.New("handler panicked")

// DefaultRequestTimeout is used when Request is called with a zero timeout.
const DefaultRequestTimeout = 10 * time.Second

const (
	defaultSettledTTL     = 5 * time.Minute
	defaultSettledMaxSize = 10000
)

// HandlerError is returned by Request when the target handler failed.
type HandlerError struct {
	Agent  string
	Reason string
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("agent %s failed: %s", e.Agent, e.Reason)
}

// Handler processes one envelope. Handlers invoked for a request answer it
// with Bus.Reply; a returned error is converted into a Failure reply.
type Handler func(ctx context.Context, env message.Envelope) error

// Config contains configuration options for the Bus.
type Config struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	RequestTimeout time.Duration
	// SettledTTL bounds how long settled correlation ids are remembered.
	SettledTTL     time.Duration
	SettledMaxSize int
}

type pendingRequest struct {
	from string
	to   string
	ch   chan message.Payload
}

// Bus routes envelopes between registered agents.
type Bus struct {
	logger         *slog.Logger
	metrics        *metrics.Metrics
	requestTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	agents map[string]*mailbox
	closed bool

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest
	settled   *settledSet
}

// New creates a Bus with the given configuration.
func New(cfg Config) *Bus {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	ttl := cfg.SettledTTL
	if ttl <= 0 {
		ttl = defaultSettledTTL
	}
	maxSize := cfg.SettledMaxSize
	if maxSize <= 0 {
		maxSize = defaultSettledMaxSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		logger:         logger.With("component", "bus"),
		metrics:        cfg.Metrics,
		requestTimeout: timeout,
		ctx:            ctx,
		cancel:         cancel,
		agents:         make(map[string]*mailbox),
		pending:        make(map[string]*pendingRequest),
		settled:        newSettledSet(ttl, maxSize),
	}
}

// Register binds name to handler. Returns ErrDuplicateAddress if the name is taken.
func (b *Bus) Register(name string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if _, exists := b.agents[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAddress, name)
	}

	b.agents[name] = newMailbox(name, handler)
	b.logger.Info("agent registered", "agent", name)
	return nil
}

// Unregister removes name. Envelopes already queued for it are still handled.
func (b *Bus) Unregister(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.agents[name]; ok {
		delete(b.agents, name)
		b.logger.Info("agent unregistered", "agent", name)
	}
}

// Addresses returns the registered agent names in sorted order.
func (b *Bus) Addresses() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.agents))
	for name := range b.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send delivers payload to the agent named to without waiting for a reply.
func (b *Bus) Send(from, to string, payload message.Payload) error {
	env := message.Envelope{
		From:      from,
		To:        to,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := b.deliver(env); err != nil {
		if errors.Is(err, ErrUnknownAddress) {
			b.logger.Warn("dropping message for unregistered agent",
				"from", from,
				"to", to,
				"kind", payload.Kind(),
			)
		}
		return err
	}
	return nil
}

// Request delivers payload to the agent named to and waits for the reply
// carrying the same correlation id. A zero timeout uses the configured
// default. On deadline it returns an error matching ErrTimeout; if the
// handler failed it returns a *HandlerError.
func (b *Bus) Request(ctx context.Context, from, to string, payload message.Payload, timeout time.Duration) (message.Payload, error) {
	if timeout <= 0 {
		timeout = b.requestTimeout
	}

	id := uuid.NewString()
	ch := make(chan message.Payload, 1)

	b.pendingMu.Lock()
	b.pending[id] = &pendingRequest{from: from, to: to, ch: ch}
	b.pendingMu.Unlock()

	b.metrics.RequestStarted()
	defer b.metrics.RequestSettled()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	env := message.Envelope{
		CorrelationID: id,
		From:          from,
		To:            to,
		Payload:       payload,
		CreatedAt:     start,
	}
	if err := b.deliver(env); err != nil {
		if !errors.Is(err, ErrUnknownAddress) {
			b.abandon(id)
			b.metrics.RequestFinished(to, "error", time.Since(start))
			return nil, err
		}
		// Nobody can answer, but the caller still gets its deadline.
		b.logger.Warn("request to unregistered agent",
			"from", from,
			"to", to,
			"correlation_id", id,
			"kind", payload.Kind(),
		)
	}

	b.logger.Debug("→ request sent",
		"from", from,
		"to", to,
		"correlation_id", id,
		"kind", payload.Kind(),
	)

	select {
	case reply := <-ch:
		return b.finish(to, id, reply, start)
	case <-ctx.Done():
	case <-b.ctx.Done():
	}

	if !b.abandon(id) {
		// Reply won the race with the deadline and is already buffered.
		return b.finish(to, id, <-ch, start)
	}

	if b.ctx.Err() != nil {
		b.metrics.RequestFinished(to, "closed", time.Since(start))
		return nil, ErrClosed
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		b.metrics.RequestFinished(to, "timeout", time.Since(start))
		b.logger.Warn("request timed out",
			"from", from,
			"to", to,
			"correlation_id", id,
			"timeout", timeout,
		)
		return nil, fmt.Errorf("%w: %s did not reply within %s", ErrTimeout, to, timeout)
	}
	b.metrics.RequestFinished(to, "cancelled", time.Since(start))
	return nil, ctx.Err()
}

func (b *Bus) finish(to, id string, reply message.Payload, start time.Time) (message.Payload, error) {
	if f, ok := reply.(message.Failure); ok {
		b.metrics.RequestFinished(to, "failure", time.Since(start))
		return nil, &HandlerError{Agent: f.Agent, Reason: f.Reason}
	}
	b.metrics.RequestFinished(to, "ok", time.Since(start))
	b.logger.Debug("← reply received",
		"from", to,
		"correlation_id", id,
		"kind", reply.Kind(),
	)
	return reply, nil
}

// abandon removes a pending request that will no longer be waited on.
// Returns false if a reply already claimed it.
func (b *Bus) abandon(id string) bool {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()

	if _, ok := b.pending[id]; !ok {
		return false
	}
	delete(b.pending, id)
	b.settled.add(id, settledExpired)
	return true
}

// Reply routes payload to the agent waiting on correlationID. to must be the
// address that issued the request. Replying twice, to an expired or unknown
// id, or to the wrong address returns ErrStaleCorrelation; the reply is
// discarded and logged.
func (b *Bus) Reply(correlationID, to string, payload message.Payload) error {
	b.pendingMu.Lock()
	p, ok := b.pending[correlationID]
	if !ok {
		b.pendingMu.Unlock()
		b.metrics.StaleReply()
		if reason, known := b.settled.lookup(correlationID); known {
			b.logger.Warn("discarding reply for settled request",
				"correlation_id", correlationID,
				"to", to,
				"settled", string(reason),
				"kind", payload.Kind(),
			)
		} else {
			b.logger.Warn("discarding reply for unknown request",
				"correlation_id", correlationID,
				"to", to,
				"kind", payload.Kind(),
			)
		}
		return fmt.Errorf("%w: %s", ErrStaleCorrelation, correlationID)
	}

	if p.from != to {
		b.pendingMu.Unlock()
		b.metrics.StaleReply()
		b.logger.Warn("discarding misaddressed reply",
			"correlation_id", correlationID,
			"to", to,
			"requester", p.from,
		)
		return fmt.Errorf("%w: reply for %s addressed to %s", ErrStaleCorrelation, p.from, to)
	}

	delete(b.pending, correlationID)
	b.settled.add(correlationID, settledReplied)
	// Buffered with capacity one and removed from pending above, so this
	// is the only send the channel will ever see.
	p.ch <- payload
	b.pendingMu.Unlock()
	return nil
}

// Respond adapts fn into a Handler that answers requests with fn's result.
// Envelopes without a correlation id run fn and discard the result.
func (b *Bus) Respond(fn func(ctx context.Context, env message.Envelope) (message.Payload, error)) Handler {
	return func(ctx context.Context, env message.Envelope) error {
		out, err := fn(ctx, env)
		if err != nil {
			return err
		}
		if env.CorrelationID == "" || out == nil {
			return nil
		}
		// Stale replies are already logged by Reply.
		_ = b.Reply(env.CorrelationID, env.From, out)
		return nil
	}
}

// PendingCount returns the number of requests awaiting a reply.
func (b *Bus) PendingCount() int {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	return len(b.pending)
}

// Close stops delivery, releases waiting requesters with ErrClosed, and waits
// for running handlers to return. It is safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	b.settled.close()
	b.logger.Info("bus closed")
}

// deliver queues env on the destination mailbox.
func (b *Bus) deliver(env message.Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	mb, ok := b.agents[env.To]
	if !ok {
		b.metrics.Undeliverable()
		return fmt.Errorf("%w: %s", ErrUnknownAddress, env.To)
	}
	b.enqueue(mb, env)
	return nil
}

// handle runs the handler for one envelope and converts failures into a
// Failure reply when the envelope is a request.
func (b *Bus) handle(mb *mailbox, env message.Envelope) {
	b.metrics.MessageDelivered(string(env.Payload.Kind()), mb.name)

	err := b.invoke(mb, env)
	if err == nil {
		return
	}

	b.metrics.HandlerFailed(mb.name)
	b.logger.Error("agent handler failed",
		"agent", mb.name,
		"from", env.From,
		"kind", env.Payload.Kind(),
		"correlation_id", env.CorrelationID,
		"error", err,
	)

	// Requesters waiting on a closed bus are released with ErrClosed instead.
	if env.CorrelationID == "" || b.ctx.Err() != nil || !b.isPending(env.CorrelationID) {
		return
	}
	_ = b.Reply(env.CorrelationID, env.From, message.Failure{
		Agent:  mb.name,
		Reason: err.Error(),
	})
}

func (b *Bus) invoke(mb *mailbox, env message.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return mb.handler(b.ctx, env)
}

func (b *Bus) isPending(id string) bool {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	_, ok := b.pending[id]
	return ok
}

// QueueDepth returns the number of envelopes waiting for the named agent.
func (b *Bus) QueueDepth(name string) int {
	b.mu.RLock()
	mb, ok := b.agents[name]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return mb.depth()
}
