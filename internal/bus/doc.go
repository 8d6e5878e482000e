// Package bus delivers typed messages between named agents.
//
// # Delivery
//
// Each registered agent owns a mailbox. Envelopes are queued per sender so
// that messages from one sender to one receiver are handled in send order,
// while envelopes from different senders are handled concurrently. Queues are
// unbounded and delivery is local and at-least-once; nothing survives a
// process restart.
//
// # Request and reply
//
// Request allocates a correlation id, delivers the envelope, and parks the
// caller on a per-id channel until Reply is called with that id or the
// timeout elapses. A request to an address nobody registered still waits out
// its timeout and returns ErrTimeout. Once an id settles (replied or expired)
// it is remembered for a while, so duplicate and late replies are rejected
// with ErrStaleCorrelation and logged rather than silently dropped.
//
// Handler errors and panics are recovered at the bus boundary. If the
// envelope was a request, the caller receives a message.Failure, which
// Request surfaces as a *HandlerError.
package bus
