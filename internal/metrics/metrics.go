// ABOUTME: Prometheus collectors for the agent bus, dialogue turns, and fallbacks.
// ABOUTME: All recording methods are nil-safe so components can run without metrics.

// Package metrics provides Prometheus metrics for chatmarket.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for chatmarket.
type Metrics struct {
	// Bus metrics
	BusMessagesTotal      *prometheus.CounterVec
	BusRequestsTotal      *prometheus.CounterVec
	BusRequestDuration    *prometheus.HistogramVec
	BusStaleRepliesTotal  prometheus.Counter
	BusHandlerFailures    *prometheus.CounterVec
	BusPendingRequests    prometheus.Gauge
	BusUndeliverableTotal prometheus.Counter

	// Conversation metrics
	TurnsTotal    *prometheus.CounterVec
	TurnDuration  *prometheus.HistogramVec
	SessionResets *prometheus.CounterVec

	// Degradation metrics
	FallbacksTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{}

	m.BusMessagesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmarket_bus_messages_total",
			Help: "Total number of envelopes delivered by the agent bus",
		},
		[]string{"kind", "to"},
	)

	m.BusRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmarket_bus_requests_total",
			Help: "Total number of correlated requests by outcome",
		},
		[]string{"to", "outcome"},
	)

	m.BusRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatmarket_bus_request_duration_seconds",
			Help:    "Time from request to reply or timeout",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"to"},
	)

	m.BusStaleRepliesTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "chatmarket_bus_stale_replies_total",
			Help: "Replies discarded because their correlation id was unknown or already settled",
		},
	)

	m.BusHandlerFailures = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmarket_bus_handler_failures_total",
			Help: "Handler errors and panics caught at the bus boundary",
		},
		[]string{"agent"},
	)

	m.BusPendingRequests = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatmarket_bus_pending_requests",
			Help: "Requests currently awaiting a reply",
		},
	)

	m.BusUndeliverableTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "chatmarket_bus_undeliverable_total",
			Help: "Envelopes addressed to an unregistered agent",
		},
	)

	m.TurnsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmarket_conversation_turns_total",
			Help: "Dialogue turns by role and outcome",
		},
		[]string{"role", "outcome"},
	)

	m.TurnDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatmarket_conversation_turn_duration_seconds",
			Help:    "Duration of a dialogue turn",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"role"},
	)

	m.SessionResets = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmarket_conversation_session_resets_total",
			Help: "Sessions whose slots were cleared after a terminal action",
		},
		[]string{"role"},
	)

	m.FallbacksTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmarket_fallbacks_total",
			Help: "Deterministic fallbacks taken after an external collaborator failed",
		},
		[]string{"component"},
	)

	return m
}

// MessageDelivered records one delivered envelope.
func (m *Metrics) MessageDelivered(kind, to string) {
	if m == nil {
		return
	}
	m.BusMessagesTotal.WithLabelValues(kind, to).Inc()
}

// RequestFinished records the outcome and latency of a correlated request.
func (m *Metrics) RequestFinished(to, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BusRequestsTotal.WithLabelValues(to, outcome).Inc()
	m.BusRequestDuration.WithLabelValues(to).Observe(elapsed.Seconds())
}

// RequestStarted bumps the pending request gauge.
func (m *Metrics) RequestStarted() {
	if m == nil {
		return
	}
	m.BusPendingRequests.Inc()
}

// RequestSettled lowers the pending request gauge.
func (m *Metrics) RequestSettled() {
	if m == nil {
		return
	}
	m.BusPendingRequests.Dec()
}

// StaleReply records a discarded reply.
func (m *Metrics) StaleReply() {
	if m == nil {
		return
	}
	m.BusStaleRepliesTotal.Inc()
}

// HandlerFailed records a handler error or panic.
func (m *Metrics) HandlerFailed(agent string) {
	if m == nil {
		return
	}
	m.BusHandlerFailures.WithLabelValues(agent).Inc()
}

// Undeliverable records an envelope that had no registered recipient.
func (m *Metrics) Undeliverable() {
	if m == nil {
		return
	}
	m.BusUndeliverableTotal.Inc()
}

// Turn records a finished dialogue turn.
func (m *Metrics) Turn(role, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(role, outcome).Inc()
	m.TurnDuration.WithLabelValues(role).Observe(elapsed.Seconds())
}

// SessionReset records a cleared session.
func (m *Metrics) SessionReset(role string) {
	if m == nil {
		return
	}
	m.SessionResets.WithLabelValues(role).Inc()
}

// Fallback records a deterministic fallback taken by component.
func (m *Metrics) Fallback(component string) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(component).Inc()
}
