// Package gateway orchestrates the chatmarket server components.
//
// # Overview
//
// The gateway package is the central coordinator of the chatmarket server.
// It owns the store, the agent bus, every agent registered on it, and the
// HTTP server that exposes the marketplace to clients.
//
// # Wiring
//
// New builds components from config in dependency order:
//
//  1. Store (SQLite on disk, or SQLite :memory: for the memory driver)
//  2. Language service (OpenAI-compatible, Gemini, or the scripted mock), paced
//     and bounded by llm.Limited
//  3. Market search (Tavily when enabled, otherwise disabled)
//  4. Bus, then the recommendation, price research, listing, and both
//     conversation agents
//
// Options (WithLLM, WithSearcher, WithStore) replace collaborators, mainly
// for tests.
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - POST /api/chat/{role} - One buyer or seller turn, sent over the bus
//   - POST /api/listings/confirm - Publish the seller's current item
//   - GET /api/listings - Search active listings
//   - GET /api/listings/{id} - Read a listing and count a view
//   - PUT /api/listings/{id} - Owner-scoped patch
//   - DELETE /api/listings/{id} - Owner-scoped delete
//   - GET /api/listings/{id}/status - Owner-scoped status and engagement
//   - POST /api/listings/{id}/interest - Count an interested buyer
//   - GET /api/sessions/{role}/{user} - Session transcript and slots
//   - GET /api/sessions/{role}/{user}/events - SSE stream of new turns
//   - GET /health - Liveness check
//   - GET /metrics - Prometheus metrics when enabled
//
// Chat replies carry both the markdown text and an HTML rendering.
//
// # Lifecycle
//
// Run listens on server.http_addr and blocks until its context is canceled,
// then calls Shutdown, which stops HTTP, closes event streams, drains the
// bus, and closes the store.
package gateway
