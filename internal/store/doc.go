// Package store provides persistence for conversation sessions and the
// listing catalog.
//
// # Architecture
//
// Two interfaces split the concerns:
//
//   - SessionStore: per-(role, user) dialogue state with lazy creation,
//     append-only message history, atomic slot merges, and reset
//   - CatalogStore: listings with search and owner-scoped mutation
//
// SQLiteStore and MockStore both implement Store, which composes the two.
// MockStore keeps everything in memory and is used by tests and by
// deployments configured with the memory session store.
//
// # Sessions
//
// MergeSlots applies a SlotUpdate (slot delta, optional classification,
// optional stage) as one unit: in SQLite inside a write transaction, in
// memory under the store lock. A null delta value never erases a stored
// slot. Message history is returned in insertion order.
//
// # SQLite Configuration
//
// Pragmas are passed in the DSN so that every pooled connection gets them:
//
//	_pragma=journal_mode(WAL)
//	_pragma=foreign_keys(1)
//	_pragma=busy_timeout(5000)
//
// ":memory:" opens a private in-memory database on a single connection.
//
// # Error Handling
//
//   - ErrNotFound: requested session or listing does not exist
//   - ErrNotOwner: listing exists but belongs to someone else
package store
