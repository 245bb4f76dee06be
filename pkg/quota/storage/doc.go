// Package storage provides persistence backends for per-user usage state.
//
// The storage package owns the UsageState record: the counters and window
// timestamps that the quota package evaluates. Two backends are provided:
//
//   - MemoryStore: in-memory map with per-key locking, no persistence
//   - SQLiteStore: durable single-file storage using modernc.org/sqlite
//
// # Atomicity
//
// All mutation goes through Store.Update, which executes the caller's mutate
// function under per-key mutual exclusion (an entry lock in memory, a
// transaction in SQLite). This is the linearizability point for the
// rate-limit check-and-increment path: two concurrent Updates for the same
// user are serialized, so a window reset and the increment that triggered it
// are always applied together.
//
// # Lifecycle
//
// Usage state is created lazily on first Update and persists until Delete or
// retention Cleanup removes it.
package storage
