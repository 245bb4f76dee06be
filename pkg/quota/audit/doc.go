// Package audit provides an append-only journal of recorded usage events.
//
// Every successful usage recording appends one event (user, capability,
// timestamp) to a SQLite-backed journal. The journal feeds downstream
// billing and analytics; it is never consulted for admission decisions, so
// journal failures must not block request handling.
//
// Events are pruned by the retention package after a configured period.
package audit
