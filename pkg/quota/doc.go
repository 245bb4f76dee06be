// Package quota provides usage metering and admission control for plan-gated
// capabilities.
//
// # Overview
//
// The quota package decides, for every inbound request, whether a caller may
// consume a rate-limited or quota-limited capability under a two-tier
// (free/pro) plan model. It supports:
//
//   - Per-capability daily and weekly quotas (explanation, refactoring,
//     error analysis, security scan)
//   - A per-user rolling 60-second API rate limit
//   - A per-request line-count ceiling
//   - Decoupled usage recording so callers only charge for requests that
//     succeeded downstream
//
// # Architecture
//
// The package is organized into sub-packages:
//
//   - storage: usage state persistence (memory, SQLite)
//   - audit: append-only usage event journal for the billing pipeline
//   - retention: scheduled pruning of idle state and expired events
//
// # Usage
//
//	manager := quota.NewManager(quota.ManagerConfig{
//	    Store:    store,
//	    Resolver: resolver,
//	})
//
//	// Check before the request's real work
//	result, err := manager.CheckCapability(ctx, userID, quota.CapabilityExplanation)
//	if err != nil {
//	    // Infrastructure failure: fail closed.
//	}
//	if !result.Allowed {
//	    // Over quota: reject with the caller's own messaging.
//	}
//
//	// Record only after the request succeeded
//	err = manager.RecordUsage(ctx, userID, quota.CapabilityExplanation)
//
// # Concurrency
//
// CheckRateLimit combines its comparison and increment in one atomic store
// update, so concurrent requests from one user cannot overrun the minute
// budget. CheckCapability and RecordUsage are deliberately not atomic with
// respect to each other: serializing them would mean holding a lock across
// an external LLM call, so a small over-quota drift under concurrency is
// accepted instead.
//
// # Failure semantics
//
// Denials are ordinary results (Allowed=false), never errors. Errors mean
// infrastructure failure and callers must fail closed. The package never
// retries and never formats user-facing text.
package quota
