package quota

import (
	"context"
	"errors"
	"time"
)

// Tier represents a subscription plan tier.
type Tier string

const (
	// TierFree is the free plan.
	TierFree Tier = "free"

	// TierPro is the paid plan.
	TierPro Tier = "pro"
)

// Capability is a gated feature type subject to a periodic quota.
type Capability string

const (
	// CapabilityExplanation is code explanation, limited daily.
	CapabilityExplanation Capability = "explanation"

	// CapabilityRefactoring is code refactoring, limited daily.
	CapabilityRefactoring Capability = "refactoring"

	// CapabilityErrorAnalysis is error analysis, limited daily.
	CapabilityErrorAnalysis Capability = "error_analysis"

	// CapabilitySecurityScan is security scanning, limited weekly.
	CapabilitySecurityScan Capability = "security_scan"
)

// Capabilities lists every gated capability.
var Capabilities = []Capability{
	CapabilityExplanation,
	CapabilityRefactoring,
	CapabilityErrorAnalysis,
	CapabilitySecurityScan,
}

// PlanResolver resolves a user identifier to its plan tier.
// Implementations wrap the external identity/billing system.
type PlanResolver interface {
	// ResolveTier returns the plan tier for a user.
	// Returns ErrUserNotResolved (possibly wrapped) when the user is unknown.
	ResolveTier(ctx context.Context, userID string) (Tier, error)
}

// CapabilityResult is the outcome of a capability quota check.
type CapabilityResult struct {
	// Allowed indicates if the request is permitted.
	Allowed bool

	// Unlimited is true when the plan places no cap on this capability.
	// Limit and Usage are meaningless when Unlimited is set.
	Unlimited bool

	// Limit is the plan's cap for this capability.
	Limit int

	// Usage is the counter value in the current window.
	Usage int
}

// LineCountResult is the outcome of a per-request line-count check.
type LineCountResult struct {
	// Allowed indicates if the request is permitted.
	Allowed bool

	// Limit is the plan's maximum lines per request.
	Limit int
}

// RateLimitResult is the outcome of an API rate-limit check.
// This is used to populate HTTP response headers (X-RateLimit-*).
type RateLimitResult struct {
	// Allowed indicates if the request is permitted.
	Allowed bool

	// Limit is the plan's requests-per-minute cap.
	Limit int

	// Remaining is the number of requests left in the current window.
	Remaining int

	// Reset is when the current 60-second window ends.
	Reset time.Time
}

// Error types for admission failures. Denials are never errors; these
// indicate infrastructure or programming faults and callers must fail
// closed (deny) when they occur.
var (
	// ErrUnknownTier is returned when a tier is not in the policy table.
	// The tier enumeration is closed, so this indicates an implementation error.
	ErrUnknownTier = errors.New("unknown plan tier")

	// ErrUnknownCapability is returned for a capability outside the enumeration.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrUserNotResolved is returned when the plan tier for a user cannot
	// be determined. Fatal for capability checks; line-count and rate-limit
	// checks downgrade it to the FREE tier instead.
	ErrUserNotResolved = errors.New("user plan could not be resolved")

	// ErrStorageFailure is returned when the usage store could not be
	// reached or an atomic update failed.
	ErrStorageFailure = errors.New("usage storage failure")
)
