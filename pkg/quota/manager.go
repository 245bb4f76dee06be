package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"codecoach-hq/saturn/pkg/quota/audit"
	"codecoach-hq/saturn/pkg/quota/storage"
)

// Manager is the admission controller: it decides, per request, whether a
// user may consume a capability, whether a request's line count is within
// plan bounds, and whether the user is within their API rate limit. It also
// records usage after a request succeeds.
//
// All counter state lives in the injected Store; the Manager holds no
// per-user state of its own, so a single Manager serves all users and all
// concurrent requests.
type Manager struct {
	store    storage.Store
	resolver PlanResolver
	journal  *audit.Journal
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time

	// mu guards policy, which can be swapped at runtime by config reload.
	mu     sync.RWMutex
	policy Policy
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Store is the usage state backend. Defaults to an in-memory store.
	Store storage.Store

	// Resolver maps user IDs to plan tiers. Required.
	Resolver PlanResolver

	// Policy overrides the built-in plan limits.
	Policy *Policy

	// Journal, if set, receives an event for every recorded usage.
	Journal *audit.Journal

	// Metrics, if set, receives Prometheus metrics.
	Metrics *Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewManager creates an admission controller.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("plan resolver is required")
	}

	policy := DefaultPolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan policy: %w", err)
	}

	store := cfg.Store
	if store == nil {
		store = storage.NewMemoryStore()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		store:    store,
		resolver: cfg.Resolver,
		journal:  cfg.Journal,
		metrics:  cfg.Metrics,
		logger:   logger.With("component", "quota.manager"),
		now:      now,
		policy:   policy,
	}, nil
}

// SetPolicy atomically replaces the plan policy. Used by config hot reload.
func (m *Manager) SetPolicy(policy Policy) error {
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("invalid plan policy: %w", err)
	}

	m.mu.Lock()
	m.policy = policy
	m.mu.Unlock()

	m.logger.Info("plan policy updated")
	return nil
}

// Policy returns the current plan policy.
func (m *Manager) Policy() Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// CheckCapability reports whether a user may consume one unit of a
// capability. The check is read-only with respect to the capability
// counters: a later RecordUsage call charges the unit. Window resets that
// are due (daily and weekly groups only) are evaluated and persisted as
// part of the check. A tie with the limit denies.
//
// Unresolvable users are an error here; without a tier the check cannot be
// evaluated, and callers must fail closed.
func (m *Manager) CheckCapability(ctx context.Context, userID string, capability Capability) (*CapabilityResult, error) {
	defer m.metrics.observeDuration("check_capability", time.Now())

	tier, err := m.resolver.ResolveTier(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolving plan tier for %q: %w", userID, err)
	}

	limits, err := m.limits(tier)
	if err != nil {
		return nil, err
	}
	limit, err := limits.ForCapability(capability)
	if err != nil {
		return nil, err
	}

	if limit == Unlimited {
		m.metrics.recordCapabilityCheck(capability, resultUnlimited)
		return &CapabilityResult{Allowed: true, Unlimited: true}, nil
	}

	now := m.now()
	var applied staleGroups
	state, err := m.store.Update(ctx, userID, now, func(s *storage.UsageState) error {
		stale := evaluateWindows(now, s)
		// The minute window belongs to CheckRateLimit alone.
		stale.Minute = false
		applyResets(now, s, stale)
		applied = stale
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	m.metrics.recordResets(applied)

	usage := *counterFor(state, capability)
	result := &CapabilityResult{
		Allowed: usage < limit,
		Limit:   limit,
		Usage:   usage,
	}

	if result.Allowed {
		m.metrics.recordCapabilityCheck(capability, resultAllowed)
	} else {
		m.metrics.recordCapabilityCheck(capability, resultDenied)
		m.logger.Debug("capability denied",
			"user", userID, "capability", capability, "usage", usage, "limit", limit)
	}

	return result, nil
}

// CheckLineCount reports whether a request of lineCount lines is within the
// user's plan ceiling. The bound is inclusive, unlike capability checks.
// No counter is involved and nothing is persisted. An unresolvable user is
// evaluated against the FREE tier's ceiling rather than failing.
func (m *Manager) CheckLineCount(ctx context.Context, userID string, lineCount int) (*LineCountResult, error) {
	defer m.metrics.observeDuration("check_line_count", time.Now())

	limits, err := m.limitsOrFree(ctx, userID)
	if err != nil {
		return nil, err
	}

	limit := limits.MaxLinesPerRequest
	result := &LineCountResult{
		Allowed: limit == Unlimited || lineCount <= limit,
		Limit:   limit,
	}

	if result.Allowed {
		m.metrics.recordLineCountCheck(resultAllowed)
	} else {
		m.metrics.recordLineCountCheck(resultDenied)
	}

	return result, nil
}

// CheckRateLimit performs the combined check-and-increment for the rolling
// 60-second API window. The comparison and the increment happen inside one
// atomic store update, so two concurrent requests from the same user cannot
// both be admitted on the last unit of budget. A denied request consumes
// nothing. When the window has lapsed, the triggering request becomes the
// first of the new window. An unresolvable user is limited at the FREE
// tier's rate.
func (m *Manager) CheckRateLimit(ctx context.Context, userID string) (*RateLimitResult, error) {
	defer m.metrics.observeDuration("check_rate_limit", time.Now())

	limits, err := m.limitsOrFree(ctx, userID)
	if err != nil {
		return nil, err
	}

	limit := limits.RequestsPerMinute
	if limit == Unlimited {
		m.metrics.recordRateLimitCheck(resultUnlimited)
		return &RateLimitResult{Allowed: true, Limit: Unlimited, Remaining: Unlimited}, nil
	}

	now := m.now()
	var result RateLimitResult
	_, err = m.store.Update(ctx, userID, now, func(s *storage.UsageState) error {
		if evaluateWindows(now, s).Minute {
			// Lapsed window: reset and count this request as its first.
			s.WindowStart = now
			s.APIRequests = 1
			result = RateLimitResult{
				Allowed:   true,
				Limit:     limit,
				Remaining: limit - 1,
				Reset:     now.Add(minuteWindow),
			}
			return nil
		}

		if s.APIRequests >= limit {
			// Denied requests must not consume budget.
			result = RateLimitResult{
				Allowed:   false,
				Limit:     limit,
				Remaining: 0,
				Reset:     s.WindowStart.Add(minuteWindow),
			}
			return nil
		}

		s.APIRequests++
		result = RateLimitResult{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - s.APIRequests,
			Reset:     s.WindowStart.Add(minuteWindow),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	if result.Allowed {
		m.metrics.recordRateLimitCheck(resultAllowed)
	} else {
		m.metrics.recordRateLimitCheck(resultDenied)
		m.logger.Debug("rate limit denied", "user", userID, "limit", limit)
	}

	return &result, nil
}

// RecordUsage unconditionally charges one unit of a capability, creating
// the user's state if absent. It is deliberately decoupled from
// CheckCapability so callers can check, run the possibly long downstream
// operation, and only charge after it succeeds. Concurrent check/record
// pairs may overshoot a quota by a small margin; that race is accepted.
func (m *Manager) RecordUsage(ctx context.Context, userID string, capability Capability) error {
	defer m.metrics.observeDuration("record_usage", time.Now())

	now := m.now()
	_, err := m.store.Update(ctx, userID, now, func(s *storage.UsageState) error {
		counter := counterFor(s, capability)
		if counter == nil {
			return fmt.Errorf("%w: %q", ErrUnknownCapability, capability)
		}
		*counter++
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUnknownCapability) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	m.metrics.recordUsage(capability)

	if m.journal != nil {
		// The journal feeds billing, not admission; a failed append must
		// not fail the request that already succeeded.
		if _, err := m.journal.Append(ctx, userID, string(capability), now); err != nil {
			m.logger.Warn("usage event append failed",
				"user", userID, "capability", capability, "error", err)
		}
	}

	return nil
}

// Close releases the manager's store.
func (m *Manager) Close() error {
	return m.store.Close()
}

// limits resolves the policy limits for a tier under the policy lock.
func (m *Manager) limits(tier Tier) (Limits, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy.Limits(tier)
}

// limitsOrFree resolves a user's limits, downgrading an unresolvable user
// to the FREE tier. This permissiveness floor is specific to line-count and
// rate-limit checks; capability checks treat resolution failure as fatal.
func (m *Manager) limitsOrFree(ctx context.Context, userID string) (Limits, error) {
	tier, err := m.resolver.ResolveTier(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotResolved) {
			return m.limits(TierFree)
		}
		return Limits{}, fmt.Errorf("resolving plan tier for %q: %w", userID, err)
	}
	return m.limits(tier)
}

// counterFor returns the state counter a capability charges against,
// or nil for an unknown capability.
func counterFor(s *storage.UsageState, capability Capability) *int {
	switch capability {
	case CapabilityExplanation:
		return &s.Explanations
	case CapabilityRefactoring:
		return &s.Refactorings
	case CapabilityErrorAnalysis:
		return &s.ErrorAnalyses
	case CapabilitySecurityScan:
		return &s.SecurityScans
	default:
		return nil
	}
}
