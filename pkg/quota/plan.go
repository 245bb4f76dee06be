package quota

import "fmt"

// Unlimited marks a capability as uncapped for a plan.
// An unlimited capability short-circuits all counter logic.
const Unlimited = -1

// Limits holds the numeric caps for one plan tier.
type Limits struct {
	// Explanation is the daily explanation cap.
	Explanation int `yaml:"explanation"`

	// Refactoring is the daily refactoring cap.
	Refactoring int `yaml:"refactoring"`

	// ErrorAnalysis is the daily error-analysis cap.
	ErrorAnalysis int `yaml:"error_analysis"`

	// SecurityScan is the weekly security-scan cap.
	SecurityScan int `yaml:"security_scan"`

	// MaxLinesPerRequest is the per-request line ceiling (inclusive).
	MaxLinesPerRequest int `yaml:"max_lines_per_request"`

	// RequestsPerMinute is the rolling 60-second API request cap.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// ForCapability returns the cap for a single capability.
func (l Limits) ForCapability(c Capability) (int, error) {
	switch c {
	case CapabilityExplanation:
		return l.Explanation, nil
	case CapabilityRefactoring:
		return l.Refactoring, nil
	case CapabilityErrorAnalysis:
		return l.ErrorAnalysis, nil
	case CapabilitySecurityScan:
		return l.SecurityScan, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCapability, c)
	}
}

// Policy is the closed mapping from plan tier to limits.
// Adding a tier is a compile-time change here, not a runtime sentinel.
type Policy struct {
	Free Limits
	Pro  Limits
}

// DefaultPolicy returns the built-in plan limits.
func DefaultPolicy() Policy {
	return Policy{
		Free: Limits{
			Explanation:        10, // per day
			Refactoring:        5,  // per day
			ErrorAnalysis:      10, // per day
			SecurityScan:       3,  // per week
			MaxLinesPerRequest: 100,
			RequestsPerMinute:  30,
		},
		Pro: Limits{
			Explanation:        Unlimited,
			Refactoring:        Unlimited,
			ErrorAnalysis:      Unlimited,
			SecurityScan:       Unlimited,
			MaxLinesPerRequest: 500,
			RequestsPerMinute:  120,
		},
	}
}

// Limits returns the limits for a tier. Total over the tier enumeration;
// ErrUnknownTier indicates an implementation error, not bad input.
func (p Policy) Limits(tier Tier) (Limits, error) {
	switch tier {
	case TierFree:
		return p.Free, nil
	case TierPro:
		return p.Pro, nil
	default:
		return Limits{}, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
}

// Validate checks the policy invariants: every cap is positive or
// Unlimited, and PRO is at least as permissive as FREE on every field.
func (p Policy) Validate() error {
	for _, tier := range []struct {
		name   string
		limits Limits
	}{
		{"free", p.Free},
		{"pro", p.Pro},
	} {
		for _, field := range []struct {
			name  string
			value int
		}{
			{"explanation", tier.limits.Explanation},
			{"refactoring", tier.limits.Refactoring},
			{"error_analysis", tier.limits.ErrorAnalysis},
			{"security_scan", tier.limits.SecurityScan},
			{"max_lines_per_request", tier.limits.MaxLinesPerRequest},
			{"requests_per_minute", tier.limits.RequestsPerMinute},
		} {
			if field.value <= 0 && field.value != Unlimited {
				return fmt.Errorf("%s.%s must be positive or unlimited, got %d",
					tier.name, field.name, field.value)
			}
		}
	}

	for _, field := range []struct {
		name string
		free int
		pro  int
	}{
		{"explanation", p.Free.Explanation, p.Pro.Explanation},
		{"refactoring", p.Free.Refactoring, p.Pro.Refactoring},
		{"error_analysis", p.Free.ErrorAnalysis, p.Pro.ErrorAnalysis},
		{"security_scan", p.Free.SecurityScan, p.Pro.SecurityScan},
		{"max_lines_per_request", p.Free.MaxLinesPerRequest, p.Pro.MaxLinesPerRequest},
		{"requests_per_minute", p.Free.RequestsPerMinute, p.Pro.RequestsPerMinute},
	} {
		if lessPermissive(field.pro, field.free) {
			return fmt.Errorf("pro.%s (%d) must not be below free.%s (%d)",
				field.name, field.pro, field.name, field.free)
		}
	}

	return nil
}

// lessPermissive reports whether cap a is stricter than cap b,
// treating Unlimited as the most permissive value.
func lessPermissive(a, b int) bool {
	if a == Unlimited {
		return false
	}
	if b == Unlimited {
		return true
	}
	return a < b
}
