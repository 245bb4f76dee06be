package quota

import (
	"context"
	"fmt"
	"sync"
)

// StaticResolver is a PlanResolver backed by an in-memory tier table.
//
// Production deployments inject a resolver that queries the identity or
// billing system; StaticResolver serves tests and deployments where a
// billing webhook materializes tier assignments directly (for example from
// the config file's `users` section).
type StaticResolver struct {
	mu    sync.RWMutex
	tiers map[string]Tier
}

// NewStaticResolver creates a resolver from an initial tier table.
// The map may be nil.
func NewStaticResolver(tiers map[string]Tier) *StaticResolver {
	table := make(map[string]Tier, len(tiers))
	for userID, tier := range tiers {
		table[userID] = tier
	}
	return &StaticResolver{tiers: table}
}

// ResolveTier returns the tier for a user, or ErrUserNotResolved.
func (r *StaticResolver) ResolveTier(ctx context.Context, userID string) (Tier, error) {
	r.mu.RLock()
	tier, ok := r.tiers[userID]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUserNotResolved, userID)
	}
	return tier, nil
}

// SetTier assigns or updates a user's tier. Takes effect on the next check;
// an upgraded user is admitted immediately without any counter migration.
func (r *StaticResolver) SetTier(userID string, tier Tier) {
	r.mu.Lock()
	r.tiers[userID] = tier
	r.mu.Unlock()
}

// Remove deletes a user's tier assignment.
func (r *StaticResolver) Remove(userID string) {
	r.mu.Lock()
	delete(r.tiers, userID)
	r.mu.Unlock()
}
