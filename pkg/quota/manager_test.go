package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"codecoach-hq/saturn/pkg/quota/storage"
)

// fakeClock is a controllable clock for window-boundary simulation.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testFixture bundles a manager with its injected collaborators.
type testFixture struct {
	manager  *Manager
	resolver *StaticResolver
	store    *storage.MemoryStore
	clock    *fakeClock
}

func newTestFixture(t *testing.T, tiers map[string]Tier) *testFixture {
	t.Helper()

	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	resolver := NewStaticResolver(tiers)
	// Noon, well clear of the midnight boundary.
	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local))

	manager, err := NewManager(ManagerConfig{
		Store:    store,
		Resolver: resolver,
		Now:      clock.Now,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	return &testFixture{manager: manager, resolver: resolver, store: store, clock: clock}
}

func TestNewManager_RequiresResolver(t *testing.T) {
	_, err := NewManager(ManagerConfig{})
	if err == nil {
		t.Fatal("Expected error without a resolver")
	}
}

func TestNewManager_RejectsInvalidPolicy(t *testing.T) {
	policy := DefaultPolicy()
	policy.Pro.MaxLinesPerRequest = 10 // below free

	_, err := NewManager(ManagerConfig{
		Resolver: NewStaticResolver(nil),
		Policy:   &policy,
	})
	if err == nil {
		t.Fatal("Expected error for invalid policy")
	}
}

func TestCheckCapability_QuotaCycle(t *testing.T) {
	// A free user's explanation quota (10/day): exactly ten
	// check-then-record cycles succeed, the eleventh check denies.
	fx := newTestFixture(t, map[string]Tier{"u1": TierFree})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		result, err := fx.manager.CheckCapability(ctx, "u1", CapabilityExplanation)
		if err != nil {
			t.Fatalf("CheckCapability %d failed: %v", i+1, err)
		}
		if !result.Allowed {
			t.Fatalf("Check %d denied, usage %d of %d", i+1, result.Usage, result.Limit)
		}
		if err := fx.manager.RecordUsage(ctx, "u1", CapabilityExplanation); err != nil {
			t.Fatalf("RecordUsage %d failed: %v", i+1, err)
		}
	}

	result, err := fx.manager.CheckCapability(ctx, "u1", CapabilityExplanation)
	if err != nil {
		t.Fatalf("CheckCapability failed: %v", err)
	}
	if result.Allowed {
		t.Error("Eleventh check should be denied")
	}
	if result.Limit != 10 {
		t.Errorf("Expected limit 10, got %d", result.Limit)
	}
	if result.Usage != 10 {
		t.Errorf("Expected usage 10, got %d", result.Usage)
	}
}

func TestCheckCapability_TieDenies(t *testing.T) {
	fx := newTestFixture(t, map[string]Tier{"u1": TierFree})
	ctx := context.Background()

	// Security scans: free limit 3. At exactly 3 the check must deny.
	for i := 0; i < 3; i++ {
		if err := fx.manager.RecordUsage(ctx, "u1", CapabilitySecurityScan); err != nil {
			t.Fatalf("RecordUsage failed: %v", err)
		}
	}

	result, err := fx.manager.CheckCapability(ctx, "u1", CapabilitySecurityScan)
	if err != nil {
		t.Fatalf("CheckCapability failed: %v", err)
	}
	if result.Allowed {
		t.Error("Usage equal to limit must deny")
	}
}

func TestCheckCapability_UpgradeToProMidstream(t *testing.T) {
	fx := newTestFixture(t, map[string]Tier{"u1": TierFree})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := fx.manager.RecordUsage(ctx, "u1", CapabilityExplanation); err != nil {
			t.Fatalf("RecordUsage failed: %v", err)
		}
	}

	result, err := fx.manager.CheckCapability(ctx, "u1", CapabilityExplanation)
	if err != nil {
		t.Fatalf("CheckCapability failed: %v", err)
	}
	if result.Allowed {
		t.Fatal("Exhausted free quota should deny")
	}

	// Upgrading takes effect on the next check with no counter migration.
	fx.resolver.SetTier("u1", TierPro)

	result, err = fx.manager.CheckCapability(ctx, "u1", CapabilityExplanation)
	if err != nil {
		t.Fatalf("CheckCapability failed: %v", err)
	}
	if !result.Allowed {
		t.Error("Pro user should be allowed immediately after upgrade")
	}
	if !result.Unlimited {
		t.Error("Pro capability check should report unlimited")
	}
}

func TestCheckCapability_CheckIsReadOnly(t *testing.T) {
	fx := newTestFixture(t, map[string]Tier{"u1": TierFree})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := fx.manager.CheckCapability(ctx, "u1", CapabilityExplanation); err != nil {
			t.Fatalf("CheckCapability failed: %v", err)
		}
	}

	result, err := fx.manager.CheckCapability(ctx, "u1", CapabilityExplanation)
	if err != nil {
		t.Fatalf("CheckCapability failed: %v", err)
	}
	if result.Usage != 0 {
		t.Errorf("Checks alone must not consume quota, usage = %d", result.Usage)
	}
}

func TestCheckCapability_DailyReset(t *testing.T) {
	fx := newTestFixture(t, map[string]Tier{"u1": TierFree})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := fx.manager.RecordUsage(ctx, "u1", CapabilityExplanation); err != nil {
			t.Fatalf("RecordUsage failed: %v", err)
		}
	}
	if err := fx.manager.RecordUsage(ctx, "u1", CapabilitySecurityScan); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	// Next calendar day: daily counters reset, the weekly one survives.
	fx.clock.Advance(24 * time.Hour)

	result, err := fx.manager.CheckCapability(ctx, "u1", CapabilityExplanation)
	if err != nil {
		t.Fatalf("CheckCapability failed: %v", err)
	}
	if !result.Allowed || result.Usage != 0 {
		t.Errorf("Expected fresh daily quota, got allowed=%v usage=%d", result.Allowed, result.Usage)
	}

	state, err := fx.store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state.SecurityScans != 1 {
		t.Errorf("Weekly counter must survive a daily reset, got %d", state.SecurityScans)
	}

	result, err = fx.manager.CheckCapability(ctx, "u1", CapabilitySecurityScan)
	if err != nil {
		t.Fatalf("CheckCapability failed: %v", err)
	}
	if result.Usage != 1 {
		t.Errorf("Expected security scan usage 1, got %d", result.Usage)
	}
}

func TestCheckCapability_WeeklyReset(t *testing.T) {
	fx := newTestFixture(t, map[string]Tier{"u1": TierFree})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := fx.manager.RecordUsage(ctx, "u1", CapabilitySecurityScan); err != nil {
			t.Fatalf("RecordUsage failed: %v", err)
		}
	}

	fx.clock.Advance(7 * 24 * time.Hour)

	result, err := fx.manager.CheckCapability(ctx, "u1", CapabilitySecurityScan)
	if err != nil {
		t.Fatalf("CheckCapability failed: %v", err)
	}
	if !result.Allowed || result.Usage != 0 {
		t.Errorf("Expected fresh weekly quota, got allowed=%v usage=%d", result.Allowed, result.Usage)
	}
}

func TestCheckCapability_DoesNotTouchMinuteWindow(t *testing.T) {
	fx := newTestFixture(t, map[string]Tier{"u1": TierFree})
	ctx := context.Background()

	// Consume some rate budget, then let the minute window lapse.
	for i := 0; i < 5; i++ {
		if _, err := fx.manager.CheckRateLimit(ctx, "u1"); err != nil {
			t.Fatalf("CheckRateLimit failed: %v", err)
		}
	}
	windowStart := fx.clock.Now()
	fx.clock.Advance(2 * time.Minute)

	// A capability check must not reset the (stale) minute window.
	if _, err := fx.manager.CheckCapability(ctx, "u1", CapabilityExplanation); err != nil {
		t.Fatalf("CheckCapability failed: %v", err)
	}

	state, err := fx.store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state.APIRequests != 5 {
		t.Errorf("Capability check must not touch the API counter, got %d", state.APIRequests)
	}
	if !state.WindowStart.Equal(windowStart) {
		t.Error("Capability check must not advance the minute window start")
	}
}

func TestCheckCapability_UnresolvedUserIsFatal(t *testing.T) {
	fx := newTestFixture(t, nil)

	_, err := fx.manager.CheckCapability(context.Background(), "ghost", CapabilityExplanation)
	if !errors.Is(err, ErrUserNotResolved) {
		t.Errorf("Expected ErrUserNotResolved, got %v", err)
	}
}

func TestCheckLineCount_Boundaries(t *testing.T) {
	fx := newTestFixture(t, map[string]Tier{
		"free-user": TierFree,
		"pro-user":  TierPro,
	})
	ctx := context.Background()

	tests := []struct {
		user      string
		lineCount int
		allowed   bool
		limit     int
	}{
		{"free-user", 100, true, 100},
		{"free-user", 101, false, 100},
		{"pro-user", 500, true, 500},
		{"pro-user", 501, false, 500},
		// Unresolved users are evaluated at the free ceiling.
		{"ghost", 100, true, 100},
		{"ghost", 101, false, 100},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.user, tt.lineCount), func(t *testing.T) {
			result, err := fx.manager.CheckLineCount(ctx, tt.user, tt.lineCount)
			if err != nil {
				t.Fatalf("CheckLineCount failed: %v", err)
			}
			if result.Allowed != tt.allowed {
				t.Errorf("Expected allowed=%v, got %v", tt.allowed, result.Allowed)
			}
			if result.Limit != tt.limit {
				t.Errorf("Expected limit %d, got %d", tt.limit, result.Limit)
			}
		})
	}
}

func TestCheckRateLimit_BudgetAndRecovery(t *testing.T) {
	fx := newTestFixture(t, map[string]Tier{"u1": TierPro})
	ctx := context.Background()

	// 120 requests in quick succession on pro: all admitted.
	for i := 0; i < 120; i++ {
		result, err := fx.manager.CheckRateLimit(ctx, "u1")
		if err != nil {
			t.Fatalf("CheckRateLimit %d failed: %v", i+1, err)
		}
		if !result.Allowed {
			t.Fatalf("Request %d denied, remaining %d", i+1, result.Remaining)
		}
		if want := 120 - (i + 1); result.Remaining != want {
			t.Fatalf("Request %d: remaining = %d, want %d", i+1, result.Remaining, want)
		}
	}

	// 121st inside the same window: denied, remaining 0.
	result, err := fx.manager.CheckRateLimit(ctx, "u1")
	if err != nil {
		t.Fatalf("CheckRateLimit failed: %v", err)
	}
	if result.Allowed {
		t.Error("Request over budget should be denied")
	}
	if result.Remaining != 0 {
		t.Errorf("Expected remaining 0, got %d", result.Remaining)
	}

	// Denials consume nothing: repeated denial leaves the counter alone.
	if _, err := fx.manager.CheckRateLimit(ctx, "u1"); err != nil {
		t.Fatalf("CheckRateLimit failed: %v", err)
	}
	state, err := fx.store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state.APIRequests != 120 {
		t.Errorf("Denied requests must not increment the counter, got %d", state.APIRequests)
	}

	// After the window lapses, the triggering request opens a new window.
	fx.clock.Advance(61 * time.Second)

	result, err = fx.manager.CheckRateLimit(ctx, "u1")
	if err != nil {
		t.Fatalf("CheckRateLimit failed: %v", err)
	}
	if !result.Allowed {
		t.Error("Request after window lapse should be allowed")
	}
	if result.Remaining != 119 {
		t.Errorf("Expected remaining 119 in new window, got %d", result.Remaining)
	}
}

func TestCheckRateLimit_UnresolvedUserGetsFreeRate(t *testing.T) {
	fx := newTestFixture(t, nil)
	ctx := context.Background()

	result, err := fx.manager.CheckRateLimit(ctx, "ghost")
	if err != nil {
		t.Fatalf("CheckRateLimit failed: %v", err)
	}
	if !result.Allowed {
		t.Error("First request should be allowed")
	}
	if result.Limit != 30 {
		t.Errorf("Unresolved user should be rate limited at the free tier (30), got %d", result.Limit)
	}
}

func TestCheckRateLimit_ConcurrentRequestsRespectBudget(t *testing.T) {
	fx := newTestFixture(t, map[string]Tier{"u1": TierFree})
	ctx := context.Background()

	const attempts = 100 // free limit is 30

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := fx.manager.CheckRateLimit(ctx, "u1")
			if err != nil {
				t.Errorf("CheckRateLimit failed: %v", err)
				return
			}
			if result.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 30 {
		t.Errorf("Expected exactly 30 admitted requests, got %d", allowed)
	}

	state, err := fx.store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state.APIRequests != 30 {
		t.Errorf("Expected counter 30, got %d", state.APIRequests)
	}
}

func TestRecordUsage_CreatesStateLazily(t *testing.T) {
	fx := newTestFixture(t, map[string]Tier{"u1": TierFree})
	ctx := context.Background()

	if err := fx.manager.RecordUsage(ctx, "u1", CapabilityRefactoring); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	state, err := fx.store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state == nil {
		t.Fatal("Expected state to be created")
	}
	if state.Refactorings != 1 {
		t.Errorf("Expected refactoring count 1, got %d", state.Refactorings)
	}
}

func TestRecordUsage_IgnoresPlanAndLimit(t *testing.T) {
	fx := newTestFixture(t, map[string]Tier{"u1": TierFree})
	ctx := context.Background()

	// Recording past the limit is the caller's accepted over-quota drift.
	for i := 0; i < 12; i++ {
		if err := fx.manager.RecordUsage(ctx, "u1", CapabilityExplanation); err != nil {
			t.Fatalf("RecordUsage failed: %v", err)
		}
	}

	state, err := fx.store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state.Explanations != 12 {
		t.Errorf("Expected 12 recorded, got %d", state.Explanations)
	}
}

func TestRecordUsage_UnknownCapability(t *testing.T) {
	fx := newTestFixture(t, map[string]Tier{"u1": TierFree})

	err := fx.manager.RecordUsage(context.Background(), "u1", Capability("telepathy"))
	if !errors.Is(err, ErrUnknownCapability) {
		t.Errorf("Expected ErrUnknownCapability, got %v", err)
	}
}

func TestSetPolicy_HotReload(t *testing.T) {
	fx := newTestFixture(t, map[string]Tier{"u1": TierFree})
	ctx := context.Background()

	policy := DefaultPolicy()
	policy.Free.Explanation = 2
	if err := fx.manager.SetPolicy(policy); err != nil {
		t.Fatalf("SetPolicy failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := fx.manager.RecordUsage(ctx, "u1", CapabilityExplanation); err != nil {
			t.Fatalf("RecordUsage failed: %v", err)
		}
	}

	result, err := fx.manager.CheckCapability(ctx, "u1", CapabilityExplanation)
	if err != nil {
		t.Fatalf("CheckCapability failed: %v", err)
	}
	if result.Allowed || result.Limit != 2 {
		t.Errorf("Expected denial at the reloaded limit 2, got allowed=%v limit=%d",
			result.Allowed, result.Limit)
	}

	bad := DefaultPolicy()
	bad.Free.Explanation = 0
	if err := fx.manager.SetPolicy(bad); err == nil {
		t.Error("Expected SetPolicy to reject an invalid policy")
	}
}

// failingStore simulates an unreachable backend.
type failingStore struct{}

func (failingStore) Get(ctx context.Context, userID string) (*storage.UsageState, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Update(ctx context.Context, userID string, now time.Time, mutate func(*storage.UsageState) error) (*storage.UsageState, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Delete(ctx context.Context, userID string) error { return errors.New("connection refused") }

func (failingStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	return 0, errors.New("connection refused")
}

func (failingStore) Close() error { return nil }

func TestStorageFailurePropagates(t *testing.T) {
	manager, err := NewManager(ManagerConfig{
		Store:    failingStore{},
		Resolver: NewStaticResolver(map[string]Tier{"u1": TierFree}),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	ctx := context.Background()

	if _, err := manager.CheckCapability(ctx, "u1", CapabilityExplanation); !errors.Is(err, ErrStorageFailure) {
		t.Errorf("CheckCapability: expected ErrStorageFailure, got %v", err)
	}
	if _, err := manager.CheckRateLimit(ctx, "u1"); !errors.Is(err, ErrStorageFailure) {
		t.Errorf("CheckRateLimit: expected ErrStorageFailure, got %v", err)
	}
	if err := manager.RecordUsage(ctx, "u1", CapabilityExplanation); !errors.Is(err, ErrStorageFailure) {
		t.Errorf("RecordUsage: expected ErrStorageFailure, got %v", err)
	}

	// Line-count checks never touch storage and keep working.
	if _, err := manager.CheckLineCount(ctx, "u1", 50); err != nil {
		t.Errorf("CheckLineCount should not depend on storage: %v", err)
	}
}
