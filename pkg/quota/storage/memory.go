package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore implements Store using in-memory storage.
// This is the default store and provides fast access with no persistence.
// All data is lost when the process exits.
//
// MemoryStore serializes mutation per user key: Update locks only the entry
// for the requested user, so concurrent requests for different users never
// contend on a shared lock.
type MemoryStore struct {
	// entries maps user ID to its locked usage state.
	entries map[string]*memoryEntry

	// mu protects access to the entries map, not the states themselves.
	mu sync.RWMutex

	// cleanupInterval is how often to run the retention sweep.
	cleanupInterval time.Duration

	// done signals the cleanup goroutine to stop.
	done      chan struct{}
	closeOnce sync.Once
}

// memoryEntry pairs a usage state with its per-key lock.
type memoryEntry struct {
	mu    sync.Mutex
	state *UsageState
}

// MemoryStoreConfig configures the memory store.
type MemoryStoreConfig struct {
	// CleanupInterval is how often to sweep for idle states.
	// Default: 1 minute
	CleanupInterval time.Duration

	// RetentionPeriod is how long to keep idle states.
	// States not updated within this period are eligible for cleanup.
	// Default: 30 days
	RetentionPeriod time.Duration
}

// NewMemoryStore creates a new in-memory usage store with default settings.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(MemoryStoreConfig{})
}

// NewMemoryStoreWithConfig creates a new in-memory store with custom configuration.
func NewMemoryStoreWithConfig(cfg MemoryStoreConfig) *MemoryStore {
	// Apply defaults
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.RetentionPeriod == 0 {
		cfg.RetentionPeriod = 30 * 24 * time.Hour
	}

	store := &MemoryStore{
		entries:         make(map[string]*memoryEntry),
		cleanupInterval: cfg.CleanupInterval,
		done:            make(chan struct{}),
	}

	// Start background cleanup goroutine
	go store.cleanupLoop(cfg.RetentionPeriod)

	return store
}

// Get retrieves the usage state for a user.
func (m *MemoryStore) Get(ctx context.Context, userID string) (*UsageState, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}
	if m.isClosed() {
		return nil, ErrStoreClosed
	}

	m.mu.RLock()
	entry, exists := m.entries[userID]
	m.mu.RUnlock()

	if !exists {
		return nil, nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state.Clone(), nil
}

// Update atomically applies mutate to the user's state, creating a fresh
// state stamped at now if none exists.
func (m *MemoryStore) Update(ctx context.Context, userID string, now time.Time, mutate func(*UsageState) error) (*UsageState, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}
	if mutate == nil {
		return nil, fmt.Errorf("mutate function cannot be nil")
	}
	if m.isClosed() {
		return nil, ErrStoreClosed
	}

	entry := m.entry(userID, now)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// Mutate a copy so a failed mutate leaves the stored state untouched.
	working := entry.state.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}

	working.UpdatedAt = now
	entry.state = working

	return working.Clone(), nil
}

// Delete removes the usage state for a user.
func (m *MemoryStore) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if m.isClosed() {
		return ErrStoreClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, userID)
	return nil
}

// Cleanup removes states not updated since olderThan.
func (m *MemoryStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	if m.isClosed() {
		return 0, ErrStoreClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for userID, entry := range m.entries {
		entry.mu.Lock()
		idle := entry.state.UpdatedAt.Before(olderThan)
		entry.mu.Unlock()
		if idle {
			delete(m.entries, userID)
			deleted++
		}
	}

	return deleted, nil
}

// Close releases any resources held by the store.
// Operations after Close return ErrStoreClosed.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	return nil
}

// isClosed reports whether Close has been called.
func (m *MemoryStore) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Size returns the current number of stored states.
// This is useful for monitoring and testing.
func (m *MemoryStore) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// entry returns the entry for a user, creating it if absent.
func (m *MemoryStore) entry(userID string, now time.Time) *memoryEntry {
	m.mu.RLock()
	entry, exists := m.entries[userID]
	m.mu.RUnlock()
	if exists {
		return entry
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check under the write lock; a concurrent Update may have created it.
	if entry, exists = m.entries[userID]; exists {
		return entry
	}

	entry = &memoryEntry{state: NewUsageState(userID, now)}
	m.entries[userID] = entry
	return entry
}

// cleanupLoop runs periodic cleanup of idle states.
func (m *MemoryStore) cleanupLoop(retentionPeriod time.Duration) {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-retentionPeriod)
			_, _ = m.Cleanup(context.Background(), cutoff)
		case <-m.done:
			return
		}
	}
}
