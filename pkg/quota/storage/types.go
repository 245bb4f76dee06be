package storage

import (
	"context"
	"errors"
	"time"
)

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("usage store closed")

// Store defines the interface for usage state persistence.
// Implementations must be thread-safe and support concurrent access.
type Store interface {
	// Get retrieves the usage state for a user.
	// Returns nil if no state exists. Returns error on system failure.
	Get(ctx context.Context, userID string) (*UsageState, error)

	// Update atomically applies mutate to the user's state and persists the
	// result. If no state exists, a fresh state stamped at now is created
	// first, so mutate always observes a valid record. Concurrent Updates
	// for the same user are serialized. If mutate returns an error, nothing
	// is persisted and the error is propagated unchanged.
	//
	// The state returned reflects the persisted result.
	Update(ctx context.Context, userID string, now time.Time, mutate func(*UsageState) error) (*UsageState, error)

	// Delete removes the usage state for a user.
	// No-op if state doesn't exist. Returns error on failure.
	Delete(ctx context.Context, userID string) error

	// Cleanup removes states not updated since olderThan.
	// Returns the number of states deleted and any error.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases any resources held by the store.
	// Operations on a closed store return ErrStoreClosed.
	Close() error
}

// UsageState is the persisted counter state for a single user.
//
// Counters are grouped by the window that resets them: Explanations,
// Refactorings and ErrorAnalyses reset on the daily window, SecurityScans on
// the weekly window, and APIRequests on the rolling 60-second window. A
// counter's value is only meaningful relative to its group's reset
// timestamp; callers must evaluate window staleness before comparing a
// counter to a limit.
type UsageState struct {
	// UserID is the opaque, already-authenticated user identifier.
	UserID string

	// Explanations counts explanation requests in the current day.
	Explanations int

	// Refactorings counts refactoring requests in the current day.
	Refactorings int

	// ErrorAnalyses counts error-analysis requests in the current day.
	ErrorAnalyses int

	// SecurityScans counts security scans in the current week.
	SecurityScans int

	// APIRequests counts API requests in the current 60-second window.
	APIRequests int

	// LastDailyReset marks the start of the current daily window.
	LastDailyReset time.Time

	// LastWeeklyReset marks the start of the current weekly window.
	LastWeeklyReset time.Time

	// WindowStart marks the start of the current 60-second window.
	WindowStart time.Time

	// CreatedAt is when this state was first created.
	CreatedAt time.Time

	// UpdatedAt is when this state was last persisted.
	UpdatedAt time.Time
}

// NewUsageState returns a fresh state for a user with all counters at zero
// and all window timestamps stamped at now.
func NewUsageState(userID string, now time.Time) *UsageState {
	return &UsageState{
		UserID:          userID,
		LastDailyReset:  now,
		LastWeeklyReset: now,
		WindowStart:     now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a deep copy of the state.
func (s *UsageState) Clone() *UsageState {
	if s == nil {
		return nil
	}
	copied := *s
	return &copied
}
