package quota

import (
	"time"

	"codecoach-hq/saturn/pkg/quota/storage"
)

// Window durations. The daily window is a calendar-day boundary rather
// than a rolling 24 hours; the weekly and minute windows are rolling.
const (
	weeklyWindow = 7 * 24 * time.Hour
	minuteWindow = time.Minute
)

// staleGroups marks which counter groups have outlived their window and
// must be reset before their counters are read or written.
type staleGroups struct {
	// Daily covers explanations, refactorings and error analyses.
	Daily bool

	// Weekly covers security scans.
	Weekly bool

	// Minute covers the API request window.
	Minute bool
}

// Any reports whether any group is stale.
func (g staleGroups) Any() bool {
	return g.Daily || g.Weekly || g.Minute
}

// evaluateWindows determines which counter groups of a state are stale at
// time now. Comparing a counter to its limit without first consulting this
// is incorrect: the counter's value is only meaningful relative to its own
// window-start timestamp.
//
//   - Daily: stale when now falls on a different local calendar day than
//     the last daily reset.
//   - Weekly: stale when 7 full days have elapsed since the last weekly reset.
//   - Minute: stale when strictly more than 60 seconds have elapsed since
//     the window start.
func evaluateWindows(now time.Time, s *storage.UsageState) staleGroups {
	return staleGroups{
		Daily:  !sameCalendarDay(now, s.LastDailyReset),
		Weekly: now.Sub(s.LastWeeklyReset) >= weeklyWindow,
		Minute: now.Sub(s.WindowStart) > minuteWindow,
	}
}

// applyResets zeroes the counters of every stale group and advances the
// group's timestamp to now. It must run inside the same atomic store update
// as whatever check or increment triggered the evaluation; resetting in a
// separate write would race with concurrent increments. When several groups
// are stale at once they are all reset together.
func applyResets(now time.Time, s *storage.UsageState, stale staleGroups) {
	if stale.Daily {
		s.Explanations = 0
		s.Refactorings = 0
		s.ErrorAnalyses = 0
		s.LastDailyReset = now
	}
	if stale.Weekly {
		s.SecurityScans = 0
		s.LastWeeklyReset = now
	}
	if stale.Minute {
		s.APIRequests = 0
		s.WindowStart = now
	}
}

// sameCalendarDay reports whether two instants fall on the same local
// calendar day (year, month, day tuple). The server clock is authoritative;
// per-user timezones are out of scope.
func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
