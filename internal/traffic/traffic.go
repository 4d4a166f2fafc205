// Package traffic keeps a sliding window of upstream fetch outcomes for health reporting.
package traffic

import (
	"sync"
	"time"
)

// DefaultRetention bounds how far back outcomes are kept.
const DefaultRetention = 15 * time.Minute

// Tracker records per-entity fetch outcomes. The zero value is not usable; use NewTracker.
type Tracker struct {
	mu           sync.Mutex
	retention    time.Duration
	successTimes []time.Time
	errorTimes   []time.Time
	now          func() time.Time
}

// NewTracker returns a Tracker keeping outcomes for retention (DefaultRetention when <= 0).
// Windows passed to ErrorRate longer than retention are effectively capped at it.
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{retention: retention, now: time.Now}
}

// RecordSuccess records a fetch that produced a record (degraded forecasts included).
func (t *Tracker) RecordSuccess() {
	t.recordOutcome(&t.successTimes)
}

// RecordError records a fetch that produced nothing.
func (t *Tracker) RecordError() {
	t.recordOutcome(&t.errorTimes)
}

func (t *Tracker) recordOutcome(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// ErrorRate returns (errorCount, totalCount) within the window.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	errCount := countInWindow(t.errorTimes, cutoff)
	successCount := countInWindow(t.successTimes, cutoff)
	return errCount, errCount + successCount
}

// Breached reports whether the error percentage within window is at least pct.
// An empty window never breaches.
func (t *Tracker) Breached(window time.Duration, pct int) bool {
	if window <= 0 || pct <= 0 {
		return false
	}
	errs, total := t.ErrorRate(window)
	if total == 0 {
		return false
	}
	return float64(errs)*100/float64(total) >= float64(pct)
}

// countInWindow counts timestamps that are not before the cutoff time.
func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than the retention. Must be called with mutex held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.errorTimes)
}
