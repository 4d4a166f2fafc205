package service

import (
	"sync/atomic"

	"github.com/kjstillabower/weather-aggregate-service/internal/observability"
)

// overlapTracker counts read-modify-write sequences on the aggregate that are in progress at
// the same time. It never blocks a writer; overlaps are last-write-wins and only counted.
type overlapTracker struct {
	active atomic.Int64
}

// Begin records the start of a read-modify-write and returns how many are now in progress,
// including this one. Callers must call End when the write completes or is abandoned.
func (t *overlapTracker) Begin() int64 {
	n := t.active.Add(1)
	if n > 1 {
		observability.AggregateWriteOverlapTotal.Inc()
	}
	return n
}

// End records completion of a read-modify-write.
func (t *overlapTracker) End() {
	if t.active.Add(-1) < 0 {
		t.active.Store(0)
	}
}

// Active returns the number of read-modify-writes in progress.
func (t *overlapTracker) Active() int64 {
	return t.active.Load()
}
