package traffic

import (
	"sync"
	"time"
)

const defaultMaxAge = 5 * time.Minute

// Tracker keeps sliding windows of engine call outcomes. The poll loop and the
// task service record into it; the health endpoint reads the error rate.
type Tracker struct {
	mu             sync.Mutex
	maxAge         time.Duration
	now            func() time.Time
	successTimes   []time.Time
	errorTimes     []time.Time
	throttledTimes []time.Time
}

// NewTracker returns a tracker that forgets outcomes older than maxAge (default 5m).
func NewTracker(maxAge time.Duration) *Tracker {
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	return &Tracker{maxAge: maxAge, now: time.Now}
}

// RecordSuccess records a successful engine call.
func (t *Tracker) RecordSuccess() {
	t.recordOutcome(&t.successTimes)
}

// RecordError records a failed engine call (5xx, network, timeout).
func (t *Tracker) RecordError() {
	t.recordOutcome(&t.errorTimes)
}

// RecordThrottled records a call the engine answered with 429 or the local limiter refused.
func (t *Tracker) RecordThrottled() {
	t.recordOutcome(&t.throttledTimes)
}

func (t *Tracker) recordOutcome(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// CallCount returns the number of outcomes (success + error + throttled) within the window.
func (t *Tracker) CallCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	return countInWindow(t.successTimes, cutoff) +
		countInWindow(t.errorTimes, cutoff) +
		countInWindow(t.throttledTimes, cutoff)
}

// ThrottledCount returns the number of throttled calls within the window.
func (t *Tracker) ThrottledCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countInWindow(t.throttledTimes, t.clock().Add(-window))
}

// ErrorRate returns (errorCount, totalCount) within the window.
// totalCount is successes plus errors; throttled calls are excluded.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	errCount := countInWindow(t.errorTimes, cutoff)
	successCount := countInWindow(t.successTimes, cutoff)
	return errCount, errCount + successCount
}

// Degraded reports whether the error percentage within the window reaches thresholdPct.
// An empty window is never degraded.
func (t *Tracker) Degraded(window time.Duration, thresholdPct int) bool {
	errs, total := t.ErrorRate(window)
	if total == 0 {
		return false
	}
	return errs*100 >= total*thresholdPct
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
	t.throttledTimes = nil
}

func (t *Tracker) clock() time.Time {
	if t.now == nil {
		return time.Now()
	}
	return t.now()
}

func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than maxAge. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	maxAge := t.maxAge
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	cutoff := now.Add(-maxAge)
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
	prune(&t.throttledTimes)
}
