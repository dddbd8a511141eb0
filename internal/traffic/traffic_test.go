package traffic

import (
	"testing"
	"time"
)

// TestCallCount_Empty verifies that CallCount returns 0 when nothing has been recorded.
func TestCallCount_Empty(t *testing.T) {
	tr := NewTracker(0)
	if n := tr.CallCount(time.Minute); n != 0 {
		t.Errorf("CallCount() = %d, want 0", n)
	}
}

// TestRecordThrottled_AndCounts verifies that throttled calls count towards
// CallCount but not towards the error rate.
func TestRecordThrottled_AndCounts(t *testing.T) {
	tr := NewTracker(0)
	tr.RecordThrottled()
	tr.RecordThrottled()
	tr.RecordSuccess()

	if n := tr.ThrottledCount(time.Minute); n != 2 {
		t.Errorf("ThrottledCount() = %d, want 2", n)
	}
	if n := tr.CallCount(time.Minute); n != 3 {
		t.Errorf("CallCount() = %d, want 3", n)
	}
	errs, total := tr.ErrorRate(time.Minute)
	if errs != 0 || total != 1 {
		t.Errorf("ErrorRate() = (%d, %d), want (0, 1)", errs, total)
	}
}

// TestErrorRate_SuccessAndError verifies that ErrorRate correctly calculates
// error rate from recorded success and error events.
func TestErrorRate_SuccessAndError(t *testing.T) {
	tr := NewTracker(0)
	tr.RecordSuccess()
	tr.RecordSuccess()
	tr.RecordError()
	errs, total := tr.ErrorRate(time.Minute)
	if errs != 1 || total != 3 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 3)", errs, total)
	}
}

func TestDegraded(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		errors    int
		pct       int
		want      bool
	}{
		{"empty window", 0, 0, 50, false},
		{"below threshold", 9, 1, 50, false},
		{"at threshold", 1, 1, 50, true},
		{"all errors", 0, 4, 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(0)
			for i := 0; i < tt.successes; i++ {
				tr.RecordSuccess()
			}
			for i := 0; i < tt.errors; i++ {
				tr.RecordError()
			}
			if got := tr.Degraded(time.Minute, tt.pct); got != tt.want {
				t.Errorf("Degraded() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestPrune_DropsOldOutcomes verifies that outcomes older than maxAge are forgotten.
func TestPrune_DropsOldOutcomes(t *testing.T) {
	tr := NewTracker(time.Minute)
	now := time.Now()
	tr.now = func() time.Time { return now }
	tr.RecordError()

	now = now.Add(2 * time.Minute)
	tr.RecordSuccess()

	errs, total := tr.ErrorRate(time.Hour)
	if errs != 0 || total != 1 {
		t.Errorf("ErrorRate() after prune = (%d, %d), want (0, 1)", errs, total)
	}
}

func TestReset(t *testing.T) {
	tr := NewTracker(0)
	tr.RecordError()
	tr.RecordThrottled()
	tr.Reset()
	if n := tr.CallCount(time.Minute); n != 0 {
		t.Errorf("CallCount() after Reset = %d, want 0", n)
	}
}
