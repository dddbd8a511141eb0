package externaltask

import (
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

// BackoffStrategy decides how long the poll loop waits after a fetch.
// Reconfigure is called with the result of every fetch.
type BackoffStrategy interface {
	Reconfigure(tasks []*ExternalTask)
	CalculateBackoffTime() time.Duration
}

const (
	DefaultBackoffInitial = 500 * time.Millisecond
	DefaultBackoffMax     = 60 * time.Second
	DefaultBackoffFactor  = 2
)

// ExponentialBackoff grows the wait on every empty fetch and resets as soon as
// tasks arrive.
type ExponentialBackoff struct {
	mu   sync.Mutex
	b    *backoff.Backoff
	next time.Duration
}

// NewExponentialBackoff returns a strategy starting at initial, multiplying by
// factor up to max. Zero values take the defaults.
func NewExponentialBackoff(initial, max time.Duration, factor float64) *ExponentialBackoff {
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	if factor <= 1 {
		factor = DefaultBackoffFactor
	}
	return &ExponentialBackoff{
		b: &backoff.Backoff{Min: initial, Max: max, Factor: factor},
	}
}

func (e *ExponentialBackoff) Reconfigure(tasks []*ExternalTask) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(tasks) > 0 {
		e.b.Reset()
		e.next = 0
		return
	}
	e.next = e.b.Duration()
}

func (e *ExponentialBackoff) CalculateBackoffTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next
}

// noBackoff is used when the backoff strategy is disabled.
type noBackoff struct{}

func (noBackoff) Reconfigure([]*ExternalTask)         {}
func (noBackoff) CalculateBackoffTime() time.Duration { return 0 }
