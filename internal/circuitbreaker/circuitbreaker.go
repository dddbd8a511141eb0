package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Call while the circuit is open.
var ErrOpen = errors.New("circuit breaker open")

// State is the circuit breaker state (Closed, Open, HalfOpen).
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards engine calls: it opens after repeated failures and lets
// probe calls through in half-open state once the timeout has elapsed.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	component        string
	isFailure        func(error) bool
	onStateChange    func(from, to State)
	now              func() time.Time
}

// Config holds circuit breaker parameters.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	Component        string
	// IsFailure decides whether an error counts towards opening the circuit.
	// Nil counts every error. Engine 4xx answers (task gone, bad request) should not trip it.
	IsFailure     func(error) bool
	OnStateChange func(from, to State)
}

// New creates a new CircuitBreaker with the given config.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
		component:        cfg.Component,
		isFailure:        cfg.IsFailure,
		onStateChange:    cfg.OnStateChange,
		now:              time.Now,
	}
}

// Component returns the name used in metrics and logs.
func (cb *CircuitBreaker) Component() string {
	return cb.component
}

// Call runs fn when the circuit allows it. When open, returns ErrOpen until the
// timeout has elapsed, then moves to half-open and lets fn probe the engine.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailureTime) < cb.timeout {
			cb.mu.Unlock()
			return ErrOpen
		}
		cb.transition(StateHalfOpen)
		cb.successCount = 0
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && cb.counts(err) {
		cb.failureCount++
		cb.lastFailureTime = cb.now()
		if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
			cb.transition(StateOpen)
			cb.failureCount = 0
		}
		return err
	}

	cb.successCount++
	cb.failureCount = 0
	if cb.state == StateHalfOpen && cb.successCount >= cb.successThreshold {
		cb.transition(StateClosed)
		cb.successCount = 0
	}
	return err
}

// State returns the current state (for metrics and health).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) counts(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if cb.isFailure == nil {
		return true
	}
	return cb.isFailure(err)
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}
