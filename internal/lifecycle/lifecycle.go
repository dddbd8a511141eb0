package lifecycle

import "sync/atomic"

var shuttingDown atomic.Bool

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT is received,
// before the external task client stops polling.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true while the worker drains; /health answers 503.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}
