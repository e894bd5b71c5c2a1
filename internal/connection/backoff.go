package connection

import "time"

const (
	// BackoffBase is the delay before the first reconnect attempt.
	BackoffBase = 1 * time.Second
	// BackoffCap bounds the delay between reconnect attempts.
	BackoffCap = 30 * time.Second
	// MaxReconnectAttempts is how many consecutive reconnect attempts are
	// made before the manager settles into the disconnected state.
	MaxReconnectAttempts = 5
)

// Backoff returns the delay before the next reconnect attempt given the
// number of consecutive failures so far: min(base * 2^failures, cap).
// It is a pure function so the schedule is testable without a socket.
func Backoff(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	d := BackoffBase << uint(failures)
	if d > BackoffCap || d <= 0 {
		return BackoffCap
	}
	return d
}
