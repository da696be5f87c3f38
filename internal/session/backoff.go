package session

import "time"

// Backoff bounds the reconnect loop. MaxAttempts 0 retries forever.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Factor      float64
	MaxAttempts int
}

// DefaultBackoff starts at 1s, doubles, caps at 30s and gives up after
// ten consecutive attempts.
func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Max: 30 * time.Second, Factor: 2, MaxAttempts: 10}
}

// Delay returns the wait before attempt n, counting from 1.
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(b.Initial)
	for i := 1; i < n; i++ {
		d *= b.Factor
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	if time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt n is over the limit.
func (b Backoff) Exhausted(n int) bool {
	return b.MaxAttempts > 0 && n > b.MaxAttempts
}
