package sync

import "time"

// Backoff is the reconnect policy shared by all accounts.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	// MaxAttempts is the number of consecutive failures tolerated. The
	// failure after that marks the account permanently failed.
	MaxAttempts int
}

// DefaultBackoff waits 1s, 2s, 4s, 8s, 16s and gives up on the sixth
// consecutive failure.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        time.Second,
		Max:         30 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns min(Base * 2^attempts, Max), where attempts is the number
// of failures since the last successful session.
func (b Backoff) Delay(attempts int) time.Duration {
	d := b.Base
	for i := 0; i < attempts; i++ {
		if d >= b.Max/2 {
			return b.Max
		}
		d *= 2
	}
	return min(d, b.Max)
}

// Exhausted reports whether attempts consecutive failures exceed the
// ceiling.
func (b Backoff) Exhausted(attempts int) bool {
	return attempts > b.MaxAttempts
}
