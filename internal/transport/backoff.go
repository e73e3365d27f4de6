package transport

import "time"

// Backoff computes exponential reconnect delays: min(base * 2^n, cap),
// where n is the number of consecutive failures so far. A successful
// connect must call Reset.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration

	attempt int
}

// Next returns the delay before the next attempt and increments the
// failure counter.
func (b *Backoff) Next() time.Duration {
	d := b.Cap
	if b.attempt < 63 {
		if shifted := b.Base << uint(b.attempt); shifted < b.Cap {
			d = shifted
		}
	}
	b.attempt++
	return d
}

// Attempt returns the number of failures recorded so far.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset clears the failure counter.
func (b *Backoff) Reset() {
	b.attempt = 0
}
