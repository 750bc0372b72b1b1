package client

import (
	"math"
	"time"
)

// Backoff computes reconnect delays. The delay before attempt k+1 is
// Initial * Multiplier^k, where k counts the attempts scheduled since the
// last Reset.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64

	// Max caps the delay. Zero means no cap.
	Max time.Duration

	attempts int
}

// NewBackoff returns a backoff starting at initial. A multiplier below 1 is
// treated as 1.
func NewBackoff(initial time.Duration, multiplier float64) Backoff {
	if multiplier < 1 {
		multiplier = 1
	}
	return Backoff{Initial: initial, Multiplier: multiplier}
}

// Delay returns the current delay.
func (b *Backoff) Delay() time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	delay := float64(b.Initial) * math.Pow(b.Multiplier, float64(b.attempts))
	if b.Max > 0 && delay > float64(b.Max) {
		return b.Max
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Increase moves to the next, longer delay.
func (b *Backoff) Increase() {
	b.attempts++
}

// Reset returns the delay to Initial.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the number of increases since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}
