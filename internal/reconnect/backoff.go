// Package reconnect holds the client-side reconnection state: exponential
// backoff and a bounded buffer of outbound payloads awaiting replay.
package reconnect

import "time"

// Default backoff parameters.
const (
	DefaultBase        = 100 * time.Millisecond
	DefaultMaxDelay    = 10 * time.Second
	DefaultMaxAttempts = 5
)

// Backoff tracks retry state for one connection. The zero value uses the
// defaults. A Backoff is owned by a single connection and is not safe for
// concurrent use.
type Backoff struct {
	Base        time.Duration
	MaxDelay    time.Duration
	MaxAttempts int // 0 means retry forever

	// Attempt is the number of delays handed out since the last Reset.
	Attempt int
}

// NewBackoff returns a Backoff with the default parameters.
func NewBackoff() *Backoff {
	return &Backoff{Base: DefaultBase, MaxDelay: DefaultMaxDelay, MaxAttempts: DefaultMaxAttempts}
}

// Next advances the attempt counter and returns the delay before that
// attempt: base * 2^(attempt-1), capped at MaxDelay. It returns false once
// MaxAttempts have been used.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.MaxAttempts > 0 && b.Attempt >= b.MaxAttempts {
		return 0, false
	}
	b.Attempt++
	base := b.Base
	if base <= 0 {
		base = DefaultBase
	}
	limit := b.MaxDelay
	if limit <= 0 {
		limit = DefaultMaxDelay
	}
	d := base
	for i := 1; i < b.Attempt; i++ {
		d *= 2
		if d >= limit {
			return limit, true
		}
	}
	return min(d, limit), true
}

// Exhausted reports whether no attempts remain.
func (b *Backoff) Exhausted() bool {
	return b.MaxAttempts > 0 && b.Attempt >= b.MaxAttempts
}

// Reset clears the attempt counter after a successful connection.
func (b *Backoff) Reset() { b.Attempt = 0 }
