package idempotency

import "time"

// ExpiryPolicy decides whether a record that expires at expiresAt is expired at now.
// Implementations must be pure: now is always supplied by the caller.
type ExpiryPolicy func(expiresAt, now time.Time) bool

// IsExpired is the default ExpiryPolicy. A record is live while now <= expiresAt.
func IsExpired(expiresAt, now time.Time) bool {
	return now.After(expiresAt)
}

// Clock supplies the current time to the Deduplicator.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
