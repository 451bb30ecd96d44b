package idempotency

import "time"

// DefaultTTL is how long a record is replayable when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// config holds the Deduplicator configuration applied at construction time.
type config struct {
	// ttl sets ExpiresAt = CreatedAt + ttl on every new record
	ttl time.Duration

	// clock supplies "now" for expiry checks and record timestamps
	clock Clock

	// expired decides whether a stored record may still be replayed
	expired ExpiryPolicy

	// observer receives lookup, execution and conflict events
	observer Observer

	// fingerprintCheck rejects live replays whose fingerprint differs
	fingerprintCheck bool
}

// Option is a functional option for configuring a Deduplicator.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) {
	f(c)
}

// WithTTL sets how long a record stays replayable.
// Non-positive values are ignored and DefaultTTL is kept.
func WithTTL(ttl time.Duration) Option {
	return optionFunc(func(c *config) {
		if ttl > 0 {
			c.ttl = ttl
		}
	})
}

// WithClock sets the time source. Useful for tests that need to move past
// a record's expiry without sleeping.
func WithClock(clock Clock) Option {
	return optionFunc(func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	})
}

// WithExpiryPolicy replaces IsExpired as the liveness check.
func WithExpiryPolicy(policy ExpiryPolicy) Option {
	return optionFunc(func(c *config) {
		if policy != nil {
			c.expired = policy
		}
	})
}

// WithObserver sets the observer for deduplication events.
// Use MultiObserver to fan out to several backends.
func WithObserver(observer Observer) Option {
	return optionFunc(func(c *config) {
		if observer != nil {
			c.observer = observer
		}
	})
}

// WithFingerprintCheck makes Process reject a replay with
// ErrFingerprintMismatch when the live record was created from a different
// request fingerprint. By default fingerprints are stored but not compared.
func WithFingerprintCheck() Option {
	return optionFunc(func(c *config) {
		c.fingerprintCheck = true
	})
}
