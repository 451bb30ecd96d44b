package idempotency

import (
	"bytes"
	"time"
)

// Record is the persisted outcome of the first successful execution for a token.
// Records are values: stores copy them on the way in and out, and an expired
// record is only ever superseded whole.
type Record struct {
	// Token is the idempotency key. At most one record per token exists in a store.
	Token string

	// RequestFingerprint is the caller's request payload (or a digest of it).
	// It is kept for audit and is not compared on replay unless
	// WithFingerprintCheck is used.
	RequestFingerprint []byte

	// ResponsePayload is the serialized operation result, replayed verbatim.
	ResponsePayload []byte

	// CreatedAt is the time the record was built, right after the operation ran.
	CreatedAt time.Time

	// ExpiresAt is CreatedAt + TTL.
	ExpiresAt time.Time
}

// NewRecord builds a record for a fresh execution.
func NewRecord(token string, fingerprint, response []byte, now time.Time, ttl time.Duration) Record {
	return Record{
		Token:              token,
		RequestFingerprint: cloneBytes(fingerprint),
		ResponsePayload:    cloneBytes(response),
		CreatedAt:          now,
		ExpiresAt:          now.Add(ttl),
	}
}

// Live reports whether the record may still be replayed at now.
func (r Record) Live(now time.Time) bool {
	return !IsExpired(r.ExpiresAt, now)
}

// SameVersion reports whether other is the same stored write as r.
func (r Record) SameVersion(other Record) bool {
	return r.Token == other.Token &&
		r.CreatedAt.Equal(other.CreatedAt) &&
		r.ExpiresAt.Equal(other.ExpiresAt)
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	r.RequestFingerprint = cloneBytes(r.RequestFingerprint)
	r.ResponsePayload = cloneBytes(r.ResponsePayload)
	return r
}

// SameFingerprint reports whether fingerprint matches the stored one.
func (r Record) SameFingerprint(fingerprint []byte) bool {
	return bytes.Equal(r.RequestFingerprint, fingerprint)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
