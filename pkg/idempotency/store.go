package idempotency

import "context"

// RecordStore is the durable keyed storage for idempotency records.
// Implementations (Memory, SQL, Postgres, Redis) must be safe for concurrent use
// and must enforce at most one record per token at the storage layer.
type RecordStore interface {
	// Find retrieves the record stored under token, expired or not.
	// Returns (nil, nil) if no record exists.
	Find(ctx context.Context, token string) (*Record, error)

	// InsertIfAbsent persists a new record. It fails with ErrConflict if a
	// record for record.Token already exists. The existence check and the
	// write must be a single atomic step in the backend.
	InsertIfAbsent(ctx context.Context, record Record) (Record, error)

	// Replace overwrites the record stored under record.Token, but only if the
	// stored record is still the one the caller observed as previous (same
	// CreatedAt and ExpiresAt). The caller decides expiry; the store only
	// guarantees that of several replacers exactly one wins. It fails with
	// ErrConflict if the stored record has changed or is missing.
	Replace(ctx context.Context, previous, record Record) (Record, error)
}
