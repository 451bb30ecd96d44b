// Package idempotency runs side-effecting operations at most once per
// client-supplied idempotency token.
//
// # Overview
//
// A caller hands the Deduplicator a token, a request fingerprint and an
// Operation. The Deduplicator looks the token up in a RecordStore:
//
//   - live record: the stored response is replayed and the operation is not run
//   - no record, or an expired one: the operation runs and its response is
//     persisted under the token
//
// The store's uniqueness constraint on the token is the only synchronization
// point. Two concurrent callers with the same fresh token may both run the
// operation, but only one insert wins; the loser observes ErrConflict,
// re-reads the winner's record and returns the winner's response. Every
// caller therefore sees the same payload.
//
// # Usage
//
//	store := idempotency.NewInMemoryStore()
//	dedup := idempotency.New(store, idempotency.WithTTL(24*time.Hour))
//
//	res, err := dedup.Process(ctx, "token-1", []byte(`{"amount":100}`),
//	    func(ctx context.Context, fingerprint []byte) ([]byte, error) {
//	        return chargeCard(ctx, fingerprint)
//	    })
//	if err != nil {
//	    return err
//	}
//	if res.FirstExecution {
//	    // 201 Created
//	} else {
//	    // 200 OK, replayed
//	}
//
// # Stores
//
// InMemoryStore is meant for tests and single-process use. SQLStore covers
// SQLite, Postgres and MySQL through database/sql, PostgresStore uses pgxpool
// directly, and RedisStore relies on Lua scripts for atomic insert and
// replace.
//
// # Known limitation
//
// If an operation is cancelled or times out after producing side effects but
// before its record is persisted, nothing is recorded for the token and a
// retry runs the operation again. Failed operations are never recorded, so a
// retry after a failure is always legitimate.
package idempotency
