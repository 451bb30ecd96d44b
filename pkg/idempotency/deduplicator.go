package idempotency

import (
	"context"
	"runtime/debug"
	"time"
)

// Operation is the side-effecting business function to run at most once per
// fresh token. It receives the request fingerprint and returns the serialized
// response that will be stored and replayed.
type Operation func(ctx context.Context, fingerprint []byte) ([]byte, error)

// Result is the outcome of Process.
type Result struct {
	// FirstExecution is true if this call ran the operation and its response
	// was persisted (HTTP 201), false if a stored response was replayed (HTTP 200).
	FirstExecution bool

	// Response is the stored response payload, identical for the first
	// execution and every replay.
	Response []byte

	// Record is the record the response came from.
	Record Record
}

// maxAttempts bounds how many times the lookup-execute-record protocol runs
// for one Process call: the first round plus one retry after an unresolved
// conflict.
const maxAttempts = 2

// Deduplicator runs the lookup-decide-execute-record protocol on top of a
// RecordStore. It holds no per-token state and takes no locks, so it is safe
// for concurrent use; correctness comes from the store's atomic insert.
type Deduplicator struct {
	store            RecordStore
	ttl              time.Duration
	clock            Clock
	expired          ExpiryPolicy
	observer         Observer
	fingerprintCheck bool
}

// New creates a Deduplicator backed by store.
//
// Default configuration:
//   - DefaultTTL (24h)
//   - SystemClock
//   - IsExpired as the expiry policy
//   - NoOpObserver
func New(store RecordStore, opts ...Option) *Deduplicator {
	cfg := &config{
		ttl:      DefaultTTL,
		clock:    SystemClock{},
		expired:  IsExpired,
		observer: NoOpObserver{},
	}
	for _, opt := range opts {
		opt.apply(cfg)
	}

	return &Deduplicator{
		store:            store,
		ttl:              cfg.ttl,
		clock:            cfg.clock,
		expired:          cfg.expired,
		observer:         cfg.observer,
		fingerprintCheck: cfg.fingerprintCheck,
	}
}

// TTL returns the configured record lifetime.
func (d *Deduplicator) TTL() time.Duration {
	return d.ttl
}

// Process runs op at most once for token and returns its response.
//
// A live record for token is replayed without calling op. Otherwise op runs,
// and its response is stored under token (replacing an expired record if one
// exists). If another caller stored a record for the same token first, the
// winner's response is returned instead of this caller's, with
// FirstExecution false.
//
// Errors:
//   - *OperationError if op failed; nothing is recorded
//   - ErrTransientConflict if a conflict could not be reconciled after a retry
//   - ErrFingerprintMismatch if WithFingerprintCheck is set and the live record
//     came from a different request
//   - store errors (usually *StoreError) as returned by the backend
func (d *Deduplicator) Process(ctx context.Context, token string, fingerprint []byte, op Operation) (Result, error) {
	if token == "" {
		return Result{}, ErrEmptyToken
	}

	start := time.Now()
	var (
		res      Result
		err      error
		attempts int
	)
	defer func() {
		outcome := OutcomeReplayed
		switch {
		case err != nil:
			outcome = OutcomeFailed
		case res.FirstExecution:
			outcome = OutcomeExecuted
		}
		d.observer.OnProcessEnd(ctx, &ProcessEvent{
			Token:    token,
			Outcome:  outcome,
			Attempts: attempts,
			Duration: time.Since(start),
			Error:    err,
		})
	}()

	for attempts = 1; attempts <= maxAttempts; attempts++ {
		var retry bool
		res, retry, err = d.attempt(ctx, token, fingerprint, op, attempts)
		if err != nil || !retry {
			return res, err
		}
	}
	attempts = maxAttempts

	res, err = Result{}, ErrTransientConflict
	return res, err
}

// attempt runs one round of the protocol. retry is true when a write
// conflicted and no live winner could be found.
func (d *Deduplicator) attempt(ctx context.Context, token string, fingerprint []byte, op Operation, attempt int) (Result, bool, error) {
	existing, err := d.find(ctx, token, attempt)
	if err != nil {
		return Result{}, false, err
	}

	if existing != nil && !d.expired(existing.ExpiresAt, d.clock.Now()) {
		res, err := d.replay(*existing, fingerprint)
		return res, false, err
	}

	response, err := d.execute(ctx, token, fingerprint, op, attempt)
	if err != nil {
		return Result{}, false, err
	}

	record := NewRecord(token, fingerprint, response, d.clock.Now(), d.ttl)
	replace := existing != nil

	var stored Record
	if replace {
		stored, err = d.store.Replace(ctx, *existing, record)
	} else {
		stored, err = d.store.InsertIfAbsent(ctx, record)
	}
	if err == nil {
		return Result{FirstExecution: true, Response: stored.ResponsePayload, Record: stored}, false, nil
	}
	if !IsConflict(err) {
		return Result{}, false, err
	}

	// Another caller persisted first. Our response is discarded; the winner's
	// record is the one every caller must see.
	return d.reconcile(ctx, token, fingerprint, attempt, replace)
}

func (d *Deduplicator) reconcile(ctx context.Context, token string, fingerprint []byte, attempt int, replace bool) (Result, bool, error) {
	winner, err := d.find(ctx, token, attempt)
	if err != nil {
		return Result{}, false, err
	}

	resolved := winner != nil && !d.expired(winner.ExpiresAt, d.clock.Now())
	d.observer.OnConflict(ctx, &ConflictEvent{
		Token:    token,
		Attempt:  attempt,
		Replace:  replace,
		Resolved: resolved,
	})
	if !resolved {
		return Result{}, true, nil
	}

	res, err := d.replay(*winner, fingerprint)
	return res, false, err
}

func (d *Deduplicator) find(ctx context.Context, token string, attempt int) (*Record, error) {
	start := time.Now()
	rec, err := d.store.Find(ctx, token)

	event := &LookupEvent{
		Token:   token,
		Attempt: attempt,
		Found:   rec != nil,
		Latency: time.Since(start),
		Error:   err,
	}
	if rec != nil {
		event.Live = !d.expired(rec.ExpiresAt, d.clock.Now())
	}
	d.observer.OnLookup(ctx, event)

	return rec, err
}

func (d *Deduplicator) replay(rec Record, fingerprint []byte) (Result, error) {
	if d.fingerprintCheck && !rec.SameFingerprint(fingerprint) {
		return Result{}, ErrFingerprintMismatch
	}
	return Result{FirstExecution: false, Response: rec.ResponsePayload, Record: rec}, nil
}

func (d *Deduplicator) execute(ctx context.Context, token string, fingerprint []byte, op Operation, attempt int) (response []byte, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			response = nil
			err = &OperationError{Token: token, Cause: &PanicError{Value: r, Stack: debug.Stack()}}
		}
		d.observer.OnExecute(ctx, &ExecuteEvent{
			Token:    token,
			Attempt:  attempt,
			Duration: time.Since(start),
			Error:    err,
		})
	}()

	response, err = op(ctx, cloneBytes(fingerprint))
	if err != nil {
		return nil, &OperationError{Token: token, Cause: err}
	}
	return response, nil
}
