// Package river provides integration between idempotency and River queue.
//
// This package provides a generic worker adapter that runs River jobs through
// an idempotency.Deduplicator. It handles:
//   - Mapping job args (or, failing that, River job IDs) to idempotency tokens
//   - Context propagation for graceful shutdown
//   - Error classification for River's retry logic
//
// River retries a job after any error, and a job can be inserted twice by an
// at-least-once producer. Wrapping the handler means a retry or duplicate
// whose first run already succeeded replays the stored result instead of
// repeating the side effect.
package river

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/riverqueue/river"

	"idempotency/pkg/idempotency"
)

// JobArgs is the interface that River job args must implement.
// It extends river.JobArgs with the idempotency token supplied by the
// producer. An empty token falls back to the River job ID, which only
// deduplicates retries of the same job.
type JobArgs interface {
	river.JobArgs
	IdempotencyToken() string
}

// Handler performs the job's side effect and returns the serialized result
// to record.
type Handler[Args JobArgs] func(ctx context.Context, args Args) ([]byte, error)

// Worker is a River worker that runs Handler at most once per token.
// It implements river.Worker for a specific JobArgs type.
type Worker[Args JobArgs] struct {
	river.WorkerDefaults[Args]

	// Dedup is the shared deduplicator; its store decides which run wins
	Dedup *idempotency.Deduplicator

	// Handler performs the job's work
	Handler Handler[Args]

	// Fingerprint derives the request fingerprint from the args.
	// Defaults to the JSON encoding of the args.
	Fingerprint func(args Args) ([]byte, error)
}

// NewWorker creates a new Worker with the given configuration.
func NewWorker[Args JobArgs](dedup *idempotency.Deduplicator, handler Handler[Args]) *Worker[Args] {
	return &Worker[Args]{
		Dedup:   dedup,
		Handler: handler,
	}
}

// Work runs the handler through the deduplicator for the given job.
func (w *Worker[Args]) Work(ctx context.Context, job *river.Job[Args]) error {
	token := Token(job)

	fingerprint, err := w.fingerprint(job.Args)
	if err != nil {
		// Args that cannot be encoded will not encode on retry either
		return river.JobCancel(fmt.Errorf("failed to fingerprint job %d: %w", job.ID, err))
	}

	_, err = w.Dedup.Process(ctx, token, fingerprint, func(ctx context.Context, _ []byte) ([]byte, error) {
		return w.Handler(ctx, job.Args)
	})
	if err != nil {
		return classifyError(err)
	}

	return nil
}

func (w *Worker[Args]) fingerprint(args Args) ([]byte, error) {
	if w.Fingerprint != nil {
		return w.Fingerprint(args)
	}
	return json.Marshal(args)
}

// Token returns the idempotency token for job: the producer-supplied token,
// or "job-<id>" when the args carry none.
func Token[Args JobArgs](job *river.Job[Args]) string {
	if token := job.Args.IdempotencyToken(); token != "" {
		return token
	}
	return "job-" + strconv.FormatInt(job.ID, 10)
}

// classifyError converts idempotency errors to River-appropriate errors.
// This helps River decide whether to retry or discard the job.
func classifyError(err error) error {
	// A token reused for different args is a producer bug; retrying
	// cannot fix it
	if errors.Is(err, idempotency.ErrFingerprintMismatch) {
		return river.JobCancel(err)
	}

	// Panics might indicate bugs, but could be due to bad data; allow retry
	var panicErr *idempotency.PanicError
	if errors.As(err, &panicErr) {
		return fmt.Errorf("handler panic: %w", err)
	}

	// Context cancellation - don't retry, job was cancelled
	if errors.Is(err, context.Canceled) {
		return river.JobCancel(err)
	}

	// Deadline exceeded, transient conflicts and store outages are all
	// worth retrying with backoff
	return err
}
