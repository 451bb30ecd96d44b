package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"idempotency/internal/payments"
)

// riverInserter enqueues charges on a River client.
type riverInserter struct {
	client *river.Client[pgx.Tx]
}

func (r riverInserter) InsertCharge(ctx context.Context, args payments.ChargeArgs) (int64, error) {
	res, err := r.client.Insert(ctx, args, nil)
	if err != nil {
		return 0, err
	}
	return res.Job.ID, nil
}

// newRiverClient builds a River client running the payment charge worker.
// River's own tables must already exist (river migrate-up).
func newRiverClient(pool *pgxpool.Pool, svc *payments.Service, maxWorkers int) (*river.Client[pgx.Tx], error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, svc.NewChargeWorker())

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create river client: %w", err)
	}
	return client, nil
}
