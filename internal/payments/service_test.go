package payments

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/require"

	"idempotency/pkg/idempotency"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func newService(t *testing.T, charger Charger, opts ...idempotency.Option) (*Service, *idempotency.InMemoryStore) {
	t.Helper()
	store := idempotency.NewInMemoryStore()
	return NewService(idempotency.New(store, opts...), charger, nil), store
}

func TestProcessPayment_NewIdempotencyID(t *testing.T) {
	svc, store := newService(t, nil)

	created, resp, err := svc.ProcessPayment(context.Background(), PaymentRequest{IdempotencyID: "1", RequestData: "request_data"})
	require.NoError(t, err)
	require.True(t, created)
	require.True(t, strings.HasPrefix(resp.ResponseData, "txn-"))

	rec, err := store.Find(context.Background(), "1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "request_data", string(rec.RequestFingerprint))
}

func TestProcessPayment_ExistingIdempotencyID(t *testing.T) {
	var charges atomic.Int32
	svc, _ := newService(t, ChargerFunc(func(ctx context.Context, data string) (string, error) {
		charges.Add(1)
		return "response", nil
	}))
	ctx := context.Background()

	_, first, err := svc.ProcessPayment(ctx, PaymentRequest{IdempotencyID: "1", RequestData: "request"})
	require.NoError(t, err)

	created, second, err := svc.ProcessPayment(ctx, PaymentRequest{IdempotencyID: "1", RequestData: "request_data"})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first, second)
	require.EqualValues(t, 1, charges.Load())
}

func TestProcessPayment_ExpiredIdempotencyID(t *testing.T) {
	clock := &stepClock{now: time.Now()}
	svc, store := newService(t, nil, idempotency.WithClock(clock), idempotency.WithTTL(time.Minute))
	ctx := context.Background()

	_, first, err := svc.ProcessPayment(ctx, PaymentRequest{IdempotencyID: "1", RequestData: "request"})
	require.NoError(t, err)

	clock.now = clock.now.Add(time.Minute + 10*time.Second)

	created, second, err := svc.ProcessPayment(ctx, PaymentRequest{IdempotencyID: "1", RequestData: "request_data"})
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, first.ResponseData, second.ResponseData)
	require.Equal(t, 1, store.Len())
}

func TestProcessPayment_MissingIdempotencyID(t *testing.T) {
	svc, _ := newService(t, nil)

	_, _, err := svc.ProcessPayment(context.Background(), PaymentRequest{IdempotencyID: "  ", RequestData: "x"})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestProcessPayment_ChargeFailureIsNotRecorded(t *testing.T) {
	declined := errors.New("card declined")
	svc, store := newService(t, ChargerFunc(func(ctx context.Context, data string) (string, error) {
		return "", declined
	}))

	_, _, err := svc.ProcessPayment(context.Background(), PaymentRequest{IdempotencyID: "1"})
	require.ErrorIs(t, err, declined)

	var opErr *idempotency.OperationError
	require.ErrorAs(t, err, &opErr)
	require.Equal(t, 0, store.Len())
}

func TestChargeWorker_SharesRecordsWithHTTPPath(t *testing.T) {
	var charges atomic.Int32
	svc, _ := newService(t, ChargerFunc(func(ctx context.Context, data string) (string, error) {
		charges.Add(1)
		return "txn-fixed", nil
	}))
	ctx := context.Background()

	_, _, err := svc.ProcessPayment(ctx, PaymentRequest{IdempotencyID: "job-1", RequestData: "data"})
	require.NoError(t, err)

	worker := svc.NewChargeWorker()
	job := &river.Job[ChargeArgs]{
		JobRow: &rivertype.JobRow{ID: 10},
		Args:   ChargeArgs{IdempotencyID: "job-1", RequestData: "data"},
	}
	require.NoError(t, worker.Work(ctx, job))
	require.EqualValues(t, 1, charges.Load())
}

func TestChargeWorker_TrimsIdempotencyID(t *testing.T) {
	var charges atomic.Int32
	svc, _ := newService(t, ChargerFunc(func(ctx context.Context, data string) (string, error) {
		charges.Add(1)
		return "txn-trimmed", nil
	}))
	ctx := context.Background()

	worker := svc.NewChargeWorker()
	job := &river.Job[ChargeArgs]{
		JobRow: &rivertype.JobRow{ID: 11},
		Args:   ChargeArgs{IdempotencyID: " p1\t", RequestData: "data"},
	}
	require.NoError(t, worker.Work(ctx, job))

	created, resp, err := svc.ProcessPayment(ctx, PaymentRequest{IdempotencyID: "p1", RequestData: "data"})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "txn-trimmed", resp.ResponseData)
	require.EqualValues(t, 1, charges.Load())
}
