package payments

import (
	"context"
	"encoding/json"
	"strings"

	idemriver "idempotency/pkg/river"
)

// ChargeArgs is the River job for an asynchronous payment.
type ChargeArgs struct {
	IdempotencyID string `json:"idempotency_id"`
	RequestData   string `json:"request_data"`
}

func (ChargeArgs) Kind() string { return "payment_charge" }

// IdempotencyToken trims the ID the same way ProcessPayment does.
func (a ChargeArgs) IdempotencyToken() string { return strings.TrimSpace(a.IdempotencyID) }

// NewChargeWorker returns a River worker that charges through the same
// deduplicator as the HTTP path, so a payment submitted both synchronously
// and as a job with the same idempotency ID is charged once.
func (s *Service) NewChargeWorker() *idemriver.Worker[ChargeArgs] {
	w := idemriver.NewWorker(s.dedup, func(ctx context.Context, args ChargeArgs) ([]byte, error) {
		ref, err := s.charger.Charge(ctx, args.RequestData)
		if err != nil {
			return nil, err
		}
		return json.Marshal(PaymentResponse{ResponseData: ref})
	})
	// Same fingerprint as ProcessPayment
	w.Fingerprint = func(args ChargeArgs) ([]byte, error) {
		return []byte(args.RequestData), nil
	}
	return w
}
