// Package payments implements the payment endpoint's business logic on top of
// the idempotency deduplicator: a payment is charged at most once per
// idempotency ID while its record is live.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"idempotency/pkg/idempotency"
)

// ErrInvalidRequest is returned for a request without an idempotency ID.
var ErrInvalidRequest = errors.New("invalid payment request")

// PaymentRequest is the body of a payment call.
type PaymentRequest struct {
	IdempotencyID string `json:"idempotency_id"`
	RequestData   string `json:"request_data"`
}

// PaymentResponse is the recorded result of a payment.
type PaymentResponse struct {
	ResponseData string `json:"response_data"`
}

// Charger performs the actual charge and returns its reference.
type Charger interface {
	Charge(ctx context.Context, requestData string) (string, error)
}

// ChargerFunc adapts a function to Charger.
type ChargerFunc func(ctx context.Context, requestData string) (string, error)

func (f ChargerFunc) Charge(ctx context.Context, requestData string) (string, error) {
	return f(ctx, requestData)
}

// UUIDCharger issues a fresh transaction reference per charge.
type UUIDCharger struct{}

func (UUIDCharger) Charge(ctx context.Context, requestData string) (string, error) {
	return "txn-" + uuid.NewString(), nil
}

// Service processes payments exactly once per live idempotency ID.
type Service struct {
	dedup   *idempotency.Deduplicator
	charger Charger
	logger  *slog.Logger
}

// NewService creates a payment service. A nil charger selects UUIDCharger and
// a nil logger selects slog.Default().
func NewService(dedup *idempotency.Deduplicator, charger Charger, logger *slog.Logger) *Service {
	if charger == nil {
		charger = UUIDCharger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		dedup:   dedup,
		charger: charger,
		logger:  logger.With(slog.String("component", "payments")),
	}
}

// ProcessPayment charges req unless a live record for its idempotency ID
// exists, in which case the recorded response is returned. created is true
// only when this call performed the charge.
func (s *Service) ProcessPayment(ctx context.Context, req PaymentRequest) (bool, PaymentResponse, error) {
	token := strings.TrimSpace(req.IdempotencyID)
	if token == "" {
		return false, PaymentResponse{}, fmt.Errorf("%w: idempotency_id is required", ErrInvalidRequest)
	}

	res, err := s.dedup.Process(ctx, token, []byte(req.RequestData), func(ctx context.Context, _ []byte) ([]byte, error) {
		ref, err := s.charger.Charge(ctx, req.RequestData)
		if err != nil {
			return nil, err
		}
		return json.Marshal(PaymentResponse{ResponseData: ref})
	})
	if err != nil {
		return false, PaymentResponse{}, err
	}

	var out PaymentResponse
	if err := json.Unmarshal(res.Response, &out); err != nil {
		return false, PaymentResponse{}, fmt.Errorf("failed to decode recorded response for %s: %w", token, err)
	}

	if res.FirstExecution {
		s.logger.InfoContext(ctx, "payment charged", slog.String("idempotency_id", token))
	} else {
		s.logger.DebugContext(ctx, "payment replayed",
			slog.String("idempotency_id", token),
			slog.Time("recorded_at", res.Record.CreatedAt),
		)
	}
	return res.FirstExecution, out, nil
}
