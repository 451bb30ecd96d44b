// Package httpapi exposes the payments service over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"idempotency/internal/payments"
	"idempotency/pkg/idempotency"
)

// ReplayedHeader is set to "true" on responses served from a stored record.
const ReplayedHeader = "Idempotency-Replayed"

// PaymentProcessor is the part of payments.Service the API needs.
type PaymentProcessor interface {
	ProcessPayment(ctx context.Context, req payments.PaymentRequest) (bool, payments.PaymentResponse, error)
}

// JobInserter enqueues an asynchronous charge and returns the job ID.
type JobInserter interface {
	InsertCharge(ctx context.Context, args payments.ChargeArgs) (int64, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Options configures the router. Zero values disable the optional routes.
type Options struct {
	Logger *slog.Logger

	// Gatherer backs GET /metrics
	Gatherer prometheus.Gatherer

	// Jobs enables POST /api/payment/v1/payments/async
	Jobs JobInserter

	// HealthChecks run on GET /healthz, keyed by dependency name
	HealthChecks map[string]HealthCheck

	// RetryAfter is advertised on 503 responses
	RetryAfter time.Duration
}

type handler struct {
	svc        PaymentProcessor
	jobs       JobInserter
	logger     *slog.Logger
	checks     map[string]HealthCheck
	retryAfter time.Duration
}

// NewRouter builds the HTTP routes for svc.
func NewRouter(svc PaymentProcessor, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = time.Second
	}
	h := &handler{
		svc:        svc,
		jobs:       opts.Jobs,
		logger:     opts.Logger,
		checks:     opts.HealthChecks,
		retryAfter: opts.RetryAfter,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(opts.Logger))

	r.Get("/healthz", h.health)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/payment/v1", func(r chi.Router) {
		r.Post("/payments", h.processPayment)
		if h.jobs != nil {
			r.Post("/payments/async", h.enqueuePayment)
		}
	})

	return r
}

func (h *handler) processPayment(w http.ResponseWriter, r *http.Request) {
	var req payments.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, resp, err := h.svc.ProcessPayment(r.Context(), req)
	if err != nil {
		h.writeProcessError(w, r, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
		w.Header().Set(ReplayedHeader, "true")
	}
	writeJSON(w, status, resp, "Success")
}

func (h *handler) enqueuePayment(w http.ResponseWriter, r *http.Request) {
	var args payments.ChargeArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	args.IdempotencyID = strings.TrimSpace(args.IdempotencyID)
	if args.IdempotencyID == "" {
		writeError(w, http.StatusBadRequest, "idempotency_id is required")
		return
	}

	id, err := h.jobs.InsertCharge(r.Context(), args)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to enqueue payment",
			slog.String("idempotency_id", args.IdempotencyID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to enqueue payment")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int64{"job_id": id}, "Accepted")
}

// writeProcessError maps deduplication errors to HTTP statuses.
func (h *handler) writeProcessError(w http.ResponseWriter, r *http.Request, err error) {
	var opErr *idempotency.OperationError

	switch {
	case errors.Is(err, payments.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, idempotency.ErrTokenTooLong):
		writeError(w, http.StatusBadRequest, "idempotency_id is too long")
	case errors.Is(err, idempotency.ErrFingerprintMismatch):
		writeError(w, http.StatusConflict, "idempotency_id was already used for a different request")
	case errors.Is(err, idempotency.ErrTransientConflict):
		w.Header().Set("Retry-After", strconv.Itoa(int(h.retryAfter.Seconds())))
		writeError(w, http.StatusServiceUnavailable, "concurrent request in progress, retry")
	case errors.As(err, &opErr):
		h.logger.WarnContext(r.Context(), "payment failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "payment failed")
	default:
		h.logger.ErrorContext(r.Context(), "payment processing error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	message := "ok"
	if status != http.StatusOK {
		message = "unhealthy"
	}
	writeJSON(w, status, results, message)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.DebugContext(r.Context(), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
