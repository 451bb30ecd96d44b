package idempotency

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver implements Observer using Prometheus metrics.
//
// Tokens are never used as label values: they are unbounded and would blow
// up series cardinality.
//
// Example:
//
//	observer := idempotency.NewPrometheusObserver("payments", prometheus.DefaultRegisterer)
//	dedup := idempotency.New(store, idempotency.WithObserver(observer))
type PrometheusObserver struct {
	processDuration *prometheus.HistogramVec
	lookupLatency   *prometheus.HistogramVec
	lookups         *prometheus.CounterVec
	executions      *prometheus.CounterVec
	conflicts       *prometheus.CounterVec
	outcomes        *prometheus.CounterVec
}

// NewPrometheusObserver creates a Prometheus observer with the given namespace.
// All metrics will be prefixed with "{namespace}_idempotency_".
//
// Example:
//
//	observer := NewPrometheusObserver("myapp", prometheus.DefaultRegisterer)
//	// Creates metrics like: myapp_idempotency_process_duration_seconds
func NewPrometheusObserver(namespace string, registerer prometheus.Registerer) *PrometheusObserver {
	if namespace == "" {
		namespace = "app"
	}

	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "idempotency",
			Name:      "process_duration_seconds",
			Help:      "Duration of idempotent request processing in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	lookupLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "idempotency",
			Name:      "lookup_latency_seconds",
			Help:      "Latency of record store lookups in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"result"},
	)

	lookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "idempotency",
			Name:      "lookups_total",
			Help:      "Total number of record store lookups by result (live, expired, miss, error)",
		},
		[]string{"result"},
	)

	executions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "idempotency",
			Name:      "operation_executions_total",
			Help:      "Total number of operation executions by status",
		},
		[]string{"status"},
	)

	conflicts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "idempotency",
			Name:      "conflicts_total",
			Help:      "Total number of record write conflicts",
		},
		[]string{"resolved"},
	)

	outcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "idempotency",
			Name:      "requests_total",
			Help:      "Total number of idempotent requests by outcome",
		},
		[]string{"outcome"},
	)

	registerer.MustRegister(
		processDuration,
		lookupLatency,
		lookups,
		executions,
		conflicts,
		outcomes,
	)

	return &PrometheusObserver{
		processDuration: processDuration,
		lookupLatency:   lookupLatency,
		lookups:         lookups,
		executions:      executions,
		conflicts:       conflicts,
		outcomes:        outcomes,
	}
}

func lookupResult(event *LookupEvent) string {
	switch {
	case event.Error != nil:
		return "error"
	case !event.Found:
		return "miss"
	case event.Live:
		return "live"
	default:
		return "expired"
	}
}

func (o *PrometheusObserver) OnLookup(ctx context.Context, event *LookupEvent) {
	result := lookupResult(event)
	o.lookups.WithLabelValues(result).Inc()
	o.lookupLatency.WithLabelValues(result).Observe(event.Latency.Seconds())
}

func (o *PrometheusObserver) OnExecute(ctx context.Context, event *ExecuteEvent) {
	status := "success"
	if event.Error != nil {
		status = "error"
	}
	o.executions.WithLabelValues(status).Inc()
}

func (o *PrometheusObserver) OnConflict(ctx context.Context, event *ConflictEvent) {
	resolved := "false"
	if event.Resolved {
		resolved = "true"
	}
	o.conflicts.WithLabelValues(resolved).Inc()
}

func (o *PrometheusObserver) OnProcessEnd(ctx context.Context, event *ProcessEvent) {
	outcome := string(event.Outcome)
	o.outcomes.WithLabelValues(outcome).Inc()
	o.processDuration.WithLabelValues(outcome).Observe(event.Duration.Seconds())
}
