package idempotency

import (
	"context"
	"time"
)

// Observer is the interface for observing deduplication events.
// Implementations can emit metrics, logs, or traces to their observability backend.
//
// All Observer methods are called synchronously from Process, so implementations
// should be fast and non-blocking.
type Observer interface {
	// OnLookup is called after the store has been consulted for a token.
	OnLookup(ctx context.Context, event *LookupEvent)

	// OnExecute is called after the operation has run (success or failure).
	OnExecute(ctx context.Context, event *ExecuteEvent)

	// OnConflict is called when a store write lost the race for a token.
	OnConflict(ctx context.Context, event *ConflictEvent)

	// OnProcessEnd is called when Process returns.
	OnProcessEnd(ctx context.Context, event *ProcessEvent)
}

// Outcome classifies how a Process call finished.
type Outcome string

const (
	// OutcomeExecuted means this call ran the operation and persisted its record.
	OutcomeExecuted Outcome = "executed"
	// OutcomeReplayed means a stored response was returned.
	OutcomeReplayed Outcome = "replayed"
	// OutcomeFailed means Process returned an error.
	OutcomeFailed Outcome = "failed"
)

// LookupEvent is emitted after a store lookup.
type LookupEvent struct {
	Token   string
	Attempt int           // 1 for the first protocol round, 2 for the retry
	Found   bool          // a record exists for the token
	Live    bool          // the record may be replayed
	Latency time.Duration // time spent in the store
	Error   error         // nil if the lookup succeeded
}

// ExecuteEvent is emitted after the operation has run.
type ExecuteEvent struct {
	Token    string
	Attempt  int
	Duration time.Duration
	Error    error // nil if the operation succeeded
}

// ConflictEvent is emitted when InsertIfAbsent or Replace reported ErrConflict.
type ConflictEvent struct {
	Token    string
	Attempt  int
	Replace  bool // true if the conflict came from Replace
	Resolved bool // a live winner record was found and replayed
}

// ProcessEvent is emitted when Process returns.
type ProcessEvent struct {
	Token    string
	Outcome  Outcome
	Attempts int
	Duration time.Duration
	Error    error // nil if successful
}

// NoOpObserver is a no-op implementation of Observer.
// Useful as a base for partial implementations.
type NoOpObserver struct{}

func (NoOpObserver) OnLookup(ctx context.Context, event *LookupEvent)       {}
func (NoOpObserver) OnExecute(ctx context.Context, event *ExecuteEvent)     {}
func (NoOpObserver) OnConflict(ctx context.Context, event *ConflictEvent)   {}
func (NoOpObserver) OnProcessEnd(ctx context.Context, event *ProcessEvent) {}

// MultiObserver combines multiple observers into one.
// Events are sent to all observers in order.
type MultiObserver struct {
	Observers []Observer
}

func (m *MultiObserver) OnLookup(ctx context.Context, event *LookupEvent) {
	for _, obs := range m.Observers {
		obs.OnLookup(ctx, event)
	}
}

func (m *MultiObserver) OnExecute(ctx context.Context, event *ExecuteEvent) {
	for _, obs := range m.Observers {
		obs.OnExecute(ctx, event)
	}
}

func (m *MultiObserver) OnConflict(ctx context.Context, event *ConflictEvent) {
	for _, obs := range m.Observers {
		obs.OnConflict(ctx, event)
	}
}

func (m *MultiObserver) OnProcessEnd(ctx context.Context, event *ProcessEvent) {
	for _, obs := range m.Observers {
		obs.OnProcessEnd(ctx, event)
	}
}
