package idempotency

import (
	"context"
	"log/slog"
)

// SlogObserver implements Observer using Go's structured logging (log/slog).
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	observer := idempotency.NewSlogObserver(logger, slog.LevelInfo)
//	dedup := idempotency.New(store, idempotency.WithObserver(observer))
type SlogObserver struct {
	logger   *slog.Logger
	minLevel slog.Level
}

// NewSlogObserver creates an observer that logs to the given slog.Logger.
// Only events at or above minLevel will be logged.
func NewSlogObserver(logger *slog.Logger, minLevel slog.Level) *SlogObserver {
	return &SlogObserver{
		logger:   logger,
		minLevel: minLevel,
	}
}

func (o *SlogObserver) OnLookup(ctx context.Context, event *LookupEvent) {
	if event.Error != nil {
		if o.minLevel <= slog.LevelError {
			o.logger.ErrorContext(ctx, "idempotency lookup failed",
				slog.String("token", event.Token),
				slog.Int("attempt", event.Attempt),
				slog.String("error", event.Error.Error()),
			)
		}
		return
	}
	if o.minLevel <= slog.LevelDebug {
		o.logger.DebugContext(ctx, "idempotency lookup",
			slog.String("token", event.Token),
			slog.Int("attempt", event.Attempt),
			slog.Bool("found", event.Found),
			slog.Bool("live", event.Live),
			slog.Duration("latency", event.Latency),
		)
	}
}

func (o *SlogObserver) OnExecute(ctx context.Context, event *ExecuteEvent) {
	if event.Error != nil {
		if o.minLevel <= slog.LevelWarn {
			o.logger.WarnContext(ctx, "operation failed",
				slog.String("token", event.Token),
				slog.Int("attempt", event.Attempt),
				slog.Duration("duration", event.Duration),
				slog.String("error", event.Error.Error()),
			)
		}
		return
	}
	if o.minLevel <= slog.LevelDebug {
		o.logger.DebugContext(ctx, "operation executed",
			slog.String("token", event.Token),
			slog.Int("attempt", event.Attempt),
			slog.Duration("duration", event.Duration),
		)
	}
}

func (o *SlogObserver) OnConflict(ctx context.Context, event *ConflictEvent) {
	if o.minLevel <= slog.LevelWarn {
		o.logger.WarnContext(ctx, "idempotency record conflict",
			slog.String("token", event.Token),
			slog.Int("attempt", event.Attempt),
			slog.Bool("replace", event.Replace),
			slog.Bool("resolved", event.Resolved),
		)
	}
}

func (o *SlogObserver) OnProcessEnd(ctx context.Context, event *ProcessEvent) {
	if event.Error != nil {
		if o.minLevel <= slog.LevelError {
			o.logger.ErrorContext(ctx, "idempotent request failed",
				slog.String("token", event.Token),
				slog.Int("attempts", event.Attempts),
				slog.Duration("duration", event.Duration),
				slog.String("error", event.Error.Error()),
			)
		}
		return
	}
	if o.minLevel <= slog.LevelInfo {
		o.logger.InfoContext(ctx, "idempotent request completed",
			slog.String("token", event.Token),
			slog.String("outcome", string(event.Outcome)),
			slog.Int("attempts", event.Attempts),
			slog.Duration("duration", event.Duration),
		)
	}
}
