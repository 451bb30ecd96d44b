package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 24, 2, 7, 51, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingOp returns an Operation producing "resp-1", "resp-2", ... and the
// counter of invocations.
func countingOp(delay time.Duration) (Operation, *atomic.Int32) {
	var calls atomic.Int32
	op := func(ctx context.Context, fingerprint []byte) ([]byte, error) {
		n := calls.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		return []byte(fmt.Sprintf("resp-%d", n)), nil
	}
	return op, &calls
}

// hookStore wraps an InMemoryStore and runs beforeWrite once before the
// first InsertIfAbsent or Replace, to simulate a concurrent winner.
type hookStore struct {
	*InMemoryStore
	once        sync.Once
	beforeWrite func()
}

func (s *hookStore) fire() {
	if s.beforeWrite != nil {
		s.once.Do(s.beforeWrite)
	}
}

func (s *hookStore) InsertIfAbsent(ctx context.Context, record Record) (Record, error) {
	s.fire()
	return s.InMemoryStore.InsertIfAbsent(ctx, record)
}

func (s *hookStore) Replace(ctx context.Context, previous, record Record) (Record, error) {
	s.fire()
	return s.InMemoryStore.Replace(ctx, previous, record)
}

// phantomStore always conflicts on write but never shows a record.
type phantomStore struct {
	writes atomic.Int32
}

func (s *phantomStore) Find(ctx context.Context, token string) (*Record, error) {
	return nil, nil
}

func (s *phantomStore) InsertIfAbsent(ctx context.Context, record Record) (Record, error) {
	s.writes.Add(1)
	return Record{}, ErrConflict
}

func (s *phantomStore) Replace(ctx context.Context, previous, record Record) (Record, error) {
	s.writes.Add(1)
	return Record{}, ErrConflict
}

var errStoreDown = errors.New("connection refused")

// brokenStore fails every call.
type brokenStore struct{}

func (brokenStore) Find(ctx context.Context, token string) (*Record, error) {
	return nil, &StoreError{Op: "find", Token: token, Cause: errStoreDown}
}

func (brokenStore) InsertIfAbsent(ctx context.Context, record Record) (Record, error) {
	return Record{}, &StoreError{Op: "insert", Token: record.Token, Cause: errStoreDown}
}

func (brokenStore) Replace(ctx context.Context, previous, record Record) (Record, error) {
	return Record{}, &StoreError{Op: "replace", Token: record.Token, Cause: errStoreDown}
}

// recordingObserver keeps every event it receives.
type recordingObserver struct {
	mu        sync.Mutex
	lookups   []LookupEvent
	executes  []ExecuteEvent
	conflicts []ConflictEvent
	processes []ProcessEvent
}

func (o *recordingObserver) OnLookup(ctx context.Context, event *LookupEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lookups = append(o.lookups, *event)
}

func (o *recordingObserver) OnExecute(ctx context.Context, event *ExecuteEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.executes = append(o.executes, *event)
}

func (o *recordingObserver) OnConflict(ctx context.Context, event *ConflictEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conflicts = append(o.conflicts, *event)
}

func (o *recordingObserver) OnProcessEnd(ctx context.Context, event *ProcessEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.processes = append(o.processes, *event)
}
