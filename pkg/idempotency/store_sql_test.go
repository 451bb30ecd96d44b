package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	// A single connection serializes writers and keeps the in-memory DB alive
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := NewSQLStore(db, "", DialectSQLite)
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return store
}

func TestSQLStore_Contract(t *testing.T) {
	testRecordStore(t, newSQLiteStore(t))
}

func TestSQLStore_InitSchemaIdempotent(t *testing.T) {
	store := newSQLiteStore(t)
	if err := store.InitSchema(context.Background()); err != nil {
		t.Errorf("second InitSchema failed: %v", err)
	}
}

func TestSQLStore_PrimaryKeyViolationIsConflict(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	rec := NewRecord("k", nil, []byte("x"), time.Now(), time.Hour)

	if _, err := store.InsertIfAbsent(ctx, rec); err != nil {
		t.Fatal(err)
	}
	_, err := store.InsertIfAbsent(ctx, rec)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	var se *StoreError
	if errors.As(err, &se) {
		t.Error("a constraint violation must not surface as a StoreError")
	}

	n, err := store.Count(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 row, got %d", n)
	}
}

func TestSQLStore_ClosedDBIsStoreError(t *testing.T) {
	store := newSQLiteStore(t)
	store.db.Close()

	_, err := store.Find(context.Background(), "k")
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if se.Op != "find" {
		t.Errorf("expected op find, got %s", se.Op)
	}
}

func TestSQLStore_Placeholders(t *testing.T) {
	tests := []struct {
		dialect SQLDialect
		want    string
	}{
		{DialectSQLite, "?,?,?"},
		{DialectMySQL, "?,?,?"},
		{DialectPostgres, "$1,$2,$3"},
	}
	for _, tt := range tests {
		s := NewSQLStore(nil, "", tt.dialect)
		if got := strings.Join(s.placeholders(3), ","); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.dialect, tt.want, got)
		}
	}
}

func TestSQLStore_MySQLTokenColumnIsBinary(t *testing.T) {
	ddl := NewSQLStore(nil, "records", DialectMySQL).schema()
	if !strings.Contains(ddl, "token VARBINARY(255) PRIMARY KEY") {
		t.Errorf("expected byte-exact token key, got:\n%s", ddl)
	}
	if strings.Contains(ddl, "VARCHAR") {
		t.Errorf("token must not use a collated VARCHAR column:\n%s", ddl)
	}
}

func TestSQLStore_MySQLRejectsLongTokens(t *testing.T) {
	// The checks run before any query, so no connection is needed.
	s := NewSQLStore(nil, "records", DialectMySQL)
	ctx := context.Background()
	long := strings.Repeat("a", MaxMySQLTokenLength+1)
	rec := NewRecord(long, nil, []byte("x"), time.Now(), time.Hour)

	if _, err := s.Find(ctx, long); !errors.Is(err, ErrTokenTooLong) {
		t.Errorf("Find: expected ErrTokenTooLong, got %v", err)
	}
	if _, err := s.InsertIfAbsent(ctx, rec); !errors.Is(err, ErrTokenTooLong) {
		t.Errorf("InsertIfAbsent: expected ErrTokenTooLong, got %v", err)
	}
	if _, err := s.Replace(ctx, rec, rec); !errors.Is(err, ErrTokenTooLong) {
		t.Errorf("Replace: expected ErrTokenTooLong, got %v", err)
	}

	var se *StoreError
	_, err := New(s).Process(ctx, long, nil, func(ctx context.Context, fp []byte) ([]byte, error) {
		t.Error("operation must not run for a token the store cannot hold")
		return nil, nil
	})
	if !errors.As(err, &se) || !errors.Is(err, ErrTokenTooLong) {
		t.Errorf("Process: expected StoreError wrapping ErrTokenTooLong, got %v", err)
	}
}

func TestSQLStore_TokensAreCaseSensitive(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	if _, err := store.InsertIfAbsent(ctx, NewRecord("abc", nil, []byte("lower"), time.Now(), time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.InsertIfAbsent(ctx, NewRecord("ABC", nil, []byte("upper"), time.Now(), time.Hour)); err != nil {
		t.Fatalf("distinct token conflicted: %v", err)
	}
	got, err := store.Find(ctx, "ABC")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || string(got.ResponsePayload) != "upper" {
		t.Errorf("expected upper-case record, got %+v", got)
	}
}

func TestSQLStore_DeduplicatorEndToEnd(t *testing.T) {
	store := newSQLiteStore(t)
	clock := newFakeClock()
	d := New(store, WithClock(clock), WithTTL(time.Hour))
	op, calls := countingOp(0)
	ctx := context.Background()

	first, err := d.Process(ctx, "1", []byte("req"), op)
	if err != nil {
		t.Fatal(err)
	}
	replay, err := d.Process(ctx, "1", []byte("req"), op)
	if err != nil {
		t.Fatal(err)
	}
	if !first.FirstExecution || replay.FirstExecution {
		t.Error("expected execute then replay")
	}
	if string(replay.Response) != string(first.Response) {
		t.Errorf("replay %q differs from first %q", replay.Response, first.Response)
	}

	clock.Advance(time.Hour + time.Second)
	again, err := d.Process(ctx, "1", []byte("req"), op)
	if err != nil {
		t.Fatal(err)
	}
	if !again.FirstExecution || calls.Load() != 2 {
		t.Error("expected re-execution after expiry")
	}

	n, _ := store.Count(ctx, "1")
	if n != 1 {
		t.Errorf("expected a single row after replacement, got %d", n)
	}
}
