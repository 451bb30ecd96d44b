package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements RecordStore using github.com/jackc/pgx/v5.
// It is designed to work with pgxpool, similar to River.
type PostgresStore struct {
	pool      *pgxpool.Pool
	tableName string
}

// NewPostgresStore creates a new Postgres-backed store.
func NewPostgresStore(pool *pgxpool.Pool, tableName string) *PostgresStore {
	if tableName == "" {
		tableName = DefaultTableName
	}
	return &PostgresStore{
		pool:      pool,
		tableName: tableName,
	}
}

// InitSchema creates the necessary table if it doesn't exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			token TEXT PRIMARY KEY,
			request_fingerprint BYTEA NOT NULL,
			response_payload BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
	`, s.tableName)

	_, err := s.pool.Exec(ctx, query)
	return err
}

func (s *PostgresStore) Find(ctx context.Context, token string) (*Record, error) {
	query := fmt.Sprintf(`
		SELECT request_fingerprint, response_payload, created_at, expires_at
		FROM %s
		WHERE token = $1
	`, s.tableName)

	var fingerprint, response []byte
	var createdAt, expiresAt time.Time

	err := s.pool.QueryRow(ctx, query, token).Scan(
		&fingerprint, &response, &createdAt, &expiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Op: "find", Token: token, Cause: err}
	}

	return &Record{
		Token:              token,
		RequestFingerprint: fingerprint,
		ResponsePayload:    response,
		CreatedAt:          createdAt,
		ExpiresAt:          expiresAt,
	}, nil
}

func (s *PostgresStore) InsertIfAbsent(ctx context.Context, record Record) (Record, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (token, request_fingerprint, response_payload, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token) DO NOTHING
	`, s.tableName)

	tag, err := s.pool.Exec(ctx, query,
		record.Token,
		nonNilBytes(record.RequestFingerprint),
		nonNilBytes(record.ResponsePayload),
		record.CreatedAt,
		record.ExpiresAt,
	)
	if err != nil {
		return Record{}, &StoreError{Op: "insert", Token: record.Token, Cause: err}
	}
	if tag.RowsAffected() == 0 {
		return Record{}, ErrConflict
	}
	return record.Clone(), nil
}

// Replace expects previous to come from Find, so its timestamps carry the
// column's microsecond precision and compare exactly.
func (s *PostgresStore) Replace(ctx context.Context, previous, record Record) (Record, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET request_fingerprint = $1,
			response_payload = $2,
			created_at = $3,
			expires_at = $4
		WHERE token = $5
		  AND created_at = $6
		  AND expires_at = $7
	`, s.tableName)

	tag, err := s.pool.Exec(ctx, query,
		nonNilBytes(record.RequestFingerprint),
		nonNilBytes(record.ResponsePayload),
		record.CreatedAt,
		record.ExpiresAt,
		record.Token,
		previous.CreatedAt,
		previous.ExpiresAt,
	)
	if err != nil {
		return Record{}, &StoreError{Op: "replace", Token: record.Token, Cause: err}
	}
	if tag.RowsAffected() == 0 {
		return Record{}, ErrConflict
	}
	return record.Clone(), nil
}

// Delete removes the record for token.
func (s *PostgresStore) Delete(ctx context.Context, token string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE token = $1", s.tableName)
	_, err := s.pool.Exec(ctx, query, token)
	return err
}

var _ RecordStore = (*PostgresStore)(nil)
