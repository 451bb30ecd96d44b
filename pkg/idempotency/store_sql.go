package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// SQLDialect defines the SQL syntax variant.
type SQLDialect string

const (
	DialectSQLite   SQLDialect = "sqlite"
	DialectPostgres SQLDialect = "postgres"
	DialectMySQL    SQLDialect = "mysql"
)

// MaxMySQLTokenLength is the size in bytes of the MySQL token column.
const MaxMySQLTokenLength = 255

// DefaultTableName is used when no table name is given to a SQL-backed store.
const DefaultTableName = "idempotency_records"

// SQLStore implements RecordStore using database/sql.
// It supports SQLite (mattn/go-sqlite3), Postgres (pgx stdlib) and MySQL
// (go-sql-driver/mysql). The token column is the primary key, and a primary
// key violation on insert is reported as ErrConflict.
//
// Timestamps are stored as Unix nanoseconds so expiry comparisons behave the
// same on every dialect.
type SQLStore struct {
	db        *sql.DB
	tableName string
	dialect   SQLDialect
}

// NewSQLStore creates a new SQL-backed store.
// The user is responsible for opening the *sql.DB with their preferred driver.
func NewSQLStore(db *sql.DB, tableName string, dialect SQLDialect) *SQLStore {
	if tableName == "" {
		tableName = DefaultTableName
	}
	return &SQLStore{
		db:        db,
		tableName: tableName,
		dialect:   dialect,
	}
}

// InitSchema creates the necessary table if it doesn't exist.
// This is a helper for "migration-free" usage.
func (s *SQLStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.schema())
	return err
}

// schema returns the CREATE TABLE statement for the dialect. MySQL keys are
// VARBINARY so tokens compare byte for byte; a VARCHAR key would follow the
// server collation and fold case and trailing spaces.
func (s *SQLStore) schema() string {
	tokenType := "TEXT"
	blobType := "BLOB"
	intType := "INTEGER"

	switch s.dialect {
	case DialectPostgres:
		blobType = "BYTEA"
		intType = "BIGINT"
	case DialectMySQL:
		tokenType = fmt.Sprintf("VARBINARY(%d)", MaxMySQLTokenLength)
		blobType = "LONGBLOB"
		intType = "BIGINT"
	}

	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			token %s PRIMARY KEY,
			request_fingerprint %s,
			response_payload %s,
			created_at %s NOT NULL,
			expires_at %s NOT NULL
		)
	`, s.tableName, tokenType, blobType, blobType, intType, intType)
}

// checkToken rejects tokens the key column cannot hold exactly.
func (s *SQLStore) checkToken(op, token string) error {
	if s.dialect == DialectMySQL && len(token) > MaxMySQLTokenLength {
		return &StoreError{Op: op, Token: token, Cause: ErrTokenTooLong}
	}
	return nil
}

// placeholders returns n positional parameters for the dialect.
func (s *SQLStore) placeholders(n int) []string {
	out := make([]string, n)
	for i := range out {
		if s.dialect == DialectPostgres {
			out[i] = fmt.Sprintf("$%d", i+1)
		} else {
			out[i] = "?"
		}
	}
	return out
}

func (s *SQLStore) Find(ctx context.Context, token string) (*Record, error) {
	if err := s.checkToken("find", token); err != nil {
		return nil, err
	}
	p := s.placeholders(1)
	query := fmt.Sprintf(`
		SELECT request_fingerprint, response_payload, created_at, expires_at
		FROM %s
		WHERE token = %s
	`, s.tableName, p[0])

	var fingerprint, response []byte
	var createdAt, expiresAt int64

	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&fingerprint, &response, &createdAt, &expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Op: "find", Token: token, Cause: err}
	}

	return &Record{
		Token:              token,
		RequestFingerprint: fingerprint,
		ResponsePayload:    response,
		CreatedAt:          time.Unix(0, createdAt).UTC(),
		ExpiresAt:          time.Unix(0, expiresAt).UTC(),
	}, nil
}

func (s *SQLStore) InsertIfAbsent(ctx context.Context, record Record) (Record, error) {
	if err := s.checkToken("insert", record.Token); err != nil {
		return Record{}, err
	}
	p := s.placeholders(5)
	query := fmt.Sprintf(`
		INSERT INTO %s (token, request_fingerprint, response_payload, created_at, expires_at)
		VALUES (%s, %s, %s, %s, %s)
	`, s.tableName, p[0], p[1], p[2], p[3], p[4])

	_, err := s.db.ExecContext(ctx, query,
		record.Token,
		nonNilBytes(record.RequestFingerprint),
		nonNilBytes(record.ResponsePayload),
		record.CreatedAt.UnixNano(),
		record.ExpiresAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Record{}, ErrConflict
		}
		return Record{}, &StoreError{Op: "insert", Token: record.Token, Cause: err}
	}
	return record.Clone(), nil
}

func (s *SQLStore) Replace(ctx context.Context, previous, record Record) (Record, error) {
	if err := s.checkToken("replace", record.Token); err != nil {
		return Record{}, err
	}
	p := s.placeholders(7)
	// Compare-and-swap on the observed row: a concurrent replacer that got
	// there first has changed created_at, so this update matches nothing.
	query := fmt.Sprintf(`
		UPDATE %s
		SET request_fingerprint = %s,
			response_payload = %s,
			created_at = %s,
			expires_at = %s
		WHERE token = %s
		  AND created_at = %s
		  AND expires_at = %s
	`, s.tableName, p[0], p[1], p[2], p[3], p[4], p[5], p[6])

	res, err := s.db.ExecContext(ctx, query,
		nonNilBytes(record.RequestFingerprint),
		nonNilBytes(record.ResponsePayload),
		record.CreatedAt.UnixNano(),
		record.ExpiresAt.UnixNano(),
		record.Token,
		previous.CreatedAt.UnixNano(),
		previous.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return Record{}, &StoreError{Op: "replace", Token: record.Token, Cause: err}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, &StoreError{Op: "replace", Token: record.Token, Cause: err}
	}
	if n == 0 {
		return Record{}, ErrConflict
	}
	return record.Clone(), nil
}

// Delete removes the record for token.
func (s *SQLStore) Delete(ctx context.Context, token string) error {
	p := s.placeholders(1)
	query := fmt.Sprintf("DELETE FROM %s WHERE token = %s", s.tableName, p[0])
	_, err := s.db.ExecContext(ctx, query, token)
	return err
}

// Count returns the number of rows stored for token (0 or 1).
func (s *SQLStore) Count(ctx context.Context, token string) (int, error) {
	p := s.placeholders(1)
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE token = %s", s.tableName, p[0])
	var n int
	err := s.db.QueryRowContext(ctx, query, token).Scan(&n)
	return n, err
}

// isUniqueViolation recognizes primary key / unique constraint failures from
// the three supported drivers.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		// ER_DUP_ENTRY
		return mysqlErr.Number == 1062
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// unique_violation
		return pgErr.Code == "23505"
	}

	return false
}

// nonNilBytes stores an empty payload as an empty blob rather than NULL.
func nonNilBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

var _ RecordStore = (*SQLStore)(nil)
