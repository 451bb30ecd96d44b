package idempotency

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	// ErrConflict is returned by RecordStore.InsertIfAbsent when a record for the
	// token already exists, and by RecordStore.Replace when the stored record has
	// changed since it was read or has disappeared. The Deduplicator reconciles
	// it internally.
	ErrConflict = errors.New("idempotency record already exists")

	// ErrTransientConflict is returned by Process when reconciliation after a
	// conflict failed twice. The caller should retry the whole request.
	ErrTransientConflict = errors.New("idempotency record conflict could not be reconciled")

	// ErrFingerprintMismatch is returned by Process when WithFingerprintCheck is
	// enabled and a live record was created from a different request.
	ErrFingerprintMismatch = errors.New("idempotency token reused with a different request")

	// ErrEmptyToken is returned by Process when no token is given.
	ErrEmptyToken = errors.New("idempotency token is empty")

	// ErrTokenTooLong is returned by stores whose key column is bounded
	// (MySQL, see MaxMySQLTokenLength) for a token that would not fit.
	ErrTokenTooLong = errors.New("idempotency token is too long")
)

// OperationError wraps a failure of the deduplicated operation.
// No record is written for a failed operation.
type OperationError struct {
	// Token is the idempotency token of the request
	Token string

	// Cause is the error returned by the operation
	Cause error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("[%s] operation failed: %v", e.Token, e.Cause)
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// StoreError represents a failure of the backing store (connectivity,
// serialization). It is propagated as-is and never retried by the Deduplicator.
type StoreError struct {
	// Op is the store operation that failed (find, insert, replace)
	Op string

	// Token is the idempotency token involved
	Token string

	// Cause is the underlying error
	Cause error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("[%s] store %s failed: %v", e.Token, e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// IsConflict reports whether err signals an existing record for the token.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// PanicError represents a panic recovered from an operation. It is reported
// as the Cause of an OperationError.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in operation: %v", e.Value)
}
