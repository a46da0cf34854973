package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for storage failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrNotFound indicates the target key/document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a concurrent modification was detected.
	ErrConflict = errors.New("conflict")

	// ErrTransient indicates a retryable failure (timeout, throttle, network).
	ErrTransient = errors.New("transient failure")

	// ErrPermanent indicates a non-retryable storage failure.
	ErrPermanent = errors.New("permanent failure")

	// ErrLostOwnership indicates a lock renewal found another owner.
	ErrLostOwnership = errors.New("lock ownership lost")

	// ErrTimeout indicates a bounded poll loop expired.
	ErrTimeout = errors.New("timed out")
)

// StorageError wraps an underlying error with storage classification.
// It preserves the original error in the chain for errors.As inspection.
type StorageError struct {
	// Kind is the sentinel for classification (ErrNotFound, ErrTransient, ...).
	Kind error
	// Op is the operation that failed (e.g. "list", "upload", "query").
	Op string
	// Key is the object key or document id involved, if any.
	Key string
	// Err is the underlying error.
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *StorageError) Unwrap() error { return e.Err }

// Is reports whether the error matches the target sentinel.
func (e *StorageError) Is(target error) bool { return errors.Is(e.Kind, target) }

// NewStorageError creates a classified storage error.
func NewStorageError(kind error, op, key string, err error) *StorageError {
	return &StorageError{Kind: kind, Op: op, Key: key, Err: err}
}

// CryptoErrorKind classifies streaming crypto failures.
type CryptoErrorKind int

const (
	// CryptoBadCredentials indicates decryption produced invalid padding:
	// the derived key does not match the ciphertext.
	CryptoBadCredentials CryptoErrorKind = iota
	// CryptoIO indicates a read or write failure during a stream operation.
	CryptoIO
)

// CryptoError is surfaced per file; acquisition and ingestion continue.
type CryptoError struct {
	Kind CryptoErrorKind
	Err  error
}

func (e *CryptoError) Error() string {
	switch e.Kind {
	case CryptoBadCredentials:
		return fmt.Sprintf("bad credentials: %v", e.Err)
	default:
		return fmt.Sprintf("crypto io: %v", e.Err)
	}
}

func (e *CryptoError) Unwrap() error { return e.Err }

// IsBadCredentials reports whether err is a bad-credentials crypto error.
func IsBadCredentials(err error) bool {
	var ce *CryptoError
	return errors.As(err, &ce) && ce.Kind == CryptoBadCredentials
}

// QueryErrorKind classifies query layer failures.
type QueryErrorKind int

const (
	// QueryBadExpression indicates an invalid filter/orderby/select string.
	QueryBadExpression QueryErrorKind = iota
	// QueryBadRange indicates an invalid paging range (top <= 0).
	QueryBadRange
	// QueryStoreUnavailable indicates the backing store could not serve.
	QueryStoreUnavailable
)

// QueryError is surfaced to callers before or during query execution.
type QueryError struct {
	Kind   QueryErrorKind
	Detail string
	Err    error
}

func (e *QueryError) Error() string {
	switch e.Kind {
	case QueryBadExpression:
		return fmt.Sprintf("bad expression: %s", e.Detail)
	case QueryBadRange:
		return fmt.Sprintf("bad range: %s", e.Detail)
	default:
		return fmt.Sprintf("store unavailable: %s: %v", e.Detail, e.Err)
	}
}

func (e *QueryError) Unwrap() error { return e.Err }

// IsBadExpression reports whether err is a bad-expression query error.
func IsBadExpression(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Kind == QueryBadExpression
}

// ConfigError indicates invalid configuration. Fatal at construction;
// never returned from steady-state paths.
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string { return "config error: " + e.Detail }
