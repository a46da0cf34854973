package blob

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// wrapError classifies an object store error into the storage taxonomy.
// Returns nil if err is nil.
func wrapError(err error, op, key string) error {
	if err == nil {
		return nil
	}
	return types.NewStorageError(classify(err), op, key, err)
}

// classify maps provider errors onto the storage sentinels.
// Classification is by typed assertion first, message patterns second.
func classify(err error) error {
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return types.ErrTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "nosuchkey", "notfound", "not found", "404", "no such file", "does not exist"):
		return types.ErrNotFound
	case containsAny(msg, "slowdown", "throttl", "429", "toomanyrequests", "rate exceeded",
		"timeout", "timed out", "deadline exceeded",
		"connection refused", "connection reset", "no route to host", "dial tcp", "i/o timeout",
		"internalerror", "serviceunavailable", "503", "500"):
		return types.ErrTransient
	case containsAny(msg, "precondition", "conflict", "412"):
		return types.ErrConflict
	default:
		return types.ErrPermanent
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// RetryPolicy is the transient-retry ceiling applied around storage
// calls. The zero value performs a single attempt.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
}

// Do runs fn under the policy.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	return WithRetry(ctx, p.Attempts, p.Base, fn)
}

// WithRetry runs fn, retrying transient storage errors with exponential
// backoff (base, 2*base, 4*base, ...) up to attempts total tries.
// Non-transient errors and context cancellation surface immediately.
func WithRetry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * base
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		lastErr = fn()
		if lastErr == nil || !errors.Is(lastErr, types.ErrTransient) {
			return lastErr
		}
	}
	return lastErr
}
