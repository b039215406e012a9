// Package errors defines the importer's error taxonomy and classification
// helpers. The engine decides retry behavior from these types: rate-limit and
// network errors are retried on the same page with backoff, account-fatal
// errors terminate a single account without aborting the session, and store
// failures end the session.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Session control errors, surfaced synchronously to the request layer as
// rejected operations rather than failures.
var (
	// ErrImportRunning is returned when a start request arrives while a
	// session is already running.
	ErrImportRunning = errors.New("an import session is already running")

	// ErrNoImportRunning is returned by stop when no session is running.
	ErrNoImportRunning = errors.New("no import session is running")

	// ErrResetWhileRunning is returned by reset while a session is running.
	ErrResetWhileRunning = errors.New("cannot reset while an import session is running")
)

// RateLimitError signals that the exchange asked us to slow down. The engine
// waits RetryAfter (or its own backoff when zero) and retries the same page
// without advancing the cursor.
type RateLimitError struct {
	Exchange   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Exchange, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Exchange)
}

// NewRateLimitError creates a RateLimitError for the given exchange.
func NewRateLimitError(exchange string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Exchange: exchange, RetryAfter: retryAfter}
}

// AccountFatalError signals an unrecoverable per-account condition such as
// rejected credentials. The account is marked failed and the session
// continues with the remaining accounts.
type AccountFatalError struct {
	Account string
	Reason  string
	Err     error
}

func (e *AccountFatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("account %s: %s: %v", e.Account, e.Reason, e.Err)
	}
	return fmt.Sprintf("account %s: %s", e.Account, e.Reason)
}

func (e *AccountFatalError) Unwrap() error { return e.Err }

// NewAccountFatal creates an AccountFatalError.
func NewAccountFatal(account, reason string, err error) *AccountFatalError {
	return &AccountFatalError{Account: account, Reason: reason, Err: err}
}

// StoreError wraps a persistence-layer failure. Store failures are fatal to
// the current session: per-page commits are atomic, so nothing is silently
// lost, but the engine cannot make durable progress and must end the run.
type StoreError struct {
	Operation string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store operation %s failed: %v", e.Operation, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError creates a StoreError.
func NewStoreError(operation string, err error) *StoreError {
	return &StoreError{Operation: operation, Err: err}
}

// IsRateLimit reports whether err is (or wraps) a RateLimitError.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// RetryAfter extracts the requested pause from a rate-limit error, or zero.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// IsAccountFatal reports whether err is (or wraps) an AccountFatalError.
func IsAccountFatal(err error) bool {
	var af *AccountFatalError
	return errors.As(err, &af)
}

// IsStoreFailure reports whether err is (or wraps) a StoreError.
func IsStoreFailure(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// IsRetryable reports whether the engine should retry the same page.
// Rate limits, timeouts and transient network failures are retryable;
// account-fatal conditions, store failures and cancellation are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsAccountFatal(err) || IsStoreFailure(err) {
		return false
	}
	if IsRateLimit(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
