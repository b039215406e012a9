package errors

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitError(t *testing.T) {
	err := NewRateLimitError("bybit", 5*time.Second)
	assert.True(t, IsRateLimit(err))
	assert.Equal(t, 5*time.Second, RetryAfter(err))
	assert.Contains(t, err.Error(), "retry after")

	wrapped := fmt.Errorf("page fetch: %w", err)
	assert.True(t, IsRateLimit(wrapped))
	assert.Equal(t, 5*time.Second, RetryAfter(wrapped))

	assert.Equal(t, time.Duration(0), RetryAfter(fmt.Errorf("other")))
}

func TestAccountFatalError(t *testing.T) {
	cause := fmt.Errorf("status 401")
	err := NewAccountFatal("main-bybit", "credentials rejected", cause)
	assert.True(t, IsAccountFatal(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "main-bybit")
	assert.Contains(t, err.Error(), "credentials rejected")
}

func TestStoreError(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewStoreError("commit_page", cause)
	assert.True(t, IsStoreFailure(err))
	assert.ErrorIs(t, err, cause)
}

type fakeNetError struct{ timeout bool }

func (e *fakeNetError) Error() string   { return "net down" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	var _ net.Error = (*fakeNetError)(nil)

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", NewRateLimitError("bybit", 0), true},
		{"network timeout", &fakeNetError{timeout: true}, true},
		{"wrapped network error", fmt.Errorf("fetch: %w", &fakeNetError{}), true},
		{"account fatal", NewAccountFatal("a", "bad key", nil), false},
		{"store failure", NewStoreError("commit", fmt.Errorf("x")), false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"generic", fmt.Errorf("weird"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
