package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Terminal and classified upstream failures
var (
	ErrNotFound       = errors.New("upstream: resource not found")
	ErrAuthFailed     = errors.New("upstream: authentication failed")
	ErrQuotaExhausted = errors.New("upstream: quota exhausted")
	ErrCursorExpired  = errors.New("upstream: pagination cursor expired")
)

// RateLimitedError reports a rate limit with the upstream's suggested wait.
// RetryAfter is zero when the upstream gave no hint.
type RateLimitedError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("upstream: rate limited on %s, retry after %v", e.Endpoint, e.RetryAfter)
	}
	return fmt.Sprintf("upstream: rate limited on %s", e.Endpoint)
}

// TransientError is a failure worth retrying later: network errors and 5xx.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream: transient status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream: transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// AsRateLimited extracts a *RateLimitedError from err's chain.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// IsRetryable reports whether a later attempt may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrNotFound) {
		return false
	}
	if _, ok := AsRateLimited(err); ok {
		return true
	}
	var te *TransientError
	return errors.As(err, &te) || errors.Is(err, ErrCursorExpired)
}
