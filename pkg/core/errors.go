package core

import (
	"errors"
	"fmt"
)

// Validation and ownership errors
var (
	ErrUnknownJobType  = errors.New("engagement: unknown job type")
	ErrInvalidID       = errors.New("engagement: invalid identifier")
	ErrIDTooLong       = errors.New("engagement: identifier too long")
	ErrJobNotOwned     = errors.New("engagement: job not owned by this worker")
	ErrJobNotFound     = errors.New("engagement: job not found")
	ErrCampaignUnknown = errors.New("engagement: campaign not found")
	ErrTweetNotTracked = errors.New("engagement: post not tracked by campaign")
	ErrStateExpired    = errors.New("engagement: authorization state expired or unknown")
	ErrClaimContention = errors.New("engagement: lost every claim race, jobs still pending")
)

// NoRetryError indicates an error that should not be retried.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// IsNoRetry reports whether err was wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var nr *NoRetryError
	return errors.As(err, &nr)
}
