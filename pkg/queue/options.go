// Package queue provides the durable job queue for engagement ingestion.
package queue

import (
	"github.com/jdziat/engagement-jobs/pkg/security"
)

// DefaultMaxRetries is the number of attempts a job gets before it is
// marked failed.
const DefaultMaxRetries = 3

// Options holds configuration for job enqueueing.
type Options struct {
	Priority   *int
	MaxRetries int
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{MaxRetries: DefaultMaxRetries}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// Priority overrides the job type's default priority (lower = runs first).
func Priority(p int) Option {
	return optionFunc(func(o *Options) {
		o.Priority = &p
	})
}

// Retries sets the maximum number of attempts.
// Values are clamped to [1, security.MaxRetries].
func Retries(n int) Option {
	return optionFunc(func(o *Options) {
		n = security.ClampRetries(n)
		if n < 1 {
			n = 1
		}
		o.MaxRetries = n
	})
}
