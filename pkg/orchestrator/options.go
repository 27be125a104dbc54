package orchestrator

import (
	"log/slog"
	"time"

	"github.com/jdziat/engagement-jobs/pkg/security"
)

// Option configures an Orchestrator.
type Option interface {
	Apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) Apply(c *Config) { f(c) }

// Config holds orchestrator configuration.
type Config struct {
	Concurrency  int
	PollInterval time.Duration
	WorkerID     string
	Logger       *slog.Logger
	StorageRetry *RetryConfig
	ClaimRetry   *RetryConfig
}

// Concurrency sets how many jobs may be in flight at once.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) Option {
	return optionFunc(func(c *Config) {
		c.Concurrency = security.ClampConcurrency(n)
	})
}

// PollInterval sets how long an idle loop sleeps before claiming again.
func PollInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d > 0 {
			c.PollInterval = d
		}
	})
}

// WorkerID sets the identity claims are made under.
func WorkerID(id string) Option {
	return optionFunc(func(c *Config) {
		if id != "" {
			c.WorkerID = id
		}
	})
}

// WithLogger sets the orchestrator's logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	})
}

// StorageRetry sets the retry policy for completing and failing jobs.
func StorageRetry(cfg RetryConfig) Option {
	return optionFunc(func(c *Config) {
		c.StorageRetry = &cfg
	})
}

// ClaimRetry sets the retry policy for claiming.
func ClaimRetry(cfg RetryConfig) Option {
	return optionFunc(func(c *Config) {
		c.ClaimRetry = &cfg
	})
}

// RetryAttempts sets the attempt limit for storage writes, keeping the
// default backoff.
func RetryAttempts(n int) Option {
	return optionFunc(func(c *Config) {
		cfg := DefaultRetryConfig()
		if n > 0 {
			cfg.MaxAttempts = n
		}
		c.StorageRetry = &cfg
	})
}

// DisableRetry makes every storage write and claim a single attempt.
func DisableRetry() Option {
	return optionFunc(func(c *Config) {
		once := RetryConfig{MaxAttempts: 1}
		c.StorageRetry = &once
		claim := once
		c.ClaimRetry = &claim
	})
}
