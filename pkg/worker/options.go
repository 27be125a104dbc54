package worker

import (
	"log/slog"
	"time"
)

// DefaultCooldown is how long a tuple is blocked after a rate limit that
// carried no retry hint.
const DefaultCooldown = 60 * time.Second

// Option configures workers and the Base decorator.
type Option interface {
	apply(*settings)
}

type optionFunc func(*settings)

func (f optionFunc) apply(s *settings) { f(s) }

type settings struct {
	logger   *slog.Logger
	now      func() time.Time
	cooldown time.Duration
}

func newSettings(opts []Option) settings {
	s := settings{
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt.apply(&s)
	}
	return s
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(s *settings) {
		if l != nil {
			s.logger = l
		}
	})
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(s *settings) {
		if now != nil {
			s.now = now
		}
	})
}

// WithCooldown sets the rate-limit cooldown used when an error carries no
// retry hint. On a job-type worker it overrides the Base default for that
// type only.
func WithCooldown(d time.Duration) Option {
	return optionFunc(func(s *settings) {
		if d > 0 {
			s.cooldown = d
		}
	})
}
