package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/metrics"
	"github.com/jdziat/engagement-jobs/pkg/upstream"
)

// JobProcessor does the type-specific work for one claimed job. state is
// the tuple's current worker state; processors persist intermediate
// progress (cursors) themselves and leave success and failure bookkeeping
// to Base.
type JobProcessor interface {
	Type() core.JobType
	ProcessJob(ctx context.Context, job *core.Job, state *core.WorkerState) error
}

// Cooldowner is implemented by processors with their own rate-limit
// cooldown.
type Cooldowner interface {
	Cooldown() time.Duration
}

// Outcome describes a Run that returned no error.
type Outcome struct {
	// Skipped is set when the tuple was blocked and ProcessJob was not called.
	Skipped      bool
	BlockedUntil *time.Time
}

// Base wraps a JobProcessor with worker-state handling.
type Base struct {
	proc     JobProcessor
	states   core.StateStore
	logger   *slog.Logger
	now      func() time.Time
	cooldown time.Duration
}

// NewBase decorates proc.
func NewBase(proc JobProcessor, states core.StateStore, opts ...Option) *Base {
	s := newSettings(opts)
	cooldown := s.cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Base{
		proc:     proc,
		states:   states,
		logger:   s.logger,
		now:      s.now,
		cooldown: cooldown,
	}
}

// Type returns the wrapped processor's job type.
func (b *Base) Type() core.JobType {
	return b.proc.Type()
}

// Run processes job. A blocked tuple returns a skipped Outcome and no
// error. Errors are returned after the tuple's state has recorded them;
// not-found errors come back wrapped in core.NoRetry.
func (b *Base) Run(ctx context.Context, job *core.Job) (Outcome, error) {
	key := job.Key()
	state, err := b.states.GetOrCreateState(ctx, key)
	if err != nil {
		return Outcome{}, fmt.Errorf("load worker state %s: %w", key, err)
	}

	if state.Blocked(b.now()) {
		b.logger.Debug("tuple blocked, skipping",
			"job_id", job.ID,
			"key", key.String(),
			"blocked_until", state.BlockedUntil)
		return Outcome{Skipped: true, BlockedUntil: state.BlockedUntil}, nil
	}

	if err := b.proc.ProcessJob(ctx, job, state); err != nil {
		return Outcome{}, b.recordFailure(ctx, key, err)
	}

	now := b.now()
	err = b.states.UpdateState(ctx, key, core.StatePatch{
		ClearBlocked: true,
		LastError:    core.Ptr(""),
		RetryCount:   core.Ptr(0),
		LastSuccess:  &now,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("record success %s: %w", key, err)
	}
	return Outcome{}, nil
}

// recordFailure writes the failure to the tuple's state and returns the
// error to hand to the queue. An interrupted run leaves the state alone
// since the job is released rather than failed.
func (b *Base) recordFailure(ctx context.Context, key core.Key, cause error) error {
	if ctx.Err() != nil && errors.Is(cause, ctx.Err()) {
		b.logger.Info("job interrupted", "key", key.String(), "error", cause)
		return cause
	}

	class, retryAfter := Classify(cause)
	patch := core.StatePatch{LastError: core.Ptr(cause.Error())}

	switch class {
	case ClassRateLimit:
		if retryAfter <= 0 {
			retryAfter = b.defaultCooldown()
		}
		until := b.now().Add(retryAfter)
		patch.BlockedUntil = &until
		metrics.RateLimitBlocks.WithLabelValues(string(key.JobType)).Inc()
	case ClassCursorExpired:
		patch.Cursor = core.Ptr("")
	default:
		patch.IncrementRetries = true
	}

	// The state write must land even when the job's context is done.
	if err := b.states.UpdateState(context.WithoutCancel(ctx), key, patch); err != nil {
		b.logger.Error("failed to record worker error",
			"key", key.String(),
			"error", err,
			"cause", cause)
	}

	b.logger.Warn("job processing failed",
		"key", key.String(),
		"class", class.String(),
		"blocked_until", patch.BlockedUntil,
		"error", cause)

	if errors.Is(cause, upstream.ErrNotFound) && !core.IsNoRetry(cause) {
		return core.NoRetry(cause)
	}
	return cause
}

func (b *Base) defaultCooldown() time.Duration {
	if c, ok := b.proc.(Cooldowner); ok {
		if d := c.Cooldown(); d > 0 {
			return d
		}
	}
	return b.cooldown
}
