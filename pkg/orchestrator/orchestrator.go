// Package orchestrator claims jobs from the queue and dispatches them to
// the job-type workers with a bounded number in flight.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/metrics"
	"github.com/jdziat/engagement-jobs/pkg/queue"
	"github.com/jdziat/engagement-jobs/pkg/worker"
)

// Runner runs one claimed job. *worker.Base implements it.
type Runner interface {
	Type() core.JobType
	Run(ctx context.Context, job *core.Job) (worker.Outcome, error)
}

// Orchestrator processes jobs from the queue.
type Orchestrator struct {
	queue   *queue.Queue
	config  Config
	logger  *slog.Logger
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	mu      sync.RWMutex
	runners map[core.JobType]Runner
}

// New creates an orchestrator for the given queue.
func New(q *queue.Queue, opts ...Option) *Orchestrator {
	config := Config{
		Concurrency:  4,
		PollInterval: time.Second,
		WorkerID:     uuid.New().String(),
		Logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt.Apply(&config)
	}

	if config.StorageRetry == nil {
		defaultCfg := DefaultRetryConfig()
		config.StorageRetry = &defaultCfg
	}
	if config.ClaimRetry == nil {
		// Longer backoff for claims to avoid hammering the DB during outages
		claimCfg := RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			JitterFraction:    0.2,
		}
		config.ClaimRetry = &claimCfg
	}

	return &Orchestrator{
		queue:   q,
		config:  config,
		logger:  config.Logger.With("worker_id", config.WorkerID),
		sem:     semaphore.NewWeighted(int64(config.Concurrency)),
		runners: make(map[core.JobType]Runner),
	}
}

// Register adds runners, replacing any earlier runner for the same type.
func (o *Orchestrator) Register(runners ...Runner) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range runners {
		o.runners[r.Type()] = r
	}
}

// WorkerID returns the identity claims are made under.
func (o *Orchestrator) WorkerID() string {
	return o.config.WorkerID
}

// Start claims and processes jobs until ctx is cancelled, then waits for
// in-flight jobs to return.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.logger.Info("orchestrator started",
		"concurrency", o.config.Concurrency,
		"poll_interval", o.config.PollInterval)

	for {
		// A slot is held before claiming so no claimed job waits for one.
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return o.shutdown(ctx)
		}

		job, err := o.claimWithRetry(ctx)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			o.logger.Error("failed to claim after retries", "error", err)
		}
		if job == nil {
			o.sem.Release(1)
			select {
			case <-ctx.Done():
				return o.shutdown(ctx)
			case <-time.After(o.config.PollInterval):
			}
			continue
		}

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			defer o.sem.Release(1)
			o.process(ctx, job)
		}()
	}
}

func (o *Orchestrator) shutdown(ctx context.Context) error {
	o.wg.Wait()
	o.logger.Info("orchestrator stopped")
	return ctx.Err()
}

// RunOnce claims and processes a single job synchronously. It reports
// whether a job was found.
func (o *Orchestrator) RunOnce(ctx context.Context) (bool, error) {
	job, err := o.claimWithRetry(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	o.process(ctx, job)
	return true, nil
}

// claimWithRetry attempts to claim a job with exponential backoff on failure.
func (o *Orchestrator) claimWithRetry(ctx context.Context) (*core.Job, error) {
	var job *core.Job
	err := retryWithBackoff(ctx, *o.config.ClaimRetry, func() error {
		var claimErr error
		job, claimErr = o.queue.Claim(ctx, o.config.WorkerID)
		return claimErr
	})
	if job != nil {
		metrics.JobsClaimed.WithLabelValues(string(job.JobType)).Inc()
	}
	return job, err
}

func (o *Orchestrator) runner(t core.JobType) (Runner, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.runners[t]
	return r, ok
}

func (o *Orchestrator) process(ctx context.Context, job *core.Job) {
	startTime := time.Now()
	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	// Outcome bookkeeping outlives a shutdown signal.
	bookCtx := context.WithoutCancel(ctx)

	r, ok := o.runner(job.JobType)
	if !ok {
		o.logger.Error("no worker for job", "job_id", job.ID, "job_type", job.JobType)
		o.failWithRetry(bookCtx, job, core.NoRetry(fmt.Errorf("no worker registered for job type %q", job.JobType)))
		return
	}

	out, err := o.execute(ctx, r, job)
	duration := time.Since(startTime)
	metrics.JobDuration.WithLabelValues(string(job.JobType)).Observe(duration.Seconds())

	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			o.releaseWithRetry(bookCtx, job)
			return
		}
		o.failWithRetry(bookCtx, job, err)
		return
	}

	if out.Skipped {
		metrics.JobsFinished.WithLabelValues(string(job.JobType), "skipped").Inc()
	}
	o.completeWithRetry(bookCtx, job, queue.Completion{Skipped: out.Skipped, Duration: duration})
}

func (o *Orchestrator) execute(ctx context.Context, r Runner, job *core.Job) (out worker.Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("worker panicked", "job_id", job.ID, "job_type", job.JobType, "panic", rec)
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.Run(ctx, job)
}

// completeWithRetry marks a job complete with retry on transient failures.
func (o *Orchestrator) completeWithRetry(ctx context.Context, job *core.Job, c queue.Completion) {
	owner := job.ClaimedBy
	err := retryWithBackoff(ctx, *o.config.StorageRetry, func() error {
		job.ClaimedBy = owner
		return o.queue.Complete(ctx, job, c)
	})
	if err != nil {
		o.logger.Error("failed to complete job after retries", "job_id", job.ID, "error", err)
	}
}

// failWithRetry records a failed attempt with retry on transient storage
// failures.
func (o *Orchestrator) failWithRetry(ctx context.Context, job *core.Job, cause error) {
	owner := job.ClaimedBy
	err := retryWithBackoff(ctx, *o.config.StorageRetry, func() error {
		job.ClaimedBy = owner
		_, failErr := o.queue.Fail(ctx, job, cause)
		return failErr
	})
	if err != nil {
		o.logger.Error("failed to mark job as failed after retries", "job_id", job.ID, "error", err)
	}
}

func (o *Orchestrator) releaseWithRetry(ctx context.Context, job *core.Job) {
	owner := job.ClaimedBy
	err := retryWithBackoff(ctx, *o.config.StorageRetry, func() error {
		job.ClaimedBy = owner
		return o.queue.Release(ctx, job)
	})
	if err != nil {
		o.logger.Error("failed to release job after retries", "job_id", job.ID, "error", err)
	}
}
