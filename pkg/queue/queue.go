package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/security"
)

// maxBackoffShift caps the exponent so the delay cannot overflow.
const maxBackoffShift = 20

// Backoff returns how long a job that has already failed retryCount times
// waits before its next attempt: 2^(retryCount+1) minutes.
func Backoff(retryCount int) time.Duration {
	shift := retryCount + 1
	if shift < 1 {
		shift = 1
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return time.Duration(1<<uint(shift)) * time.Minute
}

// Completion describes how a job finished.
type Completion struct {
	// Skipped is set when the tuple was cooling down and no work was done.
	Skipped  bool
	Duration time.Duration
}

// Queue manages job enqueueing, claiming and outcome recording.
type Queue struct {
	store      core.JobStore
	logger     *slog.Logger
	now        func() time.Time
	maxRetries int
	mu         sync.RWMutex

	// Hooks
	onComplete []func(context.Context, *core.Job)
	onFail     []func(context.Context, *core.Job, error)
	onRetry    []func(context.Context, *core.Job, int, error)

	// Event stream
	eventSubs []chan core.Event
}

// New creates a new Queue with the given storage backend.
func New(s core.JobStore) *Queue {
	return &Queue{
		store:      s,
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
		maxRetries: DefaultMaxRetries,
	}
}

// Store returns the queue's storage backend.
func (q *Queue) Store() core.JobStore {
	return q.store
}

// SetLogger replaces the queue's logger.
func (q *Queue) SetLogger(l *slog.Logger) {
	if l != nil {
		q.logger = l
	}
}

// SetClock replaces the time source. Intended for tests.
func (q *Queue) SetClock(now func() time.Time) {
	if now != nil {
		q.now = now
	}
}

// SetMaxRetries changes the default attempt limit for newly enqueued jobs.
func (q *Queue) SetMaxRetries(n int) {
	o := NewOptions()
	Retries(n).Apply(o)
	q.maxRetries = o.MaxRetries
}

// Enqueue creates or resets the job for (campaignID, postID, jobType). An
// existing job is always reset to pending with its claim and retry count
// cleared.
func (q *Queue) Enqueue(ctx context.Context, campaignID, postID string, jobType core.JobType, opts ...Option) (*core.Job, error) {
	if err := security.ValidateID(campaignID); err != nil {
		return nil, fmt.Errorf("campaign id: %w", err)
	}
	if err := security.ValidateID(postID); err != nil {
		return nil, fmt.Errorf("post id: %w", err)
	}
	if _, err := core.ParseJobType(string(jobType)); err != nil {
		return nil, err
	}

	o := NewOptions()
	o.MaxRetries = q.maxRetries
	for _, opt := range opts {
		opt.Apply(o)
	}

	priority := core.DefaultPriority(jobType)
	if o.Priority != nil {
		priority = *o.Priority
	}

	job, err := q.store.UpsertJob(ctx, &core.Job{
		CampaignID: campaignID,
		PostID:     postID,
		JobType:    jobType,
		Priority:   priority,
		MaxRetries: o.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s/%s/%s: %w", campaignID, postID, jobType, err)
	}

	q.logger.Debug("job enqueued",
		"job_id", job.ID,
		"campaign_id", campaignID,
		"post_id", postID,
		"job_type", jobType,
		"priority", priority)
	return job, nil
}

// Claim promotes due retries and then atomically claims the next pending
// job for workerID. Returns nil when nothing is claimable.
func (q *Queue) Claim(ctx context.Context, workerID string) (*core.Job, error) {
	now := q.now()
	if promoted, err := q.store.PromoteDueRetries(ctx, now); err != nil {
		return nil, fmt.Errorf("promote retries: %w", err)
	} else if promoted > 0 {
		q.logger.Debug("retrying jobs promoted", "count", promoted)
	}

	job, err := q.store.ClaimNext(ctx, workerID, now)
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	if job == nil {
		return nil, nil
	}

	q.Emit(&core.JobClaimed{Job: job, WorkerID: workerID, Timestamp: now})
	return job, nil
}

// Complete marks a claimed job completed. Complete hooks only run for
// jobs that did work; a skipped completion is visible through its event.
func (q *Queue) Complete(ctx context.Context, job *core.Job, c Completion) error {
	now := q.now()
	if err := q.store.CompleteJob(ctx, job.ID, job.ClaimedBy, now); err != nil {
		return err
	}
	job.Status = core.StatusCompleted
	job.CompletedAt = &now
	job.ClaimedBy = ""
	job.ClaimedAt = nil

	if !c.Skipped {
		q.CallCompleteHooks(ctx, job)
	}
	q.Emit(&core.JobCompleted{Job: job, Skipped: c.Skipped, Duration: c.Duration, Timestamp: now})
	return nil
}

// Fail records a failed attempt. The job goes back to retrying with
// exponential backoff while attempts remain and the cause allows it;
// otherwise it is marked failed. Returns the resulting status.
func (q *Queue) Fail(ctx context.Context, job *core.Job, cause error) (core.JobStatus, error) {
	now := q.now()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	maxRetries := job.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	attempt := job.RetryCount + 1

	if !core.IsNoRetry(cause) && attempt < maxRetries {
		retryAt := now.Add(Backoff(job.RetryCount))
		if err := q.store.FailJob(ctx, job.ID, job.ClaimedBy, msg, &retryAt); err != nil {
			return "", err
		}
		job.Status = core.StatusRetrying
		job.RetryCount = attempt
		job.RetryAfter = &retryAt
		job.LastError = security.SanitizeErrorMessage(msg)
		job.ClaimedBy = ""
		job.ClaimedAt = nil

		q.logger.Warn("job failed, retrying",
			"job_id", job.ID,
			"job_type", job.JobType,
			"attempt", attempt,
			"retry_after", retryAt,
			"error", msg)
		q.CallRetryHooks(ctx, job, attempt, cause)
		q.Emit(&core.JobRetrying{Job: job, Attempt: attempt, Error: cause, RetryAfter: retryAt, Timestamp: now})
		return core.StatusRetrying, nil
	}

	if err := q.store.FailJob(ctx, job.ID, job.ClaimedBy, msg, nil); err != nil {
		return "", err
	}
	job.Status = core.StatusFailed
	job.RetryCount = attempt
	job.LastError = security.SanitizeErrorMessage(msg)
	job.ClaimedBy = ""
	job.ClaimedAt = nil

	q.logger.Error("job failed permanently",
		"job_id", job.ID,
		"campaign_id", job.CampaignID,
		"post_id", job.PostID,
		"job_type", job.JobType,
		"attempts", attempt,
		"error", msg)
	q.CallFailHooks(ctx, job, cause)
	q.Emit(&core.JobFailed{Job: job, Error: cause, Timestamp: now})
	return core.StatusFailed, nil
}

// Release hands a claimed job back to pending without counting the
// attempt. Used when a worker shuts down mid-job.
func (q *Queue) Release(ctx context.Context, job *core.Job) error {
	if err := q.store.ReleaseJob(ctx, job.ID, job.ClaimedBy); err != nil {
		return err
	}
	q.logger.Info("job released", "job_id", job.ID, "job_type", job.JobType)
	job.Status = core.StatusPending
	job.ClaimedBy = ""
	job.ClaimedAt = nil
	return nil
}

// RecoverStale returns jobs claimed longer than timeout ago to pending.
func (q *Queue) RecoverStale(ctx context.Context, timeout time.Duration) (int64, error) {
	n, err := q.store.ReleaseStale(ctx, q.now().Add(-timeout))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.Warn("stale claims released", "count", n, "timeout", timeout)
	}
	return n, nil
}

// Stats counts jobs by status.
func (q *Queue) Stats(ctx context.Context) (map[core.JobStatus]int64, error) {
	return q.store.CountJobsByStatus(ctx)
}

// Cleanup deletes completed jobs older than retention.
func (q *Queue) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := q.store.DeleteCompletedBefore(ctx, q.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.Info("completed jobs cleaned up", "count", n, "retention", retention)
	}
	return n, nil
}

// OnJobComplete registers a callback for when a job completes without
// being skipped.
func (q *Queue) OnJobComplete(fn func(context.Context, *core.Job)) {
	q.mu.Lock()
	q.onComplete = append(q.onComplete, fn)
	q.mu.Unlock()
}

// OnJobFail registers a callback for when a job fails permanently.
func (q *Queue) OnJobFail(fn func(context.Context, *core.Job, error)) {
	q.mu.Lock()
	q.onFail = append(q.onFail, fn)
	q.mu.Unlock()
}

// OnRetry registers a callback for when a job is scheduled for retry.
func (q *Queue) OnRetry(fn func(context.Context, *core.Job, int, error)) {
	q.mu.Lock()
	q.onRetry = append(q.onRetry, fn)
	q.mu.Unlock()
}

// Events returns a channel for receiving queue events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (q *Queue) Events() <-chan core.Event {
	ch := make(chan core.Event, 256)
	q.mu.Lock()
	q.eventSubs = append(q.eventSubs, ch)
	q.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed. After Unsubscribe returns, no further events
// will be sent to it.
func (q *Queue) Unsubscribe(ch <-chan core.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, sub := range q.eventSubs {
		if sub == ch {
			q.eventSubs = append(q.eventSubs[:i], q.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit emits an event to all subscribers. Full subscribers miss the event
// rather than block the caller.
func (q *Queue) Emit(e core.Event) {
	q.mu.RLock()
	subs := make([]chan core.Event, len(q.eventSubs))
	copy(subs, q.eventSubs)
	q.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			q.logger.Warn("event dropped for slow subscriber", "event", fmt.Sprintf("%T", e))
		}
	}
}

// CallCompleteHooks calls all registered complete hooks.
func (q *Queue) CallCompleteHooks(ctx context.Context, job *core.Job) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job), len(q.onComplete))
	copy(hooks, q.onComplete)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job)
	}
}

// CallFailHooks calls all registered fail hooks.
func (q *Queue) CallFailHooks(ctx context.Context, job *core.Job, err error) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job, error), len(q.onFail))
	copy(hooks, q.onFail)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, err)
	}
}

// CallRetryHooks calls all registered retry hooks.
func (q *Queue) CallRetryHooks(ctx context.Context, job *core.Job, attempt int, err error) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job, int, error), len(q.onRetry))
	copy(hooks, q.onRetry)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, attempt, err)
	}
}
