package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/metrics"
	"github.com/jdziat/engagement-jobs/pkg/queue"
	"github.com/jdziat/engagement-jobs/pkg/storage"
	"github.com/jdziat/engagement-jobs/pkg/storage/storagetest"
	"github.com/jdziat/engagement-jobs/pkg/upstream"
	"github.com/jdziat/engagement-jobs/pkg/worker"
)

type funcRunner struct {
	jobType core.JobType
	fn      func(context.Context, *core.Job) (worker.Outcome, error)
}

func (r *funcRunner) Type() core.JobType { return r.jobType }

func (r *funcRunner) Run(ctx context.Context, job *core.Job) (worker.Outcome, error) {
	return r.fn(ctx, job)
}

func okRunner(jt core.JobType) *funcRunner {
	return &funcRunner{jobType: jt, fn: func(context.Context, *core.Job) (worker.Outcome, error) {
		return worker.Outcome{}, nil
	}}
}

func fastRetry() Option {
	return StorageRetry(RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1})
}

func newTestQueue(t *testing.T) (*queue.Queue, *storage.GormStorage) {
	t.Helper()
	store := storagetest.New(t)
	return queue.New(store), store
}

func TestRunOnce_EmptyQueue(t *testing.T) {
	q, _ := newTestQueue(t)
	o := New(q, fastRetry())

	found, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRunOnce_Completes(t *testing.T) {
	ctx := context.Background()
	q, store := newTestQueue(t)
	o := New(q, WorkerID("w1"), fastRetry())
	o.Register(okRunner(core.JobRetweets))

	job, err := q.Enqueue(ctx, "c1", "p1", core.JobRetweets)
	require.NoError(t, err)

	found, err := o.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, found)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, got.Status)
}

func TestRunOnce_UnknownTypeFailsPermanently(t *testing.T) {
	ctx := context.Background()
	q, store := newTestQueue(t)
	o := New(q, fastRetry())

	job, err := q.Enqueue(ctx, "c1", "p1", core.JobLikes)
	require.NoError(t, err)

	_, err = o.RunOnce(ctx)
	require.NoError(t, err)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.Contains(t, got.LastError, "no worker registered")
}

func TestRunOnce_PanicBecomesRetry(t *testing.T) {
	ctx := context.Background()
	q, store := newTestQueue(t)
	o := New(q, fastRetry())
	o.Register(&funcRunner{jobType: core.JobReplies, fn: func(context.Context, *core.Job) (worker.Outcome, error) {
		panic("nil map")
	}})

	job, err := q.Enqueue(ctx, "c1", "p1", core.JobReplies)
	require.NoError(t, err)

	_, err = o.RunOnce(ctx)
	require.NoError(t, err)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRetrying, got.Status)
	assert.Contains(t, got.LastError, "panic: nil map")
}

func TestRunOnce_SkippedCompletesWithEvent(t *testing.T) {
	ctx := context.Background()
	q, store := newTestQueue(t)
	metrics.Instrument(q)
	events := q.Events()
	defer q.Unsubscribe(events)

	o := New(q, fastRetry())
	o.Register(&funcRunner{jobType: core.JobQuotes, fn: func(context.Context, *core.Job) (worker.Outcome, error) {
		return worker.Outcome{Skipped: true}, nil
	}})

	completedBefore := testutil.ToFloat64(metrics.JobsFinished.WithLabelValues("quotes", "completed"))
	skippedBefore := testutil.ToFloat64(metrics.JobsFinished.WithLabelValues("quotes", "skipped"))

	job, err := q.Enqueue(ctx, "c1", "p1", core.JobQuotes)
	require.NoError(t, err)
	_, err = o.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, skippedBefore+1, testutil.ToFloat64(metrics.JobsFinished.WithLabelValues("quotes", "skipped")))
	assert.Equal(t, completedBefore, testutil.ToFloat64(metrics.JobsFinished.WithLabelValues("quotes", "completed")))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, got.Status)

	var completed *core.JobCompleted
	for len(events) > 0 {
		if e, isCompleted := (<-events).(*core.JobCompleted); isCompleted {
			completed = e
		}
	}
	require.NotNil(t, completed)
	assert.True(t, completed.Skipped)
}

// metricsFetcher fails every metrics fetch with a rate limit.
type metricsFetcher struct{}

func (metricsFetcher) FetchPage(context.Context, upstream.PageRequest) (*upstream.Page, error) {
	return &upstream.Page{}, nil
}

func (metricsFetcher) FetchMetrics(context.Context, string) (*core.PostMetrics, error) {
	return nil, &upstream.RateLimitedError{Endpoint: "tweets", RetryAfter: 120 * time.Second}
}

func TestMetricsRateLimit_RetriesAndBlocksTuple(t *testing.T) {
	ctx := context.Background()
	q, store := newTestQueue(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	q.SetClock(clock)

	require.NoError(t, store.UpsertCampaignTweet(ctx, &core.CampaignTweet{CampaignID: "c1", PostID: "p1"}))
	metricsWorker := worker.NewMetrics(store, metricsFetcher{}, worker.WithClock(clock))
	o := New(q, fastRetry())
	o.Register(worker.NewBase(metricsWorker, store, worker.WithClock(clock)))

	job, err := q.Enqueue(ctx, "c1", "p1", core.JobMetrics)
	require.NoError(t, err)
	_, err = o.RunOnce(ctx)
	require.NoError(t, err)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRetrying, got.Status)
	require.NotNil(t, got.RetryAfter)
	assert.WithinDuration(t, now.Add(2*time.Minute), *got.RetryAfter, time.Second)

	st, err := store.GetState(ctx, job.Key())
	require.NoError(t, err)
	require.NotNil(t, st.BlockedUntil)
	assert.WithinDuration(t, now.Add(120*time.Second), *st.BlockedUntil, time.Second)
}

func TestStart_ProcessesJobsAndStops(t *testing.T) {
	q, store := newTestQueue(t)
	var processed atomic.Int32
	counting := func(jt core.JobType) *funcRunner {
		return &funcRunner{jobType: jt, fn: func(context.Context, *core.Job) (worker.Outcome, error) {
			processed.Add(1)
			return worker.Outcome{}, nil
		}}
	}

	o := New(q, Concurrency(3), PollInterval(10*time.Millisecond), fastRetry())
	for _, jt := range core.AllJobTypes {
		o.Register(counting(jt))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, post := range []string{"p1", "p2"} {
		for _, jt := range core.AllJobTypes {
			_, err := q.Enqueue(ctx, "c1", post, jt)
			require.NoError(t, err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- o.Start(ctx) }()

	require.Eventually(t, func() bool { return processed.Load() == 10 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not stop")
	}

	stats, err := store.CountJobsByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats[core.StatusCompleted])
}

func TestStart_BoundsInFlight(t *testing.T) {
	q, _ := newTestQueue(t)
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
		total    atomic.Int32
	)
	slow := &funcRunner{jobType: core.JobReplies, fn: func(context.Context, *core.Job) (worker.Outcome, error) {
		mu.Lock()
		inFlight++
		peak = max(peak, inFlight)
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		total.Add(1)
		return worker.Outcome{}, nil
	}}

	o := New(q, Concurrency(2), PollInterval(5*time.Millisecond), fastRetry())
	o.Register(slow)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, post := range []string{"p1", "p2", "p3", "p4", "p5", "p6"} {
		_, err := q.Enqueue(ctx, "c1", post, core.JobReplies)
		require.NoError(t, err)
	}

	done := make(chan error, 1)
	go func() { done <- o.Start(ctx) }()
	require.Eventually(t, func() bool { return total.Load() == 6 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
	assert.GreaterOrEqual(t, peak, 1)
}

func TestStart_ShutdownReleasesInterruptedJob(t *testing.T) {
	q, store := newTestQueue(t)
	started := make(chan struct{})
	blocking := &funcRunner{jobType: core.JobQuotes, fn: func(ctx context.Context, _ *core.Job) (worker.Outcome, error) {
		close(started)
		<-ctx.Done()
		return worker.Outcome{}, ctx.Err()
	}}

	o := New(q, PollInterval(5*time.Millisecond), fastRetry())
	o.Register(blocking)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job, err := q.Enqueue(ctx, "c1", "p1", core.JobQuotes)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- o.Start(ctx) }()
	<-started
	cancel()
	require.True(t, errors.Is(<-done, context.Canceled))

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)
	assert.Zero(t, got.RetryCount)
}
