// Package engagement ingests engagements and metrics for the posts a
// campaign tracks.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages and wires them into a Pipeline.
//
// Basic usage:
//
//	cfg, _ := config.Load("engagement.yaml")
//	p, _ := engagement.Open(cfg, slog.Default())
//	defer p.Close()
//	p.Store.Migrate(ctx)
//
//	p.Campaigns.AddCampaign(ctx, &engagement.Campaign{ID: "launch"})
//	p.Campaigns.AddTweet(ctx, &engagement.CampaignTweet{CampaignID: "launch", PostID: "1001"})
//
//	p.Run(ctx) // orchestrator, triggers and scheduler until ctx is cancelled
package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/engagement-jobs/pkg/aggregator"
	"github.com/jdziat/engagement-jobs/pkg/alerts"
	"github.com/jdziat/engagement-jobs/pkg/campaign"
	"github.com/jdziat/engagement-jobs/pkg/config"
	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/metrics"
	"github.com/jdziat/engagement-jobs/pkg/orchestrator"
	"github.com/jdziat/engagement-jobs/pkg/processor"
	"github.com/jdziat/engagement-jobs/pkg/queue"
	"github.com/jdziat/engagement-jobs/pkg/schedule"
	"github.com/jdziat/engagement-jobs/pkg/storage"
	"github.com/jdziat/engagement-jobs/pkg/tokens"
	"github.com/jdziat/engagement-jobs/pkg/triggers"
	"github.com/jdziat/engagement-jobs/pkg/upstream"
	"github.com/jdziat/engagement-jobs/pkg/worker"
)

// Type aliases
type (
	// Job is one unit of ingestion work for a (campaign, post, job type) tuple.
	Job = core.Job

	// JobType names the kind of ingestion a job performs.
	JobType = core.JobType

	// JobStatus represents the current state of a job.
	JobStatus = core.JobStatus

	// Key identifies a (campaign, post, job type) tuple.
	Key = core.Key

	// WorkerState is the per-tuple ingestion progress.
	WorkerState = core.WorkerState

	// Engagement is one account's action on a post.
	Engagement = core.Engagement

	// Campaign groups tracked posts.
	Campaign = core.Campaign

	// CampaignTweet is a post tracked by a campaign.
	CampaignTweet = core.CampaignTweet

	// MetricSnapshot is an hourly roll-up of a campaign's metrics.
	MetricSnapshot = core.MetricSnapshot

	// Alert records a detected engagement anomaly.
	Alert = core.Alert

	// Storage is the full persistence contract.
	Storage = core.Storage

	// Event is the interface for all queue events.
	Event = core.Event

	// NoRetryError indicates an error that should not be retried.
	NoRetryError = core.NoRetryError

	// Queue manages job enqueueing, claiming and outcome recording.
	Queue = queue.Queue

	// Orchestrator claims jobs and dispatches them to workers.
	Orchestrator = orchestrator.Orchestrator

	// Fetcher is the upstream API contract.
	Fetcher = upstream.Fetcher

	// Config is the full pipeline configuration.
	Config = config.Config
)

// Job types
const (
	JobRetweets = core.JobRetweets
	JobReplies  = core.JobReplies
	JobQuotes   = core.JobQuotes
	JobMetrics  = core.JobMetrics
	JobLikes    = core.JobLikes
)

// Job statuses
const (
	StatusPending    = core.StatusPending
	StatusProcessing = core.StatusProcessing
	StatusCompleted  = core.StatusCompleted
	StatusFailed     = core.StatusFailed
	StatusRetrying   = core.StatusRetrying
)

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return core.NoRetry(err)
}

// NewGormStorage creates a GORM-backed store.
func NewGormStorage(db *gorm.DB) *storage.GormStorage {
	return storage.NewGormStorage(db)
}

// NewQueue creates a Queue over the given store.
func NewQueue(s core.JobStore) *queue.Queue {
	return queue.New(s)
}

// NewOrchestrator creates an Orchestrator for q.
func NewOrchestrator(q *queue.Queue, opts ...orchestrator.Option) *orchestrator.Orchestrator {
	return orchestrator.New(q, opts...)
}

// Scheduled task names.
const (
	TaskSweep       = "sweep"
	TaskMaintenance = "maintenance"
)

// Pipeline is a fully wired ingestion service.
type Pipeline struct {
	Config       config.Config
	Store        *storage.GormStorage
	Queue        *queue.Queue
	Orchestrator *orchestrator.Orchestrator
	Campaigns    *campaign.Manager
	Tokens       *tokens.Service
	Aggregator   *aggregator.Aggregator
	Alerts       *alerts.Detector
	Triggers     *triggers.Dispatcher
	Scheduler    *schedule.Scheduler

	logger *slog.Logger
}

// Open connects to the configured database and upstream API and builds a
// Pipeline. The caller runs Store.Migrate when the schema may be missing.
func Open(cfg config.Config, log *slog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	store, err := storage.Open(cfg.Database.DSN, cfg.Database.Pool, logger.Warn)
	if err != nil {
		return nil, err
	}
	client := upstream.NewHTTPClient(cfg.Upstream.ClientConfig()).WithLogger(log)

	p, err := NewPipeline(cfg, store, client, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return p, nil
}

// NewPipeline wires every component over an existing store and fetcher.
func NewPipeline(cfg config.Config, store *storage.GormStorage, fetcher upstream.Fetcher, log *slog.Logger) (*Pipeline, error) {
	if log == nil {
		log = slog.Default()
	}

	q := queue.New(store)
	q.SetLogger(log)
	q.SetMaxRetries(cfg.Queue.MaxRetries)
	metrics.Instrument(q)

	procOpts := []processor.Option{processor.WithLogger(log)}
	if len(cfg.Rules) > 0 {
		procOpts = append(procOpts, processor.WithRules(cfg.Rules))
	}
	proc := processor.New(store, procOpts...)

	orch := orchestrator.New(q,
		orchestrator.Concurrency(cfg.Orchestrator.Concurrency),
		orchestrator.PollInterval(cfg.Orchestrator.PollInterval),
		orchestrator.WorkerID(cfg.Orchestrator.WorkerID),
		orchestrator.WithLogger(log),
	)
	workerOpts := []worker.Option{worker.WithLogger(log), worker.WithCooldown(cfg.Orchestrator.Cooldown)}
	for _, w := range worker.All(store, fetcher, proc, workerOpts...) {
		orch.Register(worker.NewBase(w, store, workerOpts...))
	}

	agg := aggregator.New(store, aggregator.WithLogger(log))
	det := alerts.NewDetector(store, cfg.Alerts)
	det.SetLogger(log)
	tok := tokens.NewService(store, cfg.Tokens.StateTTL)
	tok.SetLogger(log)

	p := &Pipeline{
		Config:       cfg,
		Store:        store,
		Queue:        q,
		Orchestrator: orch,
		Campaigns:    campaign.NewManager(store, q, log),
		Tokens:       tok,
		Aggregator:   agg,
		Alerts:       det,
		Triggers:     triggers.New(q, agg, det, triggers.WithLogger(log)),
		Scheduler:    schedule.NewScheduler(log),
		logger:       log,
	}

	sweep, err := schedule.Parse(cfg.Schedule.Sweep)
	if err != nil {
		return nil, err
	}
	maintenance, err := schedule.Parse(cfg.Schedule.Maintenance)
	if err != nil {
		return nil, err
	}
	if err := p.Scheduler.Add(TaskSweep, sweep, func(ctx context.Context) error {
		_, err := p.Campaigns.Sweep(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if err := p.Scheduler.Add(TaskMaintenance, maintenance, p.Maintenance); err != nil {
		return nil, err
	}
	return p, nil
}

// Run starts the orchestrator, the trigger dispatcher and the scheduler and
// blocks until ctx is cancelled and all of them have stopped.
func (p *Pipeline) Run(ctx context.Context) error {
	// Subscribe before any job can complete.
	events := p.Queue.Events()
	defer p.Queue.Unsubscribe(events)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Triggers.Run(ctx, events) })
	g.Go(func() error { return p.Orchestrator.Start(ctx) })
	g.Go(func() error { return p.Scheduler.Start(ctx) })

	p.logger.Info("pipeline started",
		"worker_id", p.Orchestrator.WorkerID(),
		"scheduled", p.Scheduler.Names())

	err := g.Wait()
	p.logger.Info("pipeline stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Maintenance releases stale claims, deletes old completed jobs and purges
// expired authorization states.
func (p *Pipeline) Maintenance(ctx context.Context) error {
	var errs []error
	if p.Config.Orchestrator.StaleTimeout > 0 {
		if _, err := p.Queue.RecoverStale(ctx, p.Config.Orchestrator.StaleTimeout); err != nil {
			errs = append(errs, fmt.Errorf("recover stale: %w", err))
		}
	}
	if p.Config.Queue.Retention > 0 {
		if _, err := p.Queue.Cleanup(ctx, p.Config.Queue.Retention); err != nil {
			errs = append(errs, fmt.Errorf("cleanup: %w", err))
		}
	}
	if _, err := p.Tokens.PurgeExpired(ctx); err != nil {
		errs = append(errs, fmt.Errorf("purge states: %w", err))
	}
	return errors.Join(errs...)
}

// Close releases the database connection.
func (p *Pipeline) Close() error {
	return p.Store.Close()
}
