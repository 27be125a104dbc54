package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/metrics"
	"github.com/jdziat/engagement-jobs/pkg/processor"
	"github.com/jdziat/engagement-jobs/pkg/upstream"
)

// Store is the persistence the job-type workers need.
type Store interface {
	core.StateStore
	core.EngagementStore
	core.CampaignStore
	core.TokenStore
}

// stopPolicy decides where a delta scan stops.
type stopPolicy int

const (
	// stopAtKnownUser stops at the first already-stored user. Used when
	// the upstream reports no per-item timestamps.
	stopAtKnownUser stopPolicy = iota
	// stopAtKnownOlder stops at the first already-stored user whose item
	// predates the tuple's last success.
	stopAtKnownOlder
)

// engagementWorker is the paginated ingestion engine shared by retweets,
// replies, quotes and likes.
type engagementWorker struct {
	jobType core.JobType
	stop    stopPolicy
	// flagDriven types pick backfill mode from BackfillComplete rather than
	// from the absence of a last success.
	flagDriven bool
	trackViews bool

	store    Store
	fetcher  upstream.Fetcher
	proc     *processor.Processor
	logger   *slog.Logger
	now      func() time.Time
	cooldown time.Duration
}

func newEngagementWorker(jt core.JobType, store Store, fetcher upstream.Fetcher, proc *processor.Processor, opts []Option) *engagementWorker {
	s := newSettings(opts)
	if proc == nil {
		index, _ := store.(core.ImportanceIndex)
		proc = processor.New(index, processor.WithLogger(s.logger))
	}
	return &engagementWorker{
		jobType:  jt,
		store:    store,
		fetcher:  fetcher,
		proc:     proc,
		logger:   s.logger.With("job_type", jt),
		now:      s.now,
		cooldown: s.cooldown,
	}
}

func (w *engagementWorker) Type() core.JobType      { return w.jobType }
func (w *engagementWorker) Cooldown() time.Duration { return w.cooldown }

func (w *engagementWorker) ProcessJob(ctx context.Context, job *core.Job, state *core.WorkerState) error {
	return w.run(ctx, job, state, "")
}

func (w *engagementWorker) backfilling(state *core.WorkerState) bool {
	if w.flagDriven {
		return !state.BackfillComplete
	}
	return state.LastSuccess == nil
}

func (w *engagementWorker) run(ctx context.Context, job *core.Job, state *core.WorkerState, token string) error {
	known, err := w.store.KnownEngagements(ctx, job.PostID, job.JobType.Action())
	if err != nil {
		return fmt.Errorf("load known engagements: %w", err)
	}
	r := &ingestRun{
		w:        w,
		job:      job,
		known:    known,
		views:    make(map[string]int64, len(known)),
		inserted: make(map[string]bool),
	}
	for uid, e := range known {
		r.views[uid] = e.QuoteViewCount
	}

	if w.backfilling(state) {
		err = r.backfill(ctx, state, token)
	} else {
		err = r.delta(ctx, state, token)
	}
	if err != nil {
		return err
	}

	if w.trackViews {
		return w.raiseQuoteViews(ctx, job)
	}
	return nil
}

// ingestRun carries one job's working set.
type ingestRun struct {
	w     *engagementWorker
	job   *core.Job
	known map[string]*core.Engagement
	// views holds each quoting user's view baseline as of this run.
	views map[string]int64
	// inserted holds users first stored during this run.
	inserted map[string]bool
	ingested int
}

func (r *ingestRun) fetch(ctx context.Context, cursor, token string) (*upstream.Page, error) {
	page, err := r.w.fetcher.FetchPage(ctx, upstream.PageRequest{
		PostID:      r.job.PostID,
		Type:        r.job.JobType,
		Cursor:      cursor,
		AccessToken: token,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s page for %s: %w", r.job.JobType, r.job.PostID, err)
	}
	return page, nil
}

// backfill walks every page from the saved cursor, saving the next cursor
// after each page so an interrupted run resumes where it stopped.
func (r *ingestRun) backfill(ctx context.Context, state *core.WorkerState, token string) error {
	key := r.job.Key()
	cursor := state.Cursor
	pages := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := r.fetch(ctx, cursor, token)
		if err != nil {
			return err
		}
		pages++
		for _, item := range page.Items {
			if err := r.ingest(ctx, item); err != nil {
				return err
			}
		}

		if !page.HasMore || page.NextCursor == "" {
			err := r.w.store.UpdateState(ctx, key, core.StatePatch{
				Cursor:           core.Ptr(""),
				BackfillComplete: core.Ptr(true),
			})
			if err != nil {
				return fmt.Errorf("finish backfill: %w", err)
			}
			break
		}

		cursor = page.NextCursor
		if err := r.w.store.UpdateState(ctx, key, core.StatePatch{Cursor: &cursor}); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
	}

	r.w.logger.Info("backfill complete",
		"job_id", r.job.ID,
		"post_id", r.job.PostID,
		"pages", pages,
		"ingested", r.ingested)
	return nil
}

// delta reads one page from the saved cursor and stops at the first item
// that was already ingested on an earlier run.
func (r *ingestRun) delta(ctx context.Context, state *core.WorkerState, token string) error {
	page, err := r.fetch(ctx, state.Cursor, token)
	if err != nil {
		return err
	}

	stopped := false
	for _, item := range page.Items {
		if r.seenBefore(item, state.LastSuccess) {
			stopped = true
			break
		}
		if err := r.ingest(ctx, item); err != nil {
			return err
		}
	}

	next := ""
	if !stopped && page.HasMore {
		next = page.NextCursor
	}
	if next != state.Cursor {
		if err := r.w.store.UpdateState(ctx, r.job.Key(), core.StatePatch{Cursor: &next}); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
	}

	r.w.logger.Debug("delta scan done",
		"job_id", r.job.ID,
		"post_id", r.job.PostID,
		"scanned", len(page.Items),
		"ingested", r.ingested,
		"stopped", stopped)
	return nil
}

func (r *ingestRun) seenBefore(item upstream.Item, lastSuccess *time.Time) bool {
	if _, ok := r.known[item.User.UserID]; !ok {
		return false
	}
	if r.w.stop == stopAtKnownUser || lastSuccess == nil || item.CreatedAt.IsZero() {
		return true
	}
	return item.CreatedAt.Before(*lastSuccess)
}

func (r *ingestRun) ingest(ctx context.Context, item upstream.Item) error {
	action := r.job.JobType.Action()
	e, err := r.w.proc.Process(ctx, item, r.job.PostID, action, r.w.now())
	if err != nil {
		r.w.logger.Warn("skipping malformed item", "post_id", r.job.PostID, "error", err)
		return nil
	}

	var raised bool
	if r.w.trackViews {
		prev := r.views[e.UserID]
		baseline := max(prev, item.ViewCount)
		if item.ViewCount < prev {
			r.w.logger.Debug("quote views went down, keeping baseline",
				"post_id", r.job.PostID,
				"user_id", e.UserID,
				"baseline", prev,
				"observed", item.ViewCount)
		}
		e.QuoteViewCount = baseline
		_, existed := r.known[e.UserID]
		raised = (existed || r.inserted[e.UserID]) && baseline > prev
		r.views[e.UserID] = baseline
	}

	if err := r.w.store.UpsertEngagement(ctx, e); err != nil {
		return fmt.Errorf("upsert engagement %s/%s: %w", r.job.PostID, e.UserID, err)
	}
	if _, ok := r.known[e.UserID]; !ok {
		r.inserted[e.UserID] = true
	}
	if raised {
		if err := r.w.store.SetQuoteViewCount(ctx, r.job.PostID, e.UserID, e.QuoteViewCount); err != nil {
			return fmt.Errorf("update quote views %s/%s: %w", r.job.PostID, e.UserID, err)
		}
	}

	r.ingested++
	metrics.EngagementsIngested.WithLabelValues(string(action)).Inc()
	return nil
}

// raiseQuoteViews recomputes the post's quote-view total from the stored
// baselines and writes it only when it grew.
func (w *engagementWorker) raiseQuoteViews(ctx context.Context, job *core.Job) error {
	total, err := w.store.SumQuoteViews(ctx, job.PostID)
	if err != nil {
		return fmt.Errorf("sum quote views: %w", err)
	}
	raised, err := w.store.RaiseQuoteViewTotal(ctx, job.CampaignID, job.PostID, total)
	if err != nil {
		return fmt.Errorf("raise quote view total: %w", err)
	}
	if raised {
		w.logger.Debug("quote view total raised", "post_id", job.PostID, "total", total)
	}
	return nil
}
