package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/upstream"
)

// MetricsWorker refreshes a post's raw counters in a single fetch.
type MetricsWorker struct {
	store    core.CampaignStore
	fetcher  upstream.Fetcher
	logger   *slog.Logger
	now      func() time.Time
	cooldown time.Duration
}

// NewMetrics creates the metrics worker.
func NewMetrics(store core.CampaignStore, fetcher upstream.Fetcher, opts ...Option) *MetricsWorker {
	s := newSettings(opts)
	return &MetricsWorker{
		store:    store,
		fetcher:  fetcher,
		logger:   s.logger.With("job_type", core.JobMetrics),
		now:      s.now,
		cooldown: s.cooldown,
	}
}

// Type implements JobProcessor.
func (w *MetricsWorker) Type() core.JobType { return core.JobMetrics }

// Cooldown implements Cooldowner.
func (w *MetricsWorker) Cooldown() time.Duration { return w.cooldown }

// ProcessJob fetches current counts, logs the change against the stored
// baseline and overwrites it. When the fetch is cut short by a rate limit
// or quota, whatever counts arrived are saved before the error is returned.
func (w *MetricsWorker) ProcessJob(ctx context.Context, job *core.Job, _ *core.WorkerState) error {
	tweet, err := w.store.GetCampaignTweet(ctx, job.CampaignID, job.PostID)
	if err != nil {
		if errors.Is(err, core.ErrTweetNotTracked) {
			return core.NoRetry(err)
		}
		return err
	}
	baseline := tweet.Metrics()

	current, err := w.fetcher.FetchMetrics(ctx, job.PostID)
	if err != nil {
		if current != nil && partialAllowed(err) {
			merged := mergePartial(baseline, *current)
			if perr := w.store.UpdateTweetMetrics(ctx, job.CampaignID, job.PostID, merged, w.now()); perr != nil {
				w.logger.Error("failed to save partial metrics", "post_id", job.PostID, "error", perr)
			} else {
				w.logger.Info("partial metrics saved", "post_id", job.PostID, "cause", err)
			}
		}
		return fmt.Errorf("fetch metrics for %s: %w", job.PostID, err)
	}

	delta := current.Sub(baseline)
	w.logger.Info("metrics refreshed",
		"campaign_id", job.CampaignID,
		"post_id", job.PostID,
		"likes", current.Likes, "likes_delta", delta.Likes,
		"retweets", current.Retweets, "retweets_delta", delta.Retweets,
		"replies", current.Replies, "replies_delta", delta.Replies,
		"quotes", current.Quotes, "quotes_delta", delta.Quotes,
		"views", current.Views, "views_delta", delta.Views)

	return w.store.UpdateTweetMetrics(ctx, job.CampaignID, job.PostID, *current, w.now())
}

func partialAllowed(err error) bool {
	if _, ok := upstream.AsRateLimited(err); ok {
		return true
	}
	return errors.Is(err, upstream.ErrQuotaExhausted)
}

// mergePartial overlays the counters that arrived on the baseline. A zero
// counter in a partial result means it was not fetched.
func mergePartial(baseline, partial core.PostMetrics) core.PostMetrics {
	pick := func(old, got int64) int64 {
		if got > 0 {
			return got
		}
		return old
	}
	return core.PostMetrics{
		Likes:    pick(baseline.Likes, partial.Likes),
		Retweets: pick(baseline.Retweets, partial.Retweets),
		Replies:  pick(baseline.Replies, partial.Replies),
		Quotes:   pick(baseline.Quotes, partial.Quotes),
		Views:    pick(baseline.Views, partial.Views),
	}
}
