package worker

import (
	"context"
	"errors"

	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/processor"
	"github.com/jdziat/engagement-jobs/pkg/upstream"
)

// NewRetweets ingests retweeting users. The upstream gives no timestamps, so
// delta scans stop at the first known user.
func NewRetweets(store Store, fetcher upstream.Fetcher, proc *processor.Processor, opts ...Option) JobProcessor {
	w := newEngagementWorker(core.JobRetweets, store, fetcher, proc, opts)
	w.stop = stopAtKnownUser
	return w
}

// NewReplies ingests replies to the post.
func NewReplies(store Store, fetcher upstream.Fetcher, proc *processor.Processor, opts ...Option) JobProcessor {
	w := newEngagementWorker(core.JobReplies, store, fetcher, proc, opts)
	w.stop = stopAtKnownOlder
	return w
}

// NewQuotes ingests quote posts and keeps the post's quote-view total.
func NewQuotes(store Store, fetcher upstream.Fetcher, proc *processor.Processor, opts ...Option) JobProcessor {
	w := newEngagementWorker(core.JobQuotes, store, fetcher, proc, opts)
	w.stop = stopAtKnownOlder
	w.flagDriven = true
	w.trackViews = true
	return w
}

// LikesWorker ingests liking users. The upstream only shows likes to the
// post's owner, so runs are gated on the campaign's feature flag and a
// valid delegated token for the post's author. Gated runs succeed without
// fetching.
type LikesWorker struct {
	*engagementWorker
}

// NewLikes creates the likes worker.
func NewLikes(store Store, fetcher upstream.Fetcher, proc *processor.Processor, opts ...Option) *LikesWorker {
	w := newEngagementWorker(core.JobLikes, store, fetcher, proc, opts)
	w.stop = stopAtKnownUser
	w.flagDriven = true
	return &LikesWorker{engagementWorker: w}
}

// ProcessJob implements JobProcessor.
func (w *LikesWorker) ProcessJob(ctx context.Context, job *core.Job, state *core.WorkerState) error {
	token, reason, err := w.gate(ctx, job)
	if err != nil {
		return err
	}
	if reason != "" {
		w.logger.Info("likes run skipped",
			"job_id", job.ID,
			"campaign_id", job.CampaignID,
			"post_id", job.PostID,
			"reason", reason)
		return nil
	}
	return w.run(ctx, job, state, token)
}

// gate returns the delegated token to fetch with, or a non-empty reason
// when this run should not fetch at all.
func (w *LikesWorker) gate(ctx context.Context, job *core.Job) (string, string, error) {
	campaign, err := w.store.GetCampaign(ctx, job.CampaignID)
	if errors.Is(err, core.ErrCampaignUnknown) {
		return "", "campaign unknown", nil
	}
	if err != nil {
		return "", "", err
	}
	if !campaign.LikesEnabled {
		return "", "likes disabled for campaign", nil
	}

	tweet, err := w.store.GetCampaignTweet(ctx, job.CampaignID, job.PostID)
	if errors.Is(err, core.ErrTweetNotTracked) {
		return "", "post not tracked", nil
	}
	if err != nil {
		return "", "", err
	}
	if tweet.AuthorID == "" {
		return "", "post author unknown", nil
	}

	tok, err := w.store.GetDelegatedToken(ctx, tweet.AuthorID)
	if err != nil {
		return "", "", err
	}
	if !tok.Valid(w.now()) {
		return "", "no valid delegated token", nil
	}
	return tok.AccessToken, "", nil
}

// All returns the five job-type workers sharing one store, fetcher and
// processor.
func All(store Store, fetcher upstream.Fetcher, proc *processor.Processor, opts ...Option) []JobProcessor {
	return []JobProcessor{
		NewMetrics(store, fetcher, opts...),
		NewRetweets(store, fetcher, proc, opts...),
		NewReplies(store, fetcher, proc, opts...),
		NewQuotes(store, fetcher, proc, opts...),
		NewLikes(store, fetcher, proc, opts...),
	}
}
