// Package aggregator rolls per-post metrics into hourly campaign snapshots.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/metrics"
)

// Uncategorized is the breakdown key for posts without a category.
const Uncategorized = "uncategorized"

// Store is the persistence the aggregator needs.
type Store interface {
	JobsForCampaign(ctx context.Context, campaignID string, jobType core.JobType) ([]*core.Job, error)
	ListCampaignTweets(ctx context.Context, campaignID string) ([]*core.CampaignTweet, error)
	LatestSnapshot(ctx context.Context, campaignID string) (*core.MetricSnapshot, error)
	CreateSnapshot(ctx context.Context, s *core.MetricSnapshot) (bool, error)
}

// Aggregator writes at most one snapshot per campaign per interval.
type Aggregator struct {
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	interval time.Duration
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// New creates an Aggregator.
func New(store Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:    store,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		interval: time.Hour,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MaybeSnapshot writes a snapshot for the campaign when every tracked post's
// metrics job has completed and no snapshot was taken within the last hour.
// It returns nil without error when no snapshot was written.
func (a *Aggregator) MaybeSnapshot(ctx context.Context, campaignID string) (*core.MetricSnapshot, error) {
	tweets, err := a.store.ListCampaignTweets(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list campaign tweets: %w", err)
	}
	if len(tweets) == 0 {
		return nil, nil
	}

	ready, err := a.metricsComplete(ctx, campaignID, tweets)
	if err != nil || !ready {
		return nil, err
	}

	now := a.now()
	latest, err := a.store.LatestSnapshot(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	if latest != nil && now.Sub(latest.CreatedAt) < a.interval {
		a.logger.Debug("snapshot too recent", "campaign_id", campaignID, "last", latest.CreatedAt)
		return nil, nil
	}

	snap := Build(campaignID, tweets, now)
	created, err := a.store.CreateSnapshot(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}
	if !created {
		// Another instance took this hour.
		return nil, nil
	}

	metrics.SnapshotsWritten.Inc()
	a.logger.Info("metric snapshot written",
		"campaign_id", campaignID,
		"hour", snap.Hour,
		"posts", snap.PostCount,
		"likes", snap.Likes,
		"views", snap.Views)
	return snap, nil
}

func (a *Aggregator) metricsComplete(ctx context.Context, campaignID string, tweets []*core.CampaignTweet) (bool, error) {
	jobs, err := a.store.JobsForCampaign(ctx, campaignID, core.JobMetrics)
	if err != nil {
		return false, fmt.Errorf("list metrics jobs: %w", err)
	}
	status := make(map[string]core.JobStatus, len(jobs))
	for _, j := range jobs {
		status[j.PostID] = j.Status
	}
	for _, t := range tweets {
		if status[t.PostID] != core.StatusCompleted {
			a.logger.Debug("metrics still pending", "campaign_id", campaignID, "post_id", t.PostID)
			return false, nil
		}
	}
	return true, nil
}

// Build sums the tweets' metric baselines into a snapshot for the UTC hour
// containing at.
func Build(campaignID string, tweets []*core.CampaignTweet, at time.Time) *core.MetricSnapshot {
	var total core.PostMetrics
	byCategory := make(map[string]core.PostMetrics)
	for _, t := range tweets {
		m := t.Metrics()
		total = total.Add(m)
		cat := t.Category
		if cat == "" {
			cat = Uncategorized
		}
		byCategory[cat] = byCategory[cat].Add(m)
	}

	at = at.UTC()
	return &core.MetricSnapshot{
		CampaignID: campaignID,
		Hour:       at.Truncate(time.Hour),
		Likes:      total.Likes,
		Retweets:   total.Retweets,
		Replies:    total.Replies,
		Quotes:     total.Quotes,
		Views:      total.Views,
		PostCount:  len(tweets),
		ByCategory: byCategory,
		CreatedAt:  at,
	}
}
