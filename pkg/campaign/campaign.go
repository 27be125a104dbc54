// Package campaign manages which posts a campaign tracks and keeps their
// ingestion jobs flowing.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/queue"
	"github.com/jdziat/engagement-jobs/pkg/security"
)

// Store is the persistence the manager needs.
type Store interface {
	GetCampaign(ctx context.Context, campaignID string) (*core.Campaign, error)
	UpsertCampaign(ctx context.Context, c *core.Campaign) error
	UpsertCampaignTweet(ctx context.Context, t *core.CampaignTweet) error
	RemoveCampaignTweet(ctx context.Context, campaignID, postID string) error
	ListAllCampaignTweets(ctx context.Context) ([]*core.CampaignTweet, error)
	FindJob(ctx context.Context, key core.Key) (*core.Job, error)
}

// Enqueuer creates or resets jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, campaignID, postID string, jobType core.JobType, opts ...queue.Option) (*core.Job, error)
}

// Manager owns the campaign-tweet lifecycle.
type Manager struct {
	store  Store
	queue  Enqueuer
	logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(store Store, q Enqueuer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, queue: q, logger: logger}
}

// AddCampaign creates or updates a campaign.
func (m *Manager) AddCampaign(ctx context.Context, c *core.Campaign) error {
	if err := security.ValidateID(c.ID); err != nil {
		return fmt.Errorf("campaign id: %w", err)
	}
	if err := m.store.UpsertCampaign(ctx, c); err != nil {
		return fmt.Errorf("upsert campaign %s: %w", c.ID, err)
	}
	return nil
}

// AddTweet starts tracking a post and enqueues every job type for it.
func (m *Manager) AddTweet(ctx context.Context, t *core.CampaignTweet) ([]*core.Job, error) {
	if err := security.ValidateID(t.PostID); err != nil {
		return nil, fmt.Errorf("post id: %w", err)
	}
	if _, err := m.store.GetCampaign(ctx, t.CampaignID); err != nil {
		return nil, err
	}
	if err := m.store.UpsertCampaignTweet(ctx, t); err != nil {
		return nil, fmt.Errorf("track %s/%s: %w", t.CampaignID, t.PostID, err)
	}

	jobs := make([]*core.Job, 0, len(core.AllJobTypes))
	for _, jt := range core.AllJobTypes {
		job, err := m.queue.Enqueue(ctx, t.CampaignID, t.PostID, jt)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}

	m.logger.Info("tweet tracked",
		"campaign_id", t.CampaignID,
		"post_id", t.PostID,
		"jobs", len(jobs))
	return jobs, nil
}

// RemoveTweet stops tracking a post. Its jobs, worker state and the
// campaign's snapshots are deleted; engagements go too unless another
// campaign still tracks the post.
func (m *Manager) RemoveTweet(ctx context.Context, campaignID, postID string) error {
	if err := m.store.RemoveCampaignTweet(ctx, campaignID, postID); err != nil {
		return err
	}
	m.logger.Info("tweet untracked", "campaign_id", campaignID, "post_id", postID)
	return nil
}

// Sweep re-enqueues every tracked tuple whose job is missing or completed.
// Jobs that are pending, processing, retrying or failed are left alone.
// Returns the number of jobs enqueued.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	tweets, err := m.store.ListAllCampaignTweets(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tracked tweets: %w", err)
	}

	enqueued := 0
	for _, t := range tweets {
		for _, jt := range core.AllJobTypes {
			if err := ctx.Err(); err != nil {
				return enqueued, err
			}
			key := core.Key{CampaignID: t.CampaignID, PostID: t.PostID, JobType: jt}
			job, err := m.store.FindJob(ctx, key)
			switch {
			case errors.Is(err, core.ErrJobNotFound):
			case err != nil:
				return enqueued, fmt.Errorf("find job %s: %w", key, err)
			case job.Status != core.StatusCompleted:
				continue
			}
			if _, err := m.queue.Enqueue(ctx, t.CampaignID, t.PostID, jt); err != nil {
				return enqueued, err
			}
			enqueued++
		}
	}

	if enqueued > 0 {
		m.logger.Info("sweep enqueued jobs", "count", enqueued, "tweets", len(tweets))
	}
	return enqueued, nil
}
