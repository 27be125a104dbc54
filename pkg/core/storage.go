package core

import (
	"context"
	"time"
)

// Starter is the interface for long-running components.
type Starter interface {
	Start(ctx context.Context) error
}

// JobStore persists jobs and implements atomic claiming.
type JobStore interface {
	// UpsertJob creates or resets the job for job's tuple and returns the
	// stored row.
	UpsertJob(ctx context.Context, job *Job) (*Job, error)
	PromoteDueRetries(ctx context.Context, now time.Time) (int64, error)
	ClaimNext(ctx context.Context, workerID string, now time.Time) (*Job, error)
	CompleteJob(ctx context.Context, jobID, workerID string, now time.Time) error
	// FailJob releases the claim. A non-nil retryAfter schedules a retry and
	// increments the retry count; nil marks the job failed.
	FailJob(ctx context.Context, jobID, workerID, errMsg string, retryAfter *time.Time) error
	// ReleaseJob returns a claimed job to pending without counting an attempt.
	ReleaseJob(ctx context.Context, jobID, workerID string) error
	// ReleaseStale returns jobs claimed before cutoff to pending.
	ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error)

	GetJob(ctx context.Context, jobID string) (*Job, error)
	FindJob(ctx context.Context, key Key) (*Job, error)
	JobsForCampaign(ctx context.Context, campaignID string, jobType JobType) ([]*Job, error)
	CountJobsByStatus(ctx context.Context) (map[JobStatus]int64, error)
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StateStore persists worker state. It holds no business logic.
type StateStore interface {
	GetState(ctx context.Context, key Key) (*WorkerState, error)
	GetOrCreateState(ctx context.Context, key Key) (*WorkerState, error)
	UpdateState(ctx context.Context, key Key, patch StatePatch) error
}

// EngagementStore persists engagements.
type EngagementStore interface {
	UpsertEngagement(ctx context.Context, e *Engagement) error
	// KnownEngagements returns stored engagements for a post and action,
	// keyed by user ID.
	KnownEngagements(ctx context.Context, postID string, action ActionType) (map[string]*Engagement, error)
	CountEngagements(ctx context.Context, postID string, action ActionType) (int64, error)
	CountEngagementsSince(ctx context.Context, postID string, since time.Time) (int64, error)
	SetQuoteViewCount(ctx context.Context, postID, userID string, views int64) error
	SumQuoteViews(ctx context.Context, postID string) (int64, error)
}

// ImportanceIndex looks up the precomputed importance of an account.
type ImportanceIndex interface {
	LookupImportance(ctx context.Context, userID string) (float64, bool, error)
}

// CampaignStore persists campaigns and their tracked posts.
type CampaignStore interface {
	GetCampaign(ctx context.Context, campaignID string) (*Campaign, error)
	UpsertCampaign(ctx context.Context, c *Campaign) error
	UpsertCampaignTweet(ctx context.Context, t *CampaignTweet) error
	GetCampaignTweet(ctx context.Context, campaignID, postID string) (*CampaignTweet, error)
	ListCampaignTweets(ctx context.Context, campaignID string) ([]*CampaignTweet, error)
	ListAllCampaignTweets(ctx context.Context) ([]*CampaignTweet, error)
	UpdateTweetMetrics(ctx context.Context, campaignID, postID string, m PostMetrics, at time.Time) error
	// RaiseQuoteViewTotal overwrites the stored total only when total is
	// strictly greater. It reports whether a write happened.
	RaiseQuoteViewTotal(ctx context.Context, campaignID, postID string, total int64) (bool, error)
	// RemoveCampaignTweet deletes the tracking record with its jobs, worker
	// states, engagements no other campaign tracks, and the campaign's
	// snapshots.
	RemoveCampaignTweet(ctx context.Context, campaignID, postID string) error
}

// SnapshotStore persists metric snapshots.
type SnapshotStore interface {
	LatestSnapshot(ctx context.Context, campaignID string) (*MetricSnapshot, error)
	// CreateSnapshot returns false without error when a snapshot for the
	// same campaign and hour already exists.
	CreateSnapshot(ctx context.Context, s *MetricSnapshot) (bool, error)
	ListSnapshots(ctx context.Context, campaignID string, limit int) ([]*MetricSnapshot, error)
}

// TokenStore persists delegated tokens and authorization state.
type TokenStore interface {
	GetDelegatedToken(ctx context.Context, accountID string) (*DelegatedToken, error)
	SaveDelegatedToken(ctx context.Context, t *DelegatedToken) error
	SaveOAuthState(ctx context.Context, s *OAuthState) error
	// ConsumeOAuthState deletes and returns the state if it has not expired.
	ConsumeOAuthState(ctx context.Context, state string, now time.Time) (*OAuthState, error)
	PurgeExpiredOAuthStates(ctx context.Context, now time.Time) (int64, error)
}

// AlertStore persists alerts.
type AlertStore interface {
	CreateAlert(ctx context.Context, a *Alert) error
	LastAlert(ctx context.Context, campaignID, postID, kind string) (*Alert, error)
}

// Storage is the full persistence contract.
type Storage interface {
	Migrate(ctx context.Context) error
	JobStore
	StateStore
	EngagementStore
	ImportanceIndex
	CampaignStore
	SnapshotStore
	TokenStore
	AlertStore
}
