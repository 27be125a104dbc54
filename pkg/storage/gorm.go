// Package storage provides the GORM-backed store for the engagement pipeline.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/security"
)

// maxClaimAttempts bounds the compare-and-set loop when several workers race
// for the same head of the queue. Running out returns ErrClaimContention.
const maxClaimAttempts = 5

// GormStorage implements core.Storage using GORM.
type GormStorage struct {
	db  *gorm.DB
	now func() time.Time
}

var _ core.Storage = (*GormStorage)(nil)

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// DB returns the underlying connection.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// IsPostgres reports whether the store runs on PostgreSQL.
func (s *GormStorage) IsPostgres() bool {
	return s.db.Dialector.Name() == "postgres"
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.Job{},
		&core.WorkerState{},
		&core.Engagement{},
		&core.ImportanceScore{},
		&core.Campaign{},
		&core.CampaignTweet{},
		&core.MetricSnapshot{},
		&core.DelegatedToken{},
		&core.OAuthState{},
		&core.Alert{},
	)
}

func tupleColumns() []clause.Column {
	return []clause.Column{{Name: "campaign_id"}, {Name: "post_id"}, {Name: "job_type"}}
}

func whereKey(db *gorm.DB, key core.Key) *gorm.DB {
	return db.Where("campaign_id = ? AND post_id = ? AND job_type = ?", key.CampaignID, key.PostID, key.JobType)
}

// ────────────────────────────────────────────────────────────────────────────
// Jobs
// ────────────────────────────────────────────────────────────────────────────

// UpsertJob inserts the job or resets the existing job for the same tuple to
// pending with its claim and retry bookkeeping cleared.
func (s *GormStorage) UpsertJob(ctx context.Context, job *core.Job) (*core.Job, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = core.StatusPending
	job.ClaimedBy = ""
	job.ClaimedAt = nil
	job.RetryCount = 0
	job.RetryAfter = nil
	job.LastError = ""
	job.CompletedAt = nil

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: tupleColumns(),
		DoUpdates: clause.Assignments(map[string]any{
			"status":       core.StatusPending,
			"priority":     job.Priority,
			"max_retries":  job.MaxRetries,
			"claimed_by":   "",
			"claimed_at":   nil,
			"retry_count":  0,
			"retry_after":  nil,
			"last_error":   "",
			"completed_at": nil,
			"updated_at":   s.now(),
		}),
	}).Create(job).Error
	if err != nil {
		return nil, err
	}
	return s.FindJob(ctx, job.Key())
}

// PromoteDueRetries moves retrying jobs whose retry time has passed back to
// pending.
func (s *GormStorage) PromoteDueRetries(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("status = ? AND retry_after IS NOT NULL AND retry_after <= ?", core.StatusRetrying, now).
		Updates(map[string]any{
			"status":      core.StatusPending,
			"retry_after": nil,
		})
	return result.RowsAffected, result.Error
}

// ClaimNext atomically moves the next pending job to processing. Jobs are
// ordered by priority then age. Returns nil when nothing is pending.
func (s *GormStorage) ClaimNext(ctx context.Context, workerID string, now time.Time) (*core.Job, error) {
	if s.IsPostgres() {
		return s.claimLocked(ctx, workerID, now)
	}

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		var candidate core.Job
		err := s.db.WithContext(ctx).
			Where("status = ?", core.StatusPending).
			Order("priority ASC, created_at ASC").
			First(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		// The status guard makes this a compare-and-set: a concurrent
		// claimer that got there first leaves zero rows affected.
		result := s.db.WithContext(ctx).
			Model(&core.Job{}).
			Where("id = ? AND status = ?", candidate.ID, core.StatusPending).
			Updates(map[string]any{
				"status":     core.StatusProcessing,
				"claimed_by": workerID,
				"claimed_at": now,
			})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 1 {
			candidate.Status = core.StatusProcessing
			candidate.ClaimedBy = workerID
			candidate.ClaimedAt = &now
			return &candidate, nil
		}
	}
	return nil, core.ErrClaimContention
}

func (s *GormStorage) claimLocked(ctx context.Context, workerID string, now time.Time) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", core.StatusPending).
			Order("priority ASC, created_at ASC").
			First(&job)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return nil
			}
			return result.Error
		}

		job.Status = core.StatusProcessing
		job.ClaimedBy = workerID
		job.ClaimedAt = &now
		return tx.Model(&core.Job{}).Where("id = ?", job.ID).Updates(map[string]any{
			"status":     job.Status,
			"claimed_by": workerID,
			"claimed_at": now,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, nil
	}
	return &job, nil
}

// CompleteJob marks a claimed job completed.
// Validates that the worker owns the job before completing.
func (s *GormStorage) CompleteJob(ctx context.Context, jobID, workerID string, now time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND claimed_by = ? AND status = ?", jobID, workerID, core.StatusProcessing).
		Updates(map[string]any{
			"status":       core.StatusCompleted,
			"completed_at": now,
			"claimed_by":   "",
			"claimed_at":   nil,
			"last_error":   "",
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}
	return nil
}

// FailJob records a failed attempt, either scheduling a retry or marking the
// job failed. Validates ownership and sanitizes the stored message.
func (s *GormStorage) FailJob(ctx context.Context, jobID, workerID, errMsg string, retryAfter *time.Time) error {
	updates := map[string]any{
		"last_error":  security.SanitizeErrorMessage(errMsg),
		"claimed_by":  "",
		"claimed_at":  nil,
		"retry_count": gorm.Expr("retry_count + 1"),
	}

	if retryAfter != nil {
		updates["status"] = core.StatusRetrying
		updates["retry_after"] = *retryAfter
	} else {
		updates["status"] = core.StatusFailed
		updates["completed_at"] = s.now()
	}

	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND claimed_by = ? AND status = ?", jobID, workerID, core.StatusProcessing).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}
	return nil
}

// ReleaseJob hands a claimed job back to pending without counting an
// attempt.
func (s *GormStorage) ReleaseJob(ctx context.Context, jobID, workerID string) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND claimed_by = ? AND status = ?", jobID, workerID, core.StatusProcessing).
		Updates(map[string]any{
			"status":     core.StatusPending,
			"claimed_by": "",
			"claimed_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}
	return nil
}

// ReleaseStale returns jobs claimed before cutoff to pending. Their
// claimers are presumed dead.
func (s *GormStorage) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("status = ? AND claimed_at < ?", core.StatusProcessing, cutoff).
		Updates(map[string]any{
			"status":     core.StatusPending,
			"claimed_by": "",
			"claimed_at": nil,
		})
	return result.RowsAffected, result.Error
}

// GetJob retrieves a job by ID.
func (s *GormStorage) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// FindJob retrieves the job for a tuple.
func (s *GormStorage) FindJob(ctx context.Context, key core.Key) (*core.Job, error) {
	var job core.Job
	err := whereKey(s.db.WithContext(ctx), key).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// JobsForCampaign lists a campaign's jobs of one type.
func (s *GormStorage) JobsForCampaign(ctx context.Context, campaignID string, jobType core.JobType) ([]*core.Job, error) {
	var jobs []*core.Job
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND job_type = ?", campaignID, jobType).
		Order("post_id ASC").
		Find(&jobs).Error
	return jobs, err
}

// CountJobsByStatus groups all jobs by status.
func (s *GormStorage) CountJobsByStatus(ctx context.Context) (map[core.JobStatus]int64, error) {
	var rows []struct {
		Status core.JobStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[core.JobStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// DeleteCompletedBefore removes completed jobs finished before cutoff.
func (s *GormStorage) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("status = ? AND completed_at < ?", core.StatusCompleted, cutoff).
		Delete(&core.Job{})
	return result.RowsAffected, result.Error
}

// ────────────────────────────────────────────────────────────────────────────
// Worker state
// ────────────────────────────────────────────────────────────────────────────

// GetState returns the state for a tuple, or nil when none exists.
func (s *GormStorage) GetState(ctx context.Context, key core.Key) (*core.WorkerState, error) {
	var st core.WorkerState
	err := whereKey(s.db.WithContext(ctx), key).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetOrCreateState returns the state for a tuple, creating an empty one if
// needed. Concurrent creators converge on the same row.
func (s *GormStorage) GetOrCreateState(ctx context.Context, key core.Key) (*core.WorkerState, error) {
	st := core.WorkerState{CampaignID: key.CampaignID, PostID: key.PostID, JobType: key.JobType}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: tupleColumns(), DoNothing: true}).
		Create(&st).Error
	if err != nil {
		return nil, err
	}
	got, err := s.GetState(ctx, key)
	if err != nil {
		return nil, err
	}
	if got == nil {
		return nil, fmt.Errorf("worker state %s vanished after create", key)
	}
	return got, nil
}

// UpdateState applies a partial update, creating the state first when the
// tuple has none.
func (s *GormStorage) UpdateState(ctx context.Context, key core.Key, patch core.StatePatch) error {
	if patch.Empty() {
		return nil
	}
	updates := stateUpdates(patch)

	result := whereKey(s.db.WithContext(ctx).Model(&core.WorkerState{}), key).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	if _, err := s.GetOrCreateState(ctx, key); err != nil {
		return err
	}
	return whereKey(s.db.WithContext(ctx).Model(&core.WorkerState{}), key).Updates(updates).Error
}

func stateUpdates(p core.StatePatch) map[string]any {
	updates := make(map[string]any)
	if p.Cursor != nil {
		updates["cursor"] = security.ClampCursor(*p.Cursor)
	}
	if p.LastSuccess != nil {
		updates["last_success"] = *p.LastSuccess
	}
	if p.ClearBlocked {
		updates["blocked_until"] = nil
	} else if p.BlockedUntil != nil {
		updates["blocked_until"] = *p.BlockedUntil
	}
	if p.LastError != nil {
		updates["last_error"] = security.SanitizeErrorMessage(*p.LastError)
	}
	if p.IncrementRetries {
		updates["retry_count"] = gorm.Expr("retry_count + 1")
	} else if p.RetryCount != nil {
		updates["retry_count"] = *p.RetryCount
	}
	if p.BackfillComplete != nil {
		updates["backfill_complete"] = *p.BackfillComplete
	}
	return updates
}

// ────────────────────────────────────────────────────────────────────────────
// Engagements
// ────────────────────────────────────────────────────────────────────────────

// UpsertEngagement inserts or refreshes the engagement for its
// (post, user, action) identity. Quote view counts are left to
// SetQuoteViewCount.
func (s *GormStorage) UpsertEngagement(ctx context.Context, e *core.Engagement) error {
	if e.LastSeenAt.IsZero() {
		e.LastSeenAt = s.now()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "post_id"}, {Name: "user_id"}, {Name: "action_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"username", "name", "bio", "location", "followers_count", "verified",
			"importance_score", "account_categories", "engagement_tweet_id",
			"engaged_at", "last_seen_at", "updated_at",
		}),
	}).Create(e).Error
}

// KnownEngagements returns the stored engagements of a post for one action,
// keyed by user ID.
func (s *GormStorage) KnownEngagements(ctx context.Context, postID string, action core.ActionType) (map[string]*core.Engagement, error) {
	var rows []*core.Engagement
	err := s.db.WithContext(ctx).
		Where("post_id = ? AND action_type = ?", postID, action).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	known := make(map[string]*core.Engagement, len(rows))
	for _, e := range rows {
		known[e.UserID] = e
	}
	return known, nil
}

// CountEngagements counts a post's engagements for one action.
func (s *GormStorage) CountEngagements(ctx context.Context, postID string, action core.ActionType) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&core.Engagement{}).
		Where("post_id = ? AND action_type = ?", postID, action).
		Count(&n).Error
	return n, err
}

// CountEngagementsSince counts engagements of any action first stored at or
// after since.
func (s *GormStorage) CountEngagementsSince(ctx context.Context, postID string, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&core.Engagement{}).
		Where("post_id = ? AND created_at >= ?", postID, since).
		Count(&n).Error
	return n, err
}

// SetQuoteViewCount stores the view baseline of a quote engagement.
func (s *GormStorage) SetQuoteViewCount(ctx context.Context, postID, userID string, views int64) error {
	return s.db.WithContext(ctx).
		Model(&core.Engagement{}).
		Where("post_id = ? AND user_id = ? AND action_type = ?", postID, userID, core.ActionQuote).
		Update("quote_view_count", views).Error
}

// SumQuoteViews sums the view baselines of a post's quotes.
func (s *GormStorage) SumQuoteViews(ctx context.Context, postID string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&core.Engagement{}).
		Select("COALESCE(SUM(quote_view_count), 0)").
		Where("post_id = ? AND action_type = ?", postID, core.ActionQuote).
		Scan(&total).Error
	return total, err
}

// LookupImportance returns the precomputed score for a user.
func (s *GormStorage) LookupImportance(ctx context.Context, userID string) (float64, bool, error) {
	var row core.ImportanceScore
	err := s.db.WithContext(ctx).First(&row, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return row.Score, true, nil
}

// SaveImportanceScores loads entries into the importance index.
func (s *GormStorage) SaveImportanceScores(ctx context.Context, scores []core.ImportanceScore) error {
	if len(scores) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "updated_at"}),
		}).
		CreateInBatches(scores, 500).Error
}

// ────────────────────────────────────────────────────────────────────────────
// Campaigns
// ────────────────────────────────────────────────────────────────────────────

// GetCampaign retrieves a campaign by ID.
func (s *GormStorage) GetCampaign(ctx context.Context, campaignID string) (*core.Campaign, error) {
	var c core.Campaign
	err := s.db.WithContext(ctx).First(&c, "id = ?", campaignID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", core.ErrCampaignUnknown, campaignID)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertCampaign creates or updates a campaign.
func (s *GormStorage) UpsertCampaign(ctx context.Context, c *core.Campaign) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "likes_enabled", "updated_at"}),
	}).Create(c).Error
}

// UpsertCampaignTweet starts tracking a post or updates its descriptive
// fields. The metrics baseline is untouched on update.
func (s *GormStorage) UpsertCampaignTweet(ctx context.Context, t *core.CampaignTweet) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "post_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"author_id", "category", "updated_at"}),
	}).Create(t).Error
}

// GetCampaignTweet retrieves a tracked post.
func (s *GormStorage) GetCampaignTweet(ctx context.Context, campaignID, postID string) (*core.CampaignTweet, error) {
	var t core.CampaignTweet
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND post_id = ?", campaignID, postID).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", core.ErrTweetNotTracked, campaignID, postID)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListCampaignTweets lists a campaign's tracked posts.
func (s *GormStorage) ListCampaignTweets(ctx context.Context, campaignID string) ([]*core.CampaignTweet, error) {
	var tweets []*core.CampaignTweet
	err := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("id ASC").
		Find(&tweets).Error
	return tweets, err
}

// ListAllCampaignTweets lists every tracked post.
func (s *GormStorage) ListAllCampaignTweets(ctx context.Context) ([]*core.CampaignTweet, error) {
	var tweets []*core.CampaignTweet
	err := s.db.WithContext(ctx).Order("campaign_id ASC, id ASC").Find(&tweets).Error
	return tweets, err
}

// UpdateTweetMetrics overwrites a tracked post's metrics baseline.
func (s *GormStorage) UpdateTweetMetrics(ctx context.Context, campaignID, postID string, m core.PostMetrics, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&core.CampaignTweet{}).
		Where("campaign_id = ? AND post_id = ?", campaignID, postID).
		Updates(map[string]any{
			"likes":              m.Likes,
			"retweets":           m.Retweets,
			"replies":            m.Replies,
			"quotes":             m.Quotes,
			"views":              m.Views,
			"metrics_updated_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s", core.ErrTweetNotTracked, campaignID, postID)
	}
	return nil
}

// RaiseQuoteViewTotal writes total only when it exceeds the stored value.
// The comparison happens in the UPDATE so concurrent writers cannot lower it.
func (s *GormStorage) RaiseQuoteViewTotal(ctx context.Context, campaignID, postID string, total int64) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&core.CampaignTweet{}).
		Where("campaign_id = ? AND post_id = ? AND quote_view_total < ?", campaignID, postID, total).
		Update("quote_view_total", total)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RemoveCampaignTweet stops tracking a post and deletes everything derived
// from it for the campaign.
func (s *GormStorage) RemoveCampaignTweet(ctx context.Context, campaignID, postID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pair := "campaign_id = ? AND post_id = ?"
		if err := tx.Where(pair, campaignID, postID).Delete(&core.Job{}).Error; err != nil {
			return fmt.Errorf("delete jobs: %w", err)
		}
		if err := tx.Where(pair, campaignID, postID).Delete(&core.WorkerState{}).Error; err != nil {
			return fmt.Errorf("delete worker states: %w", err)
		}
		result := tx.Where(pair, campaignID, postID).Delete(&core.CampaignTweet{})
		if result.Error != nil {
			return fmt.Errorf("delete campaign tweet: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s/%s", core.ErrTweetNotTracked, campaignID, postID)
		}

		var stillTracked int64
		if err := tx.Model(&core.CampaignTweet{}).Where("post_id = ?", postID).Count(&stillTracked).Error; err != nil {
			return err
		}
		if stillTracked == 0 {
			if err := tx.Where("post_id = ?", postID).Delete(&core.Engagement{}).Error; err != nil {
				return fmt.Errorf("delete engagements: %w", err)
			}
		}

		if err := tx.Where("campaign_id = ?", campaignID).Delete(&core.MetricSnapshot{}).Error; err != nil {
			return fmt.Errorf("delete snapshots: %w", err)
		}
		return nil
	})
}

// ────────────────────────────────────────────────────────────────────────────
// Snapshots
// ────────────────────────────────────────────────────────────────────────────

// LatestSnapshot returns the newest snapshot for a campaign, or nil.
func (s *GormStorage) LatestSnapshot(ctx context.Context, campaignID string) (*core.MetricSnapshot, error) {
	var snap core.MetricSnapshot
	err := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at DESC").
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// CreateSnapshot stores a snapshot unless the campaign already has one for
// the same hour.
func (s *GormStorage) CreateSnapshot(ctx context.Context, snap *core.MetricSnapshot) (bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "hour"}},
			DoNothing: true,
		}).
		Create(snap)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListSnapshots returns a campaign's snapshots, newest first.
func (s *GormStorage) ListSnapshots(ctx context.Context, campaignID string, limit int) ([]*core.MetricSnapshot, error) {
	if limit <= 0 {
		limit = 24
	}
	var snaps []*core.MetricSnapshot
	err := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("hour DESC").
		Limit(limit).
		Find(&snaps).Error
	return snaps, err
}

// ────────────────────────────────────────────────────────────────────────────
// Tokens
// ────────────────────────────────────────────────────────────────────────────

// GetDelegatedToken returns the account's token, or nil.
func (s *GormStorage) GetDelegatedToken(ctx context.Context, accountID string) (*core.DelegatedToken, error) {
	var tok core.DelegatedToken
	err := s.db.WithContext(ctx).First(&tok, "account_id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// SaveDelegatedToken creates or replaces an account's token.
func (s *GormStorage) SaveDelegatedToken(ctx context.Context, t *core.DelegatedToken) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "expires_at", "updated_at"}),
	}).Create(t).Error
}

// SaveOAuthState stores a pending authorization.
func (s *GormStorage) SaveOAuthState(ctx context.Context, st *core.OAuthState) error {
	return s.db.WithContext(ctx).Create(st).Error
}

// ConsumeOAuthState deletes and returns an unexpired state. Only one caller
// can consume a given state.
func (s *GormStorage) ConsumeOAuthState(ctx context.Context, state string, now time.Time) (*core.OAuthState, error) {
	var st core.OAuthState
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("state = ? AND expires_at > ?", state, now).First(&st).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrStateExpired
			}
			return err
		}
		result := tx.Where("state = ?", state).Delete(&core.OAuthState{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return core.ErrStateExpired
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// PurgeExpiredOAuthStates deletes states that expired at or before now.
func (s *GormStorage) PurgeExpiredOAuthStates(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&core.OAuthState{})
	return result.RowsAffected, result.Error
}

// ────────────────────────────────────────────────────────────────────────────
// Alerts
// ────────────────────────────────────────────────────────────────────────────

// CreateAlert stores an alert.
func (s *GormStorage) CreateAlert(ctx context.Context, a *core.Alert) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// LastAlert returns the newest alert of a kind for a post, or nil.
func (s *GormStorage) LastAlert(ctx context.Context, campaignID, postID, kind string) (*core.Alert, error) {
	var a core.Alert
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND post_id = ? AND kind = ?", campaignID, postID, kind).
		Order("created_at DESC").
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
