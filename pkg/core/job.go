// Package core provides the domain models and interfaces for the engagement pipeline.
package core

import (
	"fmt"
	"time"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusRetrying   JobStatus = "retrying" // Waiting for RetryAfter before becoming pending again
)

// JobType names the upstream resource a job ingests.
type JobType string

const (
	JobRetweets JobType = "retweets"
	JobReplies  JobType = "replies"
	JobQuotes   JobType = "quotes"
	JobMetrics  JobType = "metrics"
	JobLikes    JobType = "likes"
)

// AllJobTypes lists every job type in enqueue order.
var AllJobTypes = []JobType{JobMetrics, JobRetweets, JobReplies, JobQuotes, JobLikes}

// ParseJobType validates a job type name.
func ParseJobType(s string) (JobType, error) {
	for _, t := range AllJobTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownJobType, s)
}

// DefaultPriority returns the claim priority for a job type. Lower runs first.
func DefaultPriority(t JobType) int {
	switch t {
	case JobMetrics:
		return 1
	case JobRetweets:
		return 2
	default:
		return 3
	}
}

// Action returns the engagement action a job type produces. Metrics jobs
// produce none and return the empty string.
func (t JobType) Action() ActionType {
	switch t {
	case JobRetweets:
		return ActionRetweet
	case JobReplies:
		return ActionReply
	case JobQuotes:
		return ActionQuote
	case JobLikes:
		return ActionLike
	}
	return ""
}

// Job is one unit of ingestion work for a (campaign, post, job type) tuple.
// At most one Job exists per tuple.
type Job struct {
	ID          string    `gorm:"primaryKey;size:36"`
	CampaignID  string    `gorm:"uniqueIndex:idx_jobs_tuple;size:64;not null"`
	PostID      string    `gorm:"uniqueIndex:idx_jobs_tuple;size:64;not null"`
	JobType     JobType   `gorm:"uniqueIndex:idx_jobs_tuple;size:20;not null"`
	Status      JobStatus `gorm:"index:idx_jobs_claim,priority:1;size:20;default:'pending'"`
	Priority    int       `gorm:"index:idx_jobs_claim,priority:2;default:0"`
	ClaimedBy   string    `gorm:"size:255"`
	ClaimedAt   *time.Time
	RetryCount  int        `gorm:"default:0"`
	MaxRetries  int        `gorm:"default:3"`
	RetryAfter  *time.Time `gorm:"index"`
	LastError   string     `gorm:"type:text"`
	CompletedAt *time.Time
	CreatedAt   time.Time `gorm:"index:idx_jobs_claim,priority:3;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// Key returns the job's tuple.
func (j *Job) Key() Key {
	return Key{CampaignID: j.CampaignID, PostID: j.PostID, JobType: j.JobType}
}

// Key identifies a job tuple. Worker state shares the same key.
type Key struct {
	CampaignID string
	PostID     string
	JobType    JobType
}

func (k Key) String() string {
	return k.CampaignID + "/" + k.PostID + "/" + string(k.JobType)
}
