package core

import "time"

// ActionType is the kind of engagement a user performed on a post.
type ActionType string

const (
	ActionRetweet ActionType = "retweet"
	ActionReply   ActionType = "reply"
	ActionQuote   ActionType = "quote"
	ActionLike    ActionType = "like"
)

// Profile is the public snapshot of an engaging account as returned upstream.
type Profile struct {
	UserID         string
	Username       string
	Name           string
	Bio            string
	Location       string
	FollowersCount int64
	Verified       bool
}

// Engagement is one user's action on one post. Unique per
// (PostID, UserID, ActionType); writes are upserts.
type Engagement struct {
	ID                uint       `gorm:"primaryKey"`
	PostID            string     `gorm:"uniqueIndex:idx_engagements_identity;size:64;not null"`
	UserID            string     `gorm:"uniqueIndex:idx_engagements_identity;size:64;not null"`
	ActionType        ActionType `gorm:"uniqueIndex:idx_engagements_identity;size:20;not null"`
	Username          string     `gorm:"size:255"`
	Name              string     `gorm:"size:255"`
	Bio               string     `gorm:"type:text"`
	Location          string     `gorm:"size:255"`
	FollowersCount    int64
	Verified          bool
	ImportanceScore   float64
	AccountCategories []string `gorm:"serializer:json;type:text"`
	EngagementTweetID string   `gorm:"size:64"`
	QuoteViewCount    int64    `gorm:"default:0"`
	EngagedAt         *time.Time
	LastSeenAt        time.Time
	CreatedAt         time.Time `gorm:"index;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

// ImportanceScore is an entry of the precomputed inverse-follow index.
type ImportanceScore struct {
	UserID    string    `gorm:"primaryKey;size:64"`
	Score     float64   `gorm:"not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}
