package core

import "time"

// Campaign groups tracked posts.
type Campaign struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Name         string    `gorm:"size:255"`
	LikesEnabled bool      `gorm:"default:false"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// PostMetrics are the raw public counters of a post.
type PostMetrics struct {
	Likes    int64
	Retweets int64
	Replies  int64
	Quotes   int64
	Views    int64
}

// Add returns the element-wise sum.
func (m PostMetrics) Add(o PostMetrics) PostMetrics {
	return PostMetrics{
		Likes:    m.Likes + o.Likes,
		Retweets: m.Retweets + o.Retweets,
		Replies:  m.Replies + o.Replies,
		Quotes:   m.Quotes + o.Quotes,
		Views:    m.Views + o.Views,
	}
}

// Sub returns m minus o.
func (m PostMetrics) Sub(o PostMetrics) PostMetrics {
	return PostMetrics{
		Likes:    m.Likes - o.Likes,
		Retweets: m.Retweets - o.Retweets,
		Replies:  m.Replies - o.Replies,
		Quotes:   m.Quotes - o.Quotes,
		Views:    m.Views - o.Views,
	}
}

// CampaignTweet is a post tracked by a campaign together with its latest
// metrics baseline.
type CampaignTweet struct {
	ID               uint   `gorm:"primaryKey"`
	CampaignID       string `gorm:"uniqueIndex:idx_campaign_tweets_pair;size:64;not null"`
	PostID           string `gorm:"uniqueIndex:idx_campaign_tweets_pair;index;size:64;not null"`
	AuthorID         string `gorm:"size:64"` // Owning account, used for delegated-token lookups
	Category         string `gorm:"size:64"`
	Likes            int64
	Retweets         int64
	Replies          int64
	Quotes           int64
	Views            int64
	QuoteViewTotal   int64 `gorm:"default:0"`
	MetricsUpdatedAt *time.Time
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

// Metrics returns the stored baseline.
func (t *CampaignTweet) Metrics() PostMetrics {
	return PostMetrics{Likes: t.Likes, Retweets: t.Retweets, Replies: t.Replies, Quotes: t.Quotes, Views: t.Views}
}

// MetricSnapshot is an immutable hourly roll-up of a campaign's metrics.
type MetricSnapshot struct {
	ID         uint      `gorm:"primaryKey"`
	CampaignID string    `gorm:"uniqueIndex:idx_metric_snapshots_hour;size:64;not null"`
	Hour       time.Time `gorm:"uniqueIndex:idx_metric_snapshots_hour;not null"`
	Likes      int64
	Retweets   int64
	Replies    int64
	Quotes     int64
	Views      int64
	PostCount  int
	ByCategory map[string]PostMetrics `gorm:"serializer:json;type:text"`
	CreatedAt  time.Time              `gorm:"index;autoCreateTime"`
}

// Totals returns the snapshot's summed counters.
func (s *MetricSnapshot) Totals() PostMetrics {
	return PostMetrics{Likes: s.Likes, Retweets: s.Retweets, Replies: s.Replies, Quotes: s.Quotes, Views: s.Views}
}

// Alert records a detected engagement anomaly.
type Alert struct {
	ID         uint   `gorm:"primaryKey"`
	CampaignID string `gorm:"index:idx_alerts_lookup,priority:1;size:64;not null"`
	PostID     string `gorm:"index:idx_alerts_lookup,priority:2;size:64;not null"`
	Kind       string `gorm:"index:idx_alerts_lookup,priority:3;size:32;not null"`
	Count      int64
	Message    string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index:idx_alerts_lookup,priority:4;autoCreateTime"`
}
