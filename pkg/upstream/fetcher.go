// Package upstream is the client side of the social platform API the
// pipeline ingests from.
package upstream

import (
	"context"
	"time"

	"github.com/jdziat/engagement-jobs/pkg/core"
)

// Item is one engagement returned by a page fetch.
type Item struct {
	User core.Profile
	// EventID is the reply or quote post ID. Empty for retweets and likes.
	EventID string
	// CreatedAt is zero when the endpoint does not report a timestamp.
	CreatedAt time.Time
	// ViewCount is the view counter of the quoting post.
	ViewCount int64
}

// Page is one page of engagements, newest first.
type Page struct {
	Items      []Item
	NextCursor string
	HasMore    bool
}

// PageRequest selects an engagement page.
type PageRequest struct {
	PostID string
	Type   core.JobType
	Cursor string
	// AccessToken is a delegated user token for owner-only endpoints.
	AccessToken string
}

// Fetcher retrieves engagement pages and raw post metrics.
//
// FetchMetrics may return partial metrics together with a
// *RateLimitedError or ErrQuotaExhausted; callers should keep what arrived.
type Fetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
	FetchMetrics(ctx context.Context, postID string) (*core.PostMetrics, error)
}
