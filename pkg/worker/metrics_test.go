package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/upstream"
)

func TestMetrics_OverwritesBaseline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpdateTweetMetrics(ctx, "c1", "p1", core.PostMetrics{Likes: 5, Views: 100}, f.clock.Now()))

	f.fetcher.metrics = &core.PostMetrics{Likes: 9, Retweets: 2, Replies: 1, Quotes: 1, Views: 400}
	_, err := f.base(NewMetrics(f.store, f.fetcher, f.opts()...)).Run(ctx, testJob(core.JobMetrics))
	require.NoError(t, err)

	tw, err := f.store.GetCampaignTweet(ctx, "c1", "p1")
	require.NoError(t, err)
	assert.Equal(t, *f.fetcher.metrics, tw.Metrics())
	require.NotNil(t, tw.MetricsUpdatedAt)
}

func TestMetrics_RateLimitBlocksAndKeepsPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpdateTweetMetrics(ctx, "c1", "p1", core.PostMetrics{Likes: 5, Retweets: 3, Views: 100}, f.clock.Now()))

	f.fetcher.metrics = &core.PostMetrics{Likes: 8}
	f.fetcher.metricsErr = &upstream.RateLimitedError{Endpoint: "tweets", RetryAfter: 120 * time.Second}

	_, err := f.base(NewMetrics(f.store, f.fetcher, f.opts()...)).Run(ctx, testJob(core.JobMetrics))
	require.Error(t, err)
	_, limited := upstream.AsRateLimited(err)
	assert.True(t, limited)

	tw, err := f.store.GetCampaignTweet(ctx, "c1", "p1")
	require.NoError(t, err)
	assert.Equal(t, core.PostMetrics{Likes: 8, Retweets: 3, Views: 100}, tw.Metrics())

	st := f.state(t, core.JobMetrics)
	require.NotNil(t, st.BlockedUntil)
	assert.True(t, st.BlockedUntil.Equal(f.clock.Now().Add(120*time.Second)))
}

func TestMetrics_QuotaKeepsPartialTransientDoesNot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := NewMetrics(f.store, f.fetcher, f.opts()...)

	f.fetcher.metrics = &core.PostMetrics{Views: 700}
	f.fetcher.metricsErr = upstream.ErrQuotaExhausted
	require.ErrorIs(t, w.ProcessJob(ctx, testJob(core.JobMetrics), nil), upstream.ErrQuotaExhausted)
	tw, err := f.store.GetCampaignTweet(ctx, "c1", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(700), tw.Views)

	f.fetcher.metrics = &core.PostMetrics{Views: 900}
	f.fetcher.metricsErr = &upstream.TransientError{StatusCode: 502, Err: fmt.Errorf("bad gateway")}
	require.Error(t, w.ProcessJob(ctx, testJob(core.JobMetrics), nil))
	tw, err = f.store.GetCampaignTweet(ctx, "c1", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(700), tw.Views)
}

func TestMetrics_UntrackedPostIsTerminal(t *testing.T) {
	f := newFixture(t)
	job := &core.Job{ID: "j", CampaignID: "c1", PostID: "ghost", JobType: core.JobMetrics}

	err := NewMetrics(f.store, f.fetcher).ProcessJob(context.Background(), job, nil)
	assert.True(t, core.IsNoRetry(err))
	assert.ErrorIs(t, err, core.ErrTweetNotTracked)
}

func TestMergePartial(t *testing.T) {
	base := core.PostMetrics{Likes: 1, Retweets: 2, Replies: 3, Quotes: 4, Views: 5}
	got := mergePartial(base, core.PostMetrics{Retweets: 20, Views: 50})
	assert.Equal(t, core.PostMetrics{Likes: 1, Retweets: 20, Replies: 3, Quotes: 4, Views: 50}, got)
}
