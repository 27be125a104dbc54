package campaign

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/queue"
	"github.com/jdziat/engagement-jobs/pkg/storage"
	"github.com/jdziat/engagement-jobs/pkg/storage/storagetest"
)

func setup(t *testing.T) (*Manager, *queue.Queue, *storage.GormStorage) {
	t.Helper()
	store := storagetest.New(t)
	q := queue.New(store)
	m := NewManager(store, q, nil)
	require.NoError(t, m.AddCampaign(context.Background(), &core.Campaign{ID: "launch", Name: "Launch"}))
	return m, q, store
}

func TestAddCampaign_Validates(t *testing.T) {
	m, _, _ := setup(t)
	err := m.AddCampaign(context.Background(), &core.Campaign{ID: ""})
	assert.ErrorIs(t, err, core.ErrInvalidID)
}

func TestAddTweet_EnqueuesEveryType(t *testing.T) {
	ctx := context.Background()
	m, q, _ := setup(t)

	jobs, err := m.AddTweet(ctx, &core.CampaignTweet{CampaignID: "launch", PostID: "1001", AuthorID: "owner"})
	require.NoError(t, err)
	require.Len(t, jobs, len(core.AllJobTypes))
	for i, jt := range core.AllJobTypes {
		assert.Equal(t, jt, jobs[i].JobType)
		assert.Equal(t, core.DefaultPriority(jt), jobs[i].Priority)
	}

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats[core.StatusPending])
}

func TestAddTweet_UnknownCampaign(t *testing.T) {
	m, _, _ := setup(t)
	_, err := m.AddTweet(context.Background(), &core.CampaignTweet{CampaignID: "nope", PostID: "1001"})
	assert.ErrorIs(t, err, core.ErrCampaignUnknown)
}

func TestRemoveTweet_Cascades(t *testing.T) {
	ctx := context.Background()
	m, q, store := setup(t)

	_, err := m.AddTweet(ctx, &core.CampaignTweet{CampaignID: "launch", PostID: "1001"})
	require.NoError(t, err)
	require.NoError(t, store.UpsertEngagement(ctx, &core.Engagement{PostID: "1001", UserID: "u1", ActionType: core.ActionReply}))

	require.NoError(t, m.RemoveTweet(ctx, "launch", "1001"))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats[core.StatusPending])
	n, err := store.CountEngagements(ctx, "1001", core.ActionReply)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, m.RemoveTweet(ctx, "launch", "1001"), core.ErrTweetNotTracked)
}

func TestSweep_OnlyMissingOrCompleted(t *testing.T) {
	ctx := context.Background()
	m, q, store := setup(t)

	_, err := m.AddTweet(ctx, &core.CampaignTweet{CampaignID: "launch", PostID: "1001"})
	require.NoError(t, err)

	// Everything is pending: nothing to do.
	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Complete the metrics job, leave retweets processing.
	metricsJob, err := q.Claim(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, core.JobMetrics, metricsJob.JobType)
	require.NoError(t, q.Complete(ctx, metricsJob, queue.Completion{}))
	retweets, err := q.Claim(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, core.JobRetweets, retweets.JobType)

	// A missing job for a second tweet tracked behind the manager's back.
	require.NoError(t, store.UpsertCampaignTweet(ctx, &core.CampaignTweet{CampaignID: "launch", PostID: "1002"}))

	n, err = m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1+len(core.AllJobTypes), n)

	job, err := store.FindJob(ctx, metricsJob.Key())
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, job.Status)

	job, err = store.FindJob(ctx, retweets.Key())
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessing, job.Status)
}

func TestSweep_Cancelled(t *testing.T) {
	m, _, store := setup(t)
	require.NoError(t, store.UpsertCampaignTweet(context.Background(), &core.CampaignTweet{CampaignID: "launch", PostID: "1001"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := m.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}
