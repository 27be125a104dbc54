package alerts

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/storage"
	"github.com/jdziat/engagement-jobs/pkg/storage/storagetest"
)

func seed(t *testing.T, store *storage.GormStorage, post string, n int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertCampaignTweet(ctx, &core.CampaignTweet{CampaignID: "c1", PostID: post}))
	for i := 0; i < n; i++ {
		require.NoError(t, store.UpsertEngagement(ctx, &core.Engagement{
			PostID:     post,
			UserID:     fmt.Sprintf("u%d", i),
			ActionType: core.ActionRetweet,
		}))
	}
}

func TestNewDetector_Defaults(t *testing.T) {
	d := NewDetector(nil, Config{})
	assert.Equal(t, DefaultConfig(), d.config)

	d = NewDetector(nil, Config{Threshold: 5})
	assert.Equal(t, int64(5), d.config.Threshold)
	assert.Equal(t, time.Hour, d.config.Window)
}

func TestDetect_RaisesAtThreshold(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New(t)
	seed(t, store, "hot", 3)
	seed(t, store, "cold", 2)

	d := NewDetector(store, Config{Threshold: 3})
	raised, err := d.Detect(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Equal(t, "hot", raised[0].PostID)
	assert.Equal(t, KindSpike, raised[0].Kind)
	assert.Equal(t, int64(3), raised[0].Count)

	last, err := store.LastAlert(ctx, "c1", "hot", KindSpike)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Contains(t, last.Message, "3 new engagements")
}

func TestDetect_Cooldown(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New(t)
	seed(t, store, "hot", 4)

	d := NewDetector(store, Config{Threshold: 2, Cooldown: time.Hour})
	raised, err := d.Detect(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, raised, 1)

	raised, err = d.Detect(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, raised, "cooldown suppresses repeats")

	d = NewDetector(store, Config{Threshold: 2, Cooldown: time.Nanosecond})
	d.SetClock(func() time.Time { return time.Now().UTC().Add(time.Millisecond) })
	raised, err = d.Detect(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, raised, 1)
}

func TestDetect_WindowExcludesOldEngagements(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New(t)
	seed(t, store, "hot", 5)

	d := NewDetector(store, Config{Threshold: 1, Window: time.Minute})
	d.SetClock(func() time.Time { return time.Now().UTC().Add(2 * time.Hour) })
	raised, err := d.Detect(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, raised)
}

func TestDetect_UnknownCampaign(t *testing.T) {
	d := NewDetector(storagetest.New(t), Config{})
	raised, err := d.Detect(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, raised)
}
