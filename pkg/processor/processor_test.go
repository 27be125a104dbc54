package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/storage/storagetest"
	"github.com/jdziat/engagement-jobs/pkg/upstream"
)

type mapIndex map[string]float64

func (m mapIndex) LookupImportance(_ context.Context, userID string) (float64, bool, error) {
	s, ok := m[userID]
	return s, ok, nil
}

type brokenIndex struct{}

func (brokenIndex) LookupImportance(context.Context, string) (float64, bool, error) {
	return 0, false, errors.New("index offline")
}

func TestCategorize(t *testing.T) {
	p := New(nil)

	tests := []struct {
		name    string
		profile core.Profile
		want    []string
	}{
		{"founder", core.Profile{Bio: "Co-founder of Acme"}, []string{"founder"}},
		{"investor and exec", core.Profile{Bio: "General Partner, ex-CTO"}, []string{"investor", "executive"}},
		{"developer", core.Profile{Bio: "Software engineer writing Golang"}, []string{"developer"}},
		{"alumni", core.Profile{Bio: "YC W21 · ex-Google"}, []string{"alumni-network"}},
		{"ai creator", core.Profile{Name: "Pixel", Bio: "AI artist, Midjourney nerd"}, []string{"ai-creator"}},
		{"media", core.Profile{Bio: "Tech reporter at The Daily"}, []string{"media"}},
		{"other", core.Profile{Bio: "Coffee and cats"}, []string{"other"}},
		{"empty", core.Profile{}, []string{"other"}},
		// Word boundaries: "ai" inside "said" and "vc" inside "svc" do not count.
		{"no substring hits", core.Profile{Bio: "she said svc"}, []string{"other"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Categorize(tt.profile))
		})
	}
}

func TestCategorize_CustomRules(t *testing.T) {
	p := New(nil, WithRules([]Rule{{Category: "gopher", Keywords: []string{"gopher"}}}))
	assert.Equal(t, []string{"gopher"}, p.Categorize(core.Profile{Username: "the_gopher"}))
	assert.Equal(t, []string{"other"}, p.Categorize(core.Profile{Bio: "founder"}))
}

func TestImportance(t *testing.T) {
	ctx := context.Background()

	p := New(mapIndex{"u1": 0.75})
	assert.InDelta(t, 0.75, p.Importance(ctx, "u1"), 1e-9)
	assert.Zero(t, p.Importance(ctx, "unknown"))

	assert.Zero(t, New(brokenIndex{}).Importance(ctx, "u1"), "lookup errors are never fatal")
	assert.Zero(t, New(nil).Importance(ctx, "u1"))
}

func TestProcess(t *testing.T) {
	ctx := context.Background()
	p := New(mapIndex{"u1": 0.4})
	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	created := seen.Add(-time.Hour)

	e, err := p.Process(ctx, upstream.Item{
		User:      core.Profile{UserID: "u1", Username: "ada", Bio: "Founder", FollowersCount: 99},
		EventID:   "r1",
		CreatedAt: created,
	}, "p1", core.ActionReply, seen)
	require.NoError(t, err)

	assert.Equal(t, "p1", e.PostID)
	assert.Equal(t, "u1", e.UserID)
	assert.Equal(t, core.ActionReply, e.ActionType)
	assert.Equal(t, "r1", e.EngagementTweetID)
	assert.Equal(t, int64(99), e.FollowersCount)
	assert.InDelta(t, 0.4, e.ImportanceScore, 1e-9)
	assert.Equal(t, []string{"founder"}, e.AccountCategories)
	require.NotNil(t, e.EngagedAt)
	assert.True(t, e.EngagedAt.Equal(created))
	assert.True(t, e.LastSeenAt.Equal(seen))

	retweet, err := p.Process(ctx, upstream.Item{User: core.Profile{UserID: "u2"}}, "p1", core.ActionRetweet, seen)
	require.NoError(t, err)
	assert.Nil(t, retweet.EngagedAt)

	_, err = p.Process(ctx, upstream.Item{}, "p1", core.ActionRetweet, seen)
	assert.ErrorIs(t, err, ErrMissingUser)
}

func TestProcess_IdempotentUpsert(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New(t)
	p := New(store)
	item := upstream.Item{User: core.Profile{UserID: "u1", Bio: "investor"}}

	for i := 0; i < 3; i++ {
		e, err := p.Process(ctx, item, "p1", core.ActionLike, time.Now().UTC())
		require.NoError(t, err)
		require.NoError(t, store.UpsertEngagement(ctx, e))
	}

	n, err := store.CountEngagements(ctx, "p1", core.ActionLike)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
