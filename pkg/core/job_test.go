package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_Values(t *testing.T) {
	assert.Equal(t, JobStatus("pending"), StatusPending)
	assert.Equal(t, JobStatus("processing"), StatusProcessing)
	assert.Equal(t, JobStatus("completed"), StatusCompleted)
	assert.Equal(t, JobStatus("failed"), StatusFailed)
	assert.Equal(t, JobStatus("retrying"), StatusRetrying)
}

func TestDefaultPriority(t *testing.T) {
	assert.Equal(t, 1, DefaultPriority(JobMetrics))
	assert.Equal(t, 2, DefaultPriority(JobRetweets))
	assert.Equal(t, 3, DefaultPriority(JobReplies))
	assert.Equal(t, 3, DefaultPriority(JobQuotes))
	assert.Equal(t, 3, DefaultPriority(JobLikes))
}

func TestParseJobType(t *testing.T) {
	for _, jt := range AllJobTypes {
		got, err := ParseJobType(string(jt))
		require.NoError(t, err)
		assert.Equal(t, jt, got)
	}

	_, err := ParseJobType("bookmarks")
	assert.True(t, errors.Is(err, ErrUnknownJobType))
}

func TestJobType_Action(t *testing.T) {
	assert.Equal(t, ActionRetweet, JobRetweets.Action())
	assert.Equal(t, ActionReply, JobReplies.Action())
	assert.Equal(t, ActionQuote, JobQuotes.Action())
	assert.Equal(t, ActionLike, JobLikes.Action())
	assert.Equal(t, ActionType(""), JobMetrics.Action())
}

func TestJobKey(t *testing.T) {
	job := &Job{CampaignID: "c1", PostID: "p1", JobType: JobQuotes}
	assert.Equal(t, Key{CampaignID: "c1", PostID: "p1", JobType: JobQuotes}, job.Key())
	assert.Equal(t, "c1/p1/quotes", job.Key().String())
}

func TestWorkerState_Blocked(t *testing.T) {
	now := time.Now()
	s := &WorkerState{}
	assert.False(t, s.Blocked(now))

	s.BlockedUntil = Ptr(now.Add(time.Minute))
	assert.True(t, s.Blocked(now))

	s.BlockedUntil = Ptr(now.Add(-time.Minute))
	assert.False(t, s.Blocked(now))
}

func TestStatePatch_Empty(t *testing.T) {
	assert.True(t, StatePatch{}.Empty())
	assert.False(t, StatePatch{ClearBlocked: true}.Empty())
	assert.False(t, StatePatch{Cursor: Ptr("")}.Empty())
}

func TestPostMetrics_Arithmetic(t *testing.T) {
	a := PostMetrics{Likes: 10, Retweets: 5, Replies: 2, Quotes: 1, Views: 100}
	b := PostMetrics{Likes: 4, Retweets: 1, Replies: 2, Quotes: 0, Views: 40}

	assert.Equal(t, PostMetrics{Likes: 14, Retweets: 6, Replies: 4, Quotes: 1, Views: 140}, a.Add(b))
	assert.Equal(t, PostMetrics{Likes: 6, Retweets: 4, Replies: 0, Quotes: 1, Views: 60}, a.Sub(b))
}

func TestDelegatedToken_Valid(t *testing.T) {
	now := time.Now()
	var nilToken *DelegatedToken
	assert.False(t, nilToken.Valid(now))
	assert.False(t, (&DelegatedToken{ExpiresAt: now.Add(time.Hour)}).Valid(now))
	assert.False(t, (&DelegatedToken{AccessToken: "t", ExpiresAt: now.Add(-time.Second)}).Valid(now))
	assert.True(t, (&DelegatedToken{AccessToken: "t", ExpiresAt: now.Add(time.Hour)}).Valid(now))
}

func TestNoRetryError(t *testing.T) {
	originalErr := errors.New("post deleted")
	wrapped := NoRetry(originalErr)

	var noRetryErr *NoRetryError
	assert.True(t, errors.As(wrapped, &noRetryErr))
	assert.Equal(t, originalErr, noRetryErr.Unwrap())
	assert.Contains(t, noRetryErr.Error(), "no retry")
	assert.True(t, IsNoRetry(wrapped))
	assert.False(t, IsNoRetry(originalErr))
}
