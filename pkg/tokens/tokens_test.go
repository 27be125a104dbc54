package tokens

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/storage"
	"github.com/jdziat/engagement-jobs/pkg/storage/storagetest"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setup(t *testing.T) (*Service, *clock, *storage.GormStorage) {
	t.Helper()
	store := storagetest.New(t)
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := NewService(store, 0)
	s.SetClock(c.Now)
	return s, c, store
}

func TestBeginAuthorization(t *testing.T) {
	ctx := context.Background()
	s, c, store := setup(t)

	auth, err := s.BeginAuthorization(ctx, "owner")
	require.NoError(t, err)
	assert.NotEmpty(t, auth.State)
	assert.Equal(t, c.Now().Add(DefaultStateTTL), auth.ExpiresAt)

	var st core.OAuthState
	require.NoError(t, store.DB().First(&st, "state = ?", auth.State).Error)
	sum := sha256.Sum256([]byte(st.CodeVerifier))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), auth.Challenge)

	_, err = s.BeginAuthorization(ctx, "")
	assert.ErrorIs(t, err, core.ErrInvalidID)
}

func TestCompleteAuthorization_Once(t *testing.T) {
	ctx := context.Background()
	s, c, _ := setup(t)

	auth, err := s.BeginAuthorization(ctx, "owner")
	require.NoError(t, err)

	st, err := s.CompleteAuthorization(ctx, auth.State, "user-token", c.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "owner", st.AccountID)

	tok, err := s.ValidToken(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, "user-token", tok)

	_, err = s.CompleteAuthorization(ctx, auth.State, "again", c.Now().Add(time.Hour))
	assert.ErrorIs(t, err, core.ErrStateExpired)
}

func TestCompleteAuthorization_EmptyTokenKeepsState(t *testing.T) {
	ctx := context.Background()
	s, c, _ := setup(t)

	auth, err := s.BeginAuthorization(ctx, "owner")
	require.NoError(t, err)

	_, err = s.CompleteAuthorization(ctx, auth.State, "", c.Now().Add(time.Hour))
	require.Error(t, err)

	st, err := s.CompleteAuthorization(ctx, auth.State, "tok-1", c.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "owner", st.AccountID)

	tok, err := s.ValidToken(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
}

func TestCompleteAuthorization_Expired(t *testing.T) {
	ctx := context.Background()
	s, c, _ := setup(t)

	auth, err := s.BeginAuthorization(ctx, "owner")
	require.NoError(t, err)
	c.Advance(DefaultStateTTL + time.Second)

	_, err = s.CompleteAuthorization(ctx, auth.State, "user-token", c.Now().Add(time.Hour))
	assert.ErrorIs(t, err, core.ErrStateExpired)

	_, err = s.ValidToken(ctx, "owner")
	assert.ErrorIs(t, err, ErrNoValidToken)
}

func TestValidToken_Expiry(t *testing.T) {
	ctx := context.Background()
	s, c, store := setup(t)

	require.NoError(t, store.SaveDelegatedToken(ctx, &core.DelegatedToken{
		AccountID:   "owner",
		AccessToken: "user-token",
		ExpiresAt:   c.Now().Add(time.Minute),
	}))
	tok, err := s.ValidToken(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, "user-token", tok)

	c.Advance(2 * time.Minute)
	_, err = s.ValidToken(ctx, "owner")
	assert.ErrorIs(t, err, ErrNoValidToken)

	_, err = s.ValidToken(ctx, "stranger")
	assert.ErrorIs(t, err, ErrNoValidToken)
}

func TestPurgeExpired(t *testing.T) {
	ctx := context.Background()
	s, c, _ := setup(t)

	_, err := s.BeginAuthorization(ctx, "a1")
	require.NoError(t, err)
	c.Advance(5 * time.Minute)
	fresh, err := s.BeginAuthorization(ctx, "a2")
	require.NoError(t, err)

	c.Advance(6 * time.Minute)
	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.CompleteAuthorization(ctx, fresh.State, "tok", c.Now().Add(time.Hour))
	assert.NoError(t, err)
}
