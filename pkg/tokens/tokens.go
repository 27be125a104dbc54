// Package tokens manages delegated access tokens and the short-lived
// authorization states used to obtain them.
package tokens

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/security"
)

// DefaultStateTTL is how long an authorization state stays valid.
const DefaultStateTTL = 10 * time.Minute

// ErrNoValidToken is returned when an account has no usable token.
var ErrNoValidToken = errors.New("engagement: no valid delegated token")

// Store is the persistence the service needs.
type Store interface {
	GetDelegatedToken(ctx context.Context, accountID string) (*core.DelegatedToken, error)
	SaveDelegatedToken(ctx context.Context, t *core.DelegatedToken) error
	SaveOAuthState(ctx context.Context, st *core.OAuthState) error
	ConsumeOAuthState(ctx context.Context, state string, now time.Time) (*core.OAuthState, error)
	PurgeExpiredOAuthStates(ctx context.Context, now time.Time) (int64, error)
}

// Authorization is a started handshake.
type Authorization struct {
	State     string
	AccountID string
	// Challenge is the S256 code challenge for the stored verifier.
	Challenge string
	ExpiresAt time.Time
}

// Service issues and redeems authorization states.
type Service struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a Service. A non-positive ttl uses DefaultStateTTL.
func NewService(store Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &Service{
		store:  store,
		ttl:    ttl,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger replaces the service's logger.
func (s *Service) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// BeginAuthorization stores a new state for accountID that expires after
// the service's TTL.
func (s *Service) BeginAuthorization(ctx context.Context, accountID string) (*Authorization, error) {
	if err := security.ValidateID(accountID); err != nil {
		return nil, fmt.Errorf("account id: %w", err)
	}
	verifier, err := newVerifier()
	if err != nil {
		return nil, err
	}

	st := &core.OAuthState{
		State:        uuid.New().String(),
		AccountID:    accountID,
		CodeVerifier: verifier,
		ExpiresAt:    s.now().Add(s.ttl),
	}
	if err := s.store.SaveOAuthState(ctx, st); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}

	sum := sha256.Sum256([]byte(verifier))
	return &Authorization{
		State:     st.State,
		AccountID: accountID,
		Challenge: base64.RawURLEncoding.EncodeToString(sum[:]),
		ExpiresAt: st.ExpiresAt,
	}, nil
}

// CompleteAuthorization consumes state and stores the granted token for the
// state's account. A state can be completed once; expired or unknown states
// return core.ErrStateExpired.
func (s *Service) CompleteAuthorization(ctx context.Context, state, accessToken string, expiresAt time.Time) (*core.OAuthState, error) {
	if accessToken == "" {
		return nil, errors.New("empty access token")
	}
	st, err := s.store.ConsumeOAuthState(ctx, state, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.store.SaveDelegatedToken(ctx, &core.DelegatedToken{
		AccountID:   st.AccountID,
		AccessToken: accessToken,
		ExpiresAt:   expiresAt.UTC(),
	}); err != nil {
		return st, fmt.Errorf("save token: %w", err)
	}
	s.logger.Info("delegated token stored", "account_id", st.AccountID, "expires_at", expiresAt)
	return st, nil
}

// ValidToken returns the account's access token if it has not expired.
func (s *Service) ValidToken(ctx context.Context, accountID string) (string, error) {
	tok, err := s.store.GetDelegatedToken(ctx, accountID)
	if err != nil {
		return "", err
	}
	if !tok.Valid(s.now()) {
		return "", ErrNoValidToken
	}
	return tok.AccessToken, nil
}

// PurgeExpired deletes expired authorization states.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.store.PurgeExpiredOAuthStates(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired authorization states purged", "count", n)
	}
	return n, nil
}

func newVerifier() (string, error) {
	b := make([]byte, 48)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
