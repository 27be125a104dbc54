package core

import "time"

// DelegatedToken is an access token an account owner granted for
// owner-only upstream endpoints such as liking users.
type DelegatedToken struct {
	AccountID   string `gorm:"primaryKey;size:64"`
	AccessToken string `gorm:"type:text;not null"`
	ExpiresAt   time.Time
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// Valid reports whether the token can be used at now.
func (t *DelegatedToken) Valid(now time.Time) bool {
	return t != nil && t.AccessToken != "" && t.ExpiresAt.After(now)
}

// OAuthState is a pending authorization handshake. It is consumed exactly
// once and is invalid after ExpiresAt.
type OAuthState struct {
	State        string    `gorm:"primaryKey;size:64"`
	AccountID    string    `gorm:"size:64;not null"`
	CodeVerifier string    `gorm:"size:128"`
	ExpiresAt    time.Time `gorm:"index;not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}
