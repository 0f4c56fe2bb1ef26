package domain

import "time"

// TokenPair is an access token and the refresh token minted with it. One is
// never issued without the other.
type TokenPair struct {
	AccessToken      string    `json:"-"`
	RefreshToken     string    `json:"-"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// RefreshSession tracks the latest refresh token id of a session. A refresh
// token whose jti is not the recorded one has been rotated away or revoked.
type RefreshSession struct {
	SID        string
	IdentityID string
	JTI        string
	AMR        []string
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Principal is the authenticated caller of a request.
type Principal struct {
	IdentityID string   `json:"id"`
	Email      string   `json:"email,omitempty"`
	Role       Role     `json:"role"`
	SID        string   `json:"sid"`
	AMR        []string `json:"amr,omitempty"`
}
