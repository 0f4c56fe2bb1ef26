package domain

import "time"

// PasswordReset is a single-use, time-boxed reset grant. Only the token's
// fingerprint is stored.
type PasswordReset struct {
	ID         string
	IdentityID string
	TokenHash  string
	ExpiresAt  time.Time
	UsedAt     *time.Time
	CreatedAt  time.Time
}

func (p *PasswordReset) Used() bool { return p.UsedAt != nil }

func (p *PasswordReset) Expired(now time.Time) bool { return !now.Before(p.ExpiresAt) }
