package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token TTL constants for the admin session.
const (
	// DefaultAccessTokenTTL is the default lifetime for access tokens.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL is the default lifetime for refresh tokens.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Token types carried in the "typ" claim. An access token is never accepted
// where a refresh token is expected and vice versa.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims are the session claims shared by access and refresh tokens.
type Claims struct {
	jwt.RegisteredClaims

	// Session ID, stable across refresh rotations.
	SID string `json:"sid,omitempty"`

	// Role of the subject at issuance ("founder", "admin", "employee").
	Role string `json:"role,omitempty"`

	// Typ is TypeAccess or TypeRefresh.
	Typ string `json:"typ,omitempty"`

	// Authentication Methods Reference ["pwd","otp","hwk","rec","mfa"]
	AMR []string `json:"amr,omitempty"`
}

// NewClaims builds minimally-correct claims.
func NewClaims(
	typ, subject, role, sid string,
	amr []string,
	ttl time.Duration,
	issuer string,
	audience []string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		SID:  sid,
		Role: role,
		Typ:  typ,
		AMR:  amr,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}

	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}

	return ErrAudience
}

// ValidateType checks the "typ" claim.
func (c *Claims) ValidateType(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Typ != expected {
		return ErrInvalidClaim
	}
	return nil
}

// ValidateRequired ensures the claims every session token must carry.
func (c *Claims) ValidateRequired() error {
	if c.Subject == "" || c.ID == "" || c.SID == "" || c.ExpiresAt == nil {
		return ErrInvalidClaim
	}
	return nil
}

// ValidateExpiry ensures the token hasn’t expired (exp) and isn’t before nbf.
func (c *Claims) ValidateExpiry() error {
	return c.ValidateExpiryWithLeeway(0)
}

// ValidateExpiryWithLeeway adds a small grace period for clock skew.
func (c *Claims) ValidateExpiryWithLeeway(leeway time.Duration) error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}

// HasAMR reports whether method is listed in the amr claim.
func (c *Claims) HasAMR(method string) bool {
	return slices.Contains(c.AMR, method)
}
