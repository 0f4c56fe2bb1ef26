package jwtx

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// MinHS256KeySize is the smallest accepted HMAC secret (256 bits).
const MinHS256KeySize = 32

var ErrWeakKey = errors.New("jwtx: signing secret shorter than 32 bytes")

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
	Validate() error
}

// HS256Signer signs tokens with a shared HMAC-SHA256 secret.
type HS256Signer struct {
	kid string
	key []byte
}

// NewSignerHS256 creates an HS256 signer. The secret must be at least
// MinHS256KeySize bytes.
func NewSignerHS256(kid string, secret []byte) (*HS256Signer, error) {
	s := &HS256Signer{kid: kid, key: append([]byte(nil), secret...)}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *HS256Signer) Alg() string { return jwt.SigningMethodHS256.Alg() }
func (s *HS256Signer) KID() string { return s.kid }

// Sign takes your claims and turns them into a signed JWT string.
func (s *HS256Signer) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if s.kid != "" {
		t.Header["kid"] = s.kid
	}
	return t.SignedString(s.key)
}

// Validate does a quick sanity check on the key material.
func (s *HS256Signer) Validate() error {
	if len(s.key) < MinHS256KeySize {
		return ErrWeakKey
	}
	return nil
}
