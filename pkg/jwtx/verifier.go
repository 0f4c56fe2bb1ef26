package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates a JWT and gives you back the claims if it's legit.
type Verifier interface {
	Verify(token string, opts VerifyOptions) (Claims, error)
}

// VerifyOptions captures the expectations checked on every token.
type VerifyOptions struct {
	// Issuer the token must have (claims.iss). Empty means "don't care".
	Issuer string

	// Audience values the token must contain (claims.aud). Empty means "don't care".
	Audience []string

	// Type the token must carry (claims.typ). Empty means "don't care".
	Type string

	// Leeway allows small clock skew when validating exp/nbf.
	Leeway time.Duration

	// RequireKID enforces presence of the "kid" header.
	RequireKID bool
}

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrAlgMismatch = errors.New("jwtx: algorithm mismatch")
	ErrUnknownKID  = errors.New("jwtx: unknown kid")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")

	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrAudience     = errors.New("jwtx: audience mismatch")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrNotYetValid  = errors.New("jwtx: token not yet valid")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")
)

// HS256Verifier validates tokens signed by an HS256Signer. Extra keys may be
// registered so tokens signed with a previous secret stay valid during a
// rotation.
type HS256Verifier struct {
	keys map[string][]byte
	def  []byte
}

// NewVerifierHS256 creates a verifier for the given signer's secret.
func NewVerifierHS256(kid string, secret []byte) *HS256Verifier {
	v := &HS256Verifier{keys: map[string][]byte{}, def: append([]byte(nil), secret...)}
	if kid != "" {
		v.keys[kid] = v.def
	}
	return v
}

// AddKey accepts tokens carrying kid, signed with secret.
func (v *HS256Verifier) AddKey(kid string, secret []byte) {
	v.keys[kid] = append([]byte(nil), secret...)
}

// Verify validates the JWT string and returns its parsed Claims.
func (v *HS256Verifier) Verify(tokenStr string, opts VerifyOptions) (Claims, error) {
	// Claims validation happens below so that every failure maps onto the
	// package errors, including expiry.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			if opts.RequireKID {
				return nil, ErrUnknownKID
			}
			return v.def, nil
		}
		key, ok := v.keys[kid]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownKID, kid)
		}
		return key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownKID):
			return Claims{}, err
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Claims{}, ErrInvalidSig
		case errors.Is(err, jwt.ErrTokenUnverifiable):
			return Claims{}, ErrAlgMismatch
		default:
			return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Claims{}, ErrInvalidClaim
	}

	if err := claims.ValidateRequired(); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateIssuer(opts.Issuer); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateAudience(opts.Audience); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateType(opts.Type); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateExpiryWithLeeway(opts.Leeway); err != nil {
		return Claims{}, err
	}

	return *claims, nil
}
