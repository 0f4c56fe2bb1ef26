package jwtx_test

import (
	"strings"
	"testing"
	"time"

	"github.com/create-newspulse/newspulse-auth/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	exampleIssuer   = "https://auth.newspulse.test"
	exampleAudience = "newspulse-admin"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newPair(t *testing.T) (*jwtx.HS256Signer, *jwtx.HS256Verifier) {
	t.Helper()
	signer, err := jwtx.NewSignerHS256("k1", testSecret)
	require.NoError(t, err)
	return signer, jwtx.NewVerifierHS256("k1", testSecret)
}

func accessClaims(ttl time.Duration, now time.Time) jwtx.Claims {
	return jwtx.NewClaims(jwtx.TypeAccess, "user-1", "admin", "sid-1", []string{"pwd"}, ttl, exampleIssuer, []string{exampleAudience}, now)
}

func opts() jwtx.VerifyOptions {
	return jwtx.VerifyOptions{Issuer: exampleIssuer, Audience: []string{exampleAudience}, Type: jwtx.TypeAccess}
}

func TestHS256SignAndVerify(t *testing.T) {
	signer, verifier := newPair(t)
	require.Equal(t, "HS256", signer.Alg())
	require.Equal(t, "k1", signer.KID())

	token, err := signer.Sign(accessClaims(5*time.Minute, time.Now().UTC()))
	require.NoError(t, err)
	require.Len(t, strings.Split(token, "."), 3)

	claims, err := verifier.Verify(token, opts())
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "admin", claims.Role)
	require.Equal(t, "sid-1", claims.SID)
	require.Equal(t, jwtx.TypeAccess, claims.Typ)
}

func TestNewSignerHS256_WeakKey(t *testing.T) {
	_, err := jwtx.NewSignerHS256("k1", []byte("short"))
	require.ErrorIs(t, err, jwtx.ErrWeakKey)
}

func TestHS256Verify_Failures(t *testing.T) {
	signer, verifier := newPair(t)
	now := time.Now().UTC()

	good, err := signer.Sign(accessClaims(5*time.Minute, now))
	require.NoError(t, err)

	expired, err := signer.Sign(accessClaims(time.Minute, now.Add(-time.Hour)))
	require.NoError(t, err)

	future := accessClaims(5*time.Minute, now)
	future.NotBefore = jwt.NewNumericDate(now.Add(time.Hour))
	notYet, err := signer.Sign(future)
	require.NoError(t, err)

	other, err := jwtx.NewSignerHS256("k1", []byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)
	forged, err := other.Sign(accessClaims(5*time.Minute, now))
	require.NoError(t, err)

	unknownKid, err := jwtx.NewSignerHS256("k9", testSecret)
	require.NoError(t, err)
	wrongKid, err := unknownKid.Sign(accessClaims(5*time.Minute, now))
	require.NoError(t, err)

	noSID := accessClaims(5*time.Minute, now)
	noSID.SID = ""
	missing, err := signer.Sign(noSID)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, accessClaims(5*time.Minute, now))
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		opts  jwtx.VerifyOptions
		want  error
	}{
		{"expired", expired, opts(), jwtx.ErrExpired},
		{"not yet valid", notYet, opts(), jwtx.ErrNotYetValid},
		{"wrong issuer", good, jwtx.VerifyOptions{Issuer: "other"}, jwtx.ErrIssuer},
		{"wrong audience", good, jwtx.VerifyOptions{Audience: []string{"other"}}, jwtx.ErrAudience},
		{"wrong type", good, jwtx.VerifyOptions{Type: jwtx.TypeRefresh}, jwtx.ErrInvalidClaim},
		{"forged signature", forged, opts(), jwtx.ErrInvalidSig},
		{"unknown kid", wrongKid, opts(), jwtx.ErrUnknownKID},
		{"missing sid", missing, opts(), jwtx.ErrInvalidClaim},
		{"alg none", unsigned, opts(), jwtx.ErrInvalidSig},
		{"garbage", "not.a.jwt", opts(), jwtx.ErrMalformed},
		{"empty", "", opts(), jwtx.ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token, tt.opts)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHS256Verify_Leeway(t *testing.T) {
	signer, verifier := newPair(t)

	token, err := signer.Sign(accessClaims(time.Minute, time.Now().UTC().Add(-70*time.Second)))
	require.NoError(t, err)

	_, err = verifier.Verify(token, opts())
	require.ErrorIs(t, err, jwtx.ErrExpired)

	o := opts()
	o.Leeway = 30 * time.Second
	_, err = verifier.Verify(token, o)
	require.NoError(t, err)
}

func TestHS256Verify_PreviousKey(t *testing.T) {
	old, err := jwtx.NewSignerHS256("k0", []byte("oldoldoldoldoldoldoldoldoldoldol"))
	require.NoError(t, err)
	token, err := old.Sign(accessClaims(5*time.Minute, time.Now().UTC()))
	require.NoError(t, err)

	_, verifier := newPair(t)
	_, err = verifier.Verify(token, opts())
	require.ErrorIs(t, err, jwtx.ErrUnknownKID)

	verifier.AddKey("k0", []byte("oldoldoldoldoldoldoldoldoldoldol"))
	_, err = verifier.Verify(token, opts())
	require.NoError(t, err)
}
