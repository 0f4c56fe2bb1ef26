package service

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/require"
)

const (
	testRPID   = "localhost"
	testOrigin = "http://localhost:3000"

	flagUserPresent  = 0x01
	flagUserVerified = 0x04
	flagAttested     = 0x40
)

var b64 = base64.RawURLEncoding

// softKey is an in-memory platform authenticator holding one ES256
// credential. It answers ceremonies with attestation format "none".
type softKey struct {
	t      *testing.T
	id     []byte
	key    *ecdsa.PrivateKey
	handle []byte
	count  uint32
}

func newSoftKey(t *testing.T) *softKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	id := make([]byte, 32)
	_, err = rand.Read(id)
	require.NoError(t, err)
	return &softKey{t: t, id: id, key: key}
}

// coseKey is the credential public key as an EC2 COSE_Key.
func (k *softKey) coseKey() []byte {
	k.t.Helper()
	em, err := cbor.CoreDetEncOptions().EncMode()
	require.NoError(k.t, err)
	out, err := em.Marshal(map[int]any{
		1:  2,  // kty: EC2
		3:  -7, // alg: ES256
		-1: 1,  // crv: P-256
		-2: k.key.X.FillBytes(make([]byte, 32)),
		-3: k.key.Y.FillBytes(make([]byte, 32)),
	})
	require.NoError(k.t, err)
	return out
}

func (k *softKey) authData(flags byte, attested bool) []byte {
	rpHash := sha256.Sum256([]byte(testRPID))
	data := append([]byte{}, rpHash[:]...)
	data = append(data, flags)
	data = binary.BigEndian.AppendUint32(data, k.count)
	if attested {
		data = append(data, make([]byte, 16)...) // zero AAGUID
		data = binary.BigEndian.AppendUint16(data, uint16(len(k.id)))
		data = append(data, k.id...)
		data = append(data, k.coseKey()...)
	}
	return data
}

func clientData(t *testing.T, ceremony protocol.CeremonyType, challenge protocol.URLEncodedBase64) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"type":        ceremony,
		"challenge":   challenge.String(),
		"origin":      testOrigin,
		"crossOrigin": false,
	})
	require.NoError(t, err)
	return raw
}

// attest answers creation options with a registration response body.
func (k *softKey) attest(opts *protocol.CredentialCreation) []byte {
	k.t.Helper()
	handle, ok := opts.Response.User.ID.(protocol.URLEncodedBase64)
	require.True(k.t, ok)
	k.handle = handle

	att, err := cbor.Marshal(struct {
		Fmt      string         `cbor:"fmt"`
		AttStmt  map[string]any `cbor:"attStmt"`
		AuthData []byte         `cbor:"authData"`
	}{"none", map[string]any{}, k.authData(flagUserPresent|flagUserVerified|flagAttested, true)})
	require.NoError(k.t, err)

	body, err := json.Marshal(map[string]any{
		"id":    b64.EncodeToString(k.id),
		"rawId": b64.EncodeToString(k.id),
		"type":  "public-key",
		"response": map[string]any{
			"clientDataJSON":    b64.EncodeToString(clientData(k.t, protocol.CreateCeremony, opts.Response.Challenge)),
			"attestationObject": b64.EncodeToString(att),
			"transports":        []string{"internal"},
		},
	})
	require.NoError(k.t, err)
	return body
}

// assert answers request options with a signed assertion after moving the
// sign counter to count.
func (k *softKey) assert(opts *protocol.CredentialAssertion, count uint32) []byte {
	k.t.Helper()
	k.count = count

	auth := k.authData(flagUserPresent|flagUserVerified, false)
	cdj := clientData(k.t, protocol.AssertCeremony, opts.Response.Challenge)
	cdHash := sha256.Sum256(cdj)
	digest := sha256.Sum256(append(append([]byte{}, auth...), cdHash[:]...))
	sig, err := ecdsa.SignASN1(rand.Reader, k.key, digest[:])
	require.NoError(k.t, err)

	body, err := json.Marshal(map[string]any{
		"id":    b64.EncodeToString(k.id),
		"rawId": b64.EncodeToString(k.id),
		"type":  "public-key",
		"response": map[string]any{
			"clientDataJSON":    b64.EncodeToString(cdj),
			"authenticatorData": b64.EncodeToString(auth),
			"signature":         b64.EncodeToString(sig),
			"userHandle":        b64.EncodeToString(k.handle),
		},
	})
	require.NoError(k.t, err)
	return body
}
