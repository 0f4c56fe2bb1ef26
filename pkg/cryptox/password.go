package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

var (
	ErrMalformedHash = errors.New("cryptox: malformed hash")
	ErrMismatch      = errors.New("password does not match")
)

// Hasher hashes secrets (passwords, recovery codes) with a memory-hard,
// salted and versioned scheme. Verify never distinguishes a wrong secret
// from a malformed digest.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(digest, secret string) bool
}

// Argon2Params are the tunable cost parameters encoded into every digest.
type Argon2Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
	SaltLength  uint32
}

// DefaultArgon2Params follows the OWASP argon2id baseline (19 MiB, t=2, p=1).
var DefaultArgon2Params = Argon2Params{
	Memory:      memory,
	Iterations:  iterations,
	Parallelism: parallelism,
	KeyLength:   keyLength,
	SaltLength:  saltLength,
}

// Argon2Hasher produces PHC strings: $argon2id$v=19$m=X,t=Y,p=Z$salt$hash.
// The pepper is appended to the secret before hashing.
type Argon2Hasher struct {
	Params Argon2Params
	Pepper func() string
}

// NewArgon2Hasher returns a hasher using the default parameters and the
// file-backed pepper.
func NewArgon2Hasher() *Argon2Hasher {
	return &Argon2Hasher{Params: DefaultArgon2Params, Pepper: GetPepper}
}

func (h *Argon2Hasher) pepper() string {
	if h.Pepper == nil {
		return ""
	}
	return h.Pepper()
}

// Hash implements Hasher.
func (h *Argon2Hasher) Hash(secret string) (string, error) {
	p := h.Params
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	sum := argon2.IDKey([]byte(secret+h.pepper()), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory,
		p.Iterations,
		p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Verify implements Hasher.
func (h *Argon2Hasher) Verify(digest, secret string) bool {
	return h.compare(digest, secret) == nil
}

// NeedsRehash reports whether digest was produced with parameters other than
// the hasher's current ones.
func (h *Argon2Hasher) NeedsRehash(digest string) bool {
	d, err := parsePHC(digest)
	if err != nil {
		return true
	}
	p := h.Params
	return d.memory != p.Memory || d.iterations != p.Iterations || d.parallelism != p.Parallelism ||
		uint32(len(d.sum)) != p.KeyLength // #nosec G115
}

func (h *Argon2Hasher) compare(digest, secret string) error {
	d, err := parsePHC(digest)
	if err != nil {
		return err
	}

	computed := argon2.IDKey(
		[]byte(secret+h.pepper()),
		d.salt,
		d.iterations,
		d.memory,
		d.parallelism,
		uint32(len(d.sum)), // #nosec G115 - bounded by decode
	)
	if subtle.ConstantTimeCompare(computed, d.sum) == 1 {
		return nil
	}
	return ErrMismatch
}

type phcDigest struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	salt        []byte
	sum         []byte
}

func parsePHC(encoded string) (phcDigest, error) {
	// ["", "argon2id", "v=19", "m=X,t=Y,p=Z", "salt", "hash"]
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return phcDigest{}, fmt.Errorf("%w: expected 6 parts", ErrMalformedHash)
	}
	if parts[1] != "argon2id" {
		return phcDigest{}, fmt.Errorf("%w: not argon2id", ErrMalformedHash)
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return phcDigest{}, fmt.Errorf("%w: wrong version", ErrMalformedHash)
	}

	var d phcDigest
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &d.memory, &d.iterations, &d.parallelism); err != nil {
		return phcDigest{}, fmt.Errorf("%w: parameters: %v", ErrMalformedHash, err)
	}
	if d.memory == 0 || d.iterations == 0 || d.parallelism == 0 {
		return phcDigest{}, fmt.Errorf("%w: zero parameter", ErrMalformedHash)
	}

	var err error
	if d.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return phcDigest{}, fmt.Errorf("%w: salt: %v", ErrMalformedHash, err)
	}
	if d.sum, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return phcDigest{}, fmt.Errorf("%w: hash: %v", ErrMalformedHash, err)
	}
	if len(d.sum) == 0 {
		return phcDigest{}, fmt.Errorf("%w: empty hash", ErrMalformedHash)
	}
	return d, nil
}

var (
	dummyOnce   sync.Once
	dummyDigest string
)

// DummyDigest returns a valid digest of a random secret. Verifying against it
// costs the same as a real verification, which keeps unknown-account logins
// indistinguishable by timing.
func DummyDigest() string {
	dummyOnce.Do(func() {
		d, err := NewArgon2Hasher().Hash(MustGenerateToken(TokenSize128))
		if err != nil {
			panic(fmt.Sprintf("cryptox: dummy digest: %v", err))
		}
		dummyDigest = d
	})
	return dummyDigest
}

// HashPassword hashes with the default hasher.
func HashPassword(password string) (string, error) {
	return NewArgon2Hasher().Hash(password)
}

// VerifyPassword compares a plaintext password against a PHC-style Argon2id hash.
func VerifyPassword(password, encodedHash string) error {
	return NewArgon2Hasher().compare(encodedHash, password)
}

func GeneratePassword() (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 16
	password := make([]byte, length)
	for i := range password {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("failed to generate random password: %w", err)
		}
		password[i] = charset[n.Int64()]
	}
	return string(password), nil
}
