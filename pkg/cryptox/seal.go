package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

var ErrSealed = errors.New("cryptox: sealed value could not be opened")

var (
	masterKeyMu   sync.Mutex
	masterKey     []byte
	masterKeyPath string
)

// SetMasterKeyPath configures where the sealing key is loaded from. When
// unset, AUTH_MASTER_KEY is used, and failing that an ephemeral key is
// generated (sealed values then do not survive a restart).
func SetMasterKeyPath(path string) {
	masterKeyMu.Lock()
	defer masterKeyMu.Unlock()
	masterKeyPath = path
	masterKey = nil
}

func loadMasterKey() ([]byte, error) {
	var material []byte

	switch {
	case masterKeyPath != "":
		data, err := os.ReadFile(masterKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read master key file: %w", err)
		}
		material = data
	case os.Getenv("AUTH_MASTER_KEY") != "":
		material = []byte(os.Getenv("AUTH_MASTER_KEY"))
	default:
		material = make([]byte, 32)
		if _, err := rand.Read(material); err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral master key: %w", err)
		}
	}

	sum := sha256.Sum256(material)
	return sum[:], nil
}

func aead() (cipher.AEAD, error) {
	masterKeyMu.Lock()
	defer masterKeyMu.Unlock()

	if masterKey == nil {
		k, err := loadMasterKey()
		if err != nil {
			return nil, err
		}
		masterKey = k
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext with AES-256-GCM under the master key and returns
// base64url(nonce || ciphertext || tag). Used for TOTP secrets at rest.
func Seal(plaintext []byte) (string, error) {
	gcm, err := aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(gcm.Seal(nonce, nonce, plaintext, nil)), nil
}

// Open reverses Seal.
func Open(sealed string) ([]byte, error) {
	gcm, err := aead()
	if err != nil {
		return nil, err
	}

	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealed, err)
	}
	if len(raw) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: too short", ErrSealed)
	}

	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealed, err)
	}
	return plaintext, nil
}

// ResetMasterKeyForTesting forgets the loaded master key.
func ResetMasterKeyForTesting() {
	masterKeyMu.Lock()
	defer masterKeyMu.Unlock()
	masterKey = nil
}
