// Package crypto seals third-party API keys stored on API configurations.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidKey is returned when the sealing key is empty.
	ErrInvalidKey = errors.New("invalid credentials key: must not be empty")
	// ErrDecryptionFailed is returned for tampered values or a wrong key.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or wrong key")
)

// sealedPrefix versions the stored format.
const sealedPrefix = "v1:"

// KeySealer encrypts API keys with AES-256-GCM before they reach the database.
type KeySealer struct {
	gcm cipher.AEAD
}

// NewKeySealer derives the AES key from CREDENTIALS_KEY. A base64 value decoding to
// 32 bytes is used as-is; anything else is hashed with SHA-256.
func NewKeySealer(secret string) (*KeySealer, error) {
	if secret == "" {
		return nil, ErrInvalidKey
	}

	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil || len(key) != 32 {
		sum := sha256.Sum256([]byte(secret))
		key = sum[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &KeySealer{gcm: gcm}, nil
}

// Seal returns "v1:" + base64(nonce || ciphertext || tag). An empty key stays empty
// so configurations without credentials keep HasAPIKey false.
func (s *KeySealer) Seal(apiKey string) (string, error) {
	if apiKey == "" {
		return "", nil
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.gcm.Seal(nonce, nonce, []byte(apiKey), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (s *KeySealer) Open(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	encoded, ok := strings.CutPrefix(stored, sealedPrefix)
	if !ok {
		return "", fmt.Errorf("%w: unknown format", ErrDecryptionFailed)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode failed", ErrDecryptionFailed)
	}

	nonceSize := s.gcm.NonceSize()
	if len(data) < nonceSize+s.gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	plaintext, err := s.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}
	return string(plaintext), nil
}

// Mask renders a key for display, keeping only the last four characters.
func Mask(apiKey string) string {
	if len(apiKey) <= 4 {
		return strings.Repeat("*", len(apiKey))
	}
	return strings.Repeat("*", 8) + apiKey[len(apiKey)-4:]
}
