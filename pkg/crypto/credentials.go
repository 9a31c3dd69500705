// Package crypto seals data-source account passwords at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ekaya-inc/catalog-mirror/pkg/apperrors"
)

// ErrInvalidKey is returned when the encryption key is empty.
var ErrInvalidKey = errors.New("invalid encryption key: must not be empty")

// PasswordCipher encrypts account passwords with AES-256-GCM.
type PasswordCipher struct {
	gcm cipher.AEAD
}

// deriveKey accepts a base64-encoded 32-byte key (openssl rand -base64 32) or
// any passphrase, which is hashed with SHA-256.
func deriveKey(keyInput string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(keyInput); err == nil && len(decoded) == 32 {
		return decoded
	}
	sum := sha256.Sum256([]byte(keyInput))
	return sum[:]
}

// NewPasswordCipher builds a cipher from the configured credentials key.
func NewPasswordCipher(keyInput string) (*PasswordCipher, error) {
	if keyInput == "" {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(deriveKey(keyInput))
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &PasswordCipher{gcm: gcm}, nil
}

// Seal returns base64(nonce || ciphertext || tag). An empty password stays empty.
func (c *PasswordCipher) Seal(password string) (string, error) {
	if password == "" {
		return "", nil
	}

	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(c.gcm.Seal(nonce, nonce, []byte(password), nil)), nil
}

// Open reverses Seal. A value sealed under another key fails with
// apperrors.ErrCredentialsKeyMismatch.
func (c *PasswordCipher) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode sealed password: %w", err)
	}
	nonceSize := c.gcm.NonceSize()
	if len(data) < nonceSize+c.gcm.Overhead() {
		return "", fmt.Errorf("sealed password too short: %w", apperrors.ErrCredentialsKeyMismatch)
	}

	plaintext, err := c.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", apperrors.ErrCredentialsKeyMismatch
	}
	return string(plaintext), nil
}
