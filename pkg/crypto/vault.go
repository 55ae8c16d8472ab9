// Package crypto seals connection credentials with authenticated
// encryption. Sealed blobs are the only at-rest representation of secrets.
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

// blobVersion prefixes every sealed blob so the format can evolve.
const blobVersion = 0x01

var (
	// ErrInvalidKey is returned when the encryption key is empty.
	ErrInvalidKey = errors.New("invalid encryption key: must not be empty")
	// ErrDecryptionFailed is returned when a blob is malformed, tampered
	// with, or sealed under a different key.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or wrong key")
)

// Vault provides AES-256-GCM authenticated encryption for connection
// secrets under a per-process master key.
type Vault struct {
	gcm cipher.AEAD
}

// NewVault creates a vault from a key string. The key can be:
//   - a base64-encoded 32-byte key (e.g. from: openssl rand -base64 32)
//   - any passphrase (hashed to 32 bytes with SHA-256)
func NewVault(keyInput string) (*Vault, error) {
	if keyInput == "" {
		return nil, ErrInvalidKey
	}

	var key []byte
	decoded, err := base64.StdEncoding.DecodeString(keyInput)
	if err == nil && len(decoded) == 32 {
		key = decoded
	} else {
		hash := sha256.Sum256([]byte(keyInput))
		key = hash[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Vault{gcm: gcm}, nil
}

// Seal encrypts plaintext and returns base64(version || nonce || ciphertext || tag)
// with a fresh random nonce per call. Empty strings pass through unsealed.
func (v *Vault) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	blob := make([]byte, 1, 1+len(nonce)+len(plaintext)+v.gcm.Overhead())
	blob[0] = blobVersion
	blob = append(blob, nonce...)
	blob = v.gcm.Seal(blob, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Open decrypts a sealed blob back to plaintext. It fails with
// ErrDecryptionFailed on version mismatch, truncation, or authentication
// failure. Empty strings pass through.
func (v *Vault) Open(blob string) (string, error) {
	if blob == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode failed", ErrDecryptionFailed)
	}
	if len(data) < 1 || data[0] != blobVersion {
		return "", fmt.Errorf("%w: unsupported blob version", ErrDecryptionFailed)
	}
	data = data[1:]

	nonceSize := v.gcm.NonceSize()
	if len(data) < nonceSize+v.gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := v.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}
	return string(plaintext), nil
}

// Mask renders a secret as first4···last4 for log contexts. Short values
// are fully masked.
func Mask(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + "···" + s[len(s)-4:]
}
