// Package secretbox seals locker secrets with AES-256-GCM and wraps each
// locker's master key with a key-encryption key derived from the service secret.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/argon2"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// kekSalt is mixed into the service secret when deriving the key-encryption key.
var kekSalt = []byte("afteryou/locker-kek/v1")

var (
	// ErrKeyNotSet is returned when no service secret has been configured.
	ErrKeyNotSet = errors.New("encryption key not configured: set AFTERYOU_SECRET_KEY")

	// ErrMalformed is returned when a ciphertext cannot be decoded.
	ErrMalformed = errors.New("malformed ciphertext")
)

// Box seals and opens values with a single AES-256-GCM key.
type Box struct {
	aead cipher.AEAD
}

// New creates a Box for a 32-byte key.
func New(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &Box{aead: gcm}, nil
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext || tag).
// The empty string seals to the empty string.
func (b *Box) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	sealed, err := b.sealBytes([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (b *Box) Open(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", ErrMalformed)
	}
	plaintext, err := b.openBytes(data)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (b *Box) sealBytes(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand nonce: %w", err)
	}
	return b.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (b *Box) openBytes(data []byte) ([]byte, error) {
	nonceSize := b.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrMalformed
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("gcm.Open: %w", err)
	}
	return plaintext, nil
}

// DeriveKey stretches a passphrase into an AES-256 key with argon2id.
func DeriveKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, KeySize)
}

// Keyring issues and unwraps per-locker master keys.
type Keyring struct {
	kek *Box
}

// NewKeyring derives the key-encryption key from secret.
func NewKeyring(secret string) (*Keyring, error) {
	if secret == "" {
		return nil, ErrKeyNotSet
	}
	kek, err := New(DeriveKey([]byte(secret), kekSalt))
	if err != nil {
		return nil, err
	}
	return &Keyring{kek: kek}, nil
}

// NewMasterKey generates a random master key and returns it wrapped for storage.
func (k *Keyring) NewMasterKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("rand master key: %w", err)
	}
	sealed, err := k.kek.sealBytes(key)
	if err != nil {
		return "", fmt.Errorf("wrap master key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Unwrap opens a wrapped master key and returns a Box keyed by it.
func (k *Keyring) Unwrap(wrapped string) (*Box, error) {
	data, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", ErrMalformed)
	}
	key, err := k.kek.openBytes(data)
	if err != nil {
		return nil, fmt.Errorf("unwrap master key: %w", err)
	}
	return New(key)
}

// NewOTP returns a numeric code of the given length drawn from crypto/rand.
func NewOTP(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("rand otp: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
