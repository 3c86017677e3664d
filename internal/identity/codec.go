package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"onboarding-service/internal/config"
)

var (
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
	ErrDecryptionFailed    = errors.New("decryption failed")
)

// Codec is the only component that handles plaintext government ID numbers.
// Everything that crosses the persistence boundary is either Hash output
// (equality lookups) or Encrypt output (authorized redisplay).
type Codec struct {
	hashSecret []byte
	aesKey     []byte
}

func NewCodec(cfg *config.Config) (*Codec, error) {
	if cfg.Identity.HashSecret == "" {
		return nil, fmt.Errorf("identity hash secret is not configured")
	}
	key, err := hex.DecodeString(cfg.Identity.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("identity encryption key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("identity encryption key must be 32 bytes, got %d", len(key))
	}
	return &Codec{
		hashSecret: []byte(cfg.Identity.HashSecret),
		aesKey:     key,
	}, nil
}

// Hash produces a deterministic keyed digest of the identifier, usable only
// as an equality-searchable key.
func (c *Codec) Hash(identifier string) string {
	mac := hmac.New(sha256.New, c.hashSecret)
	mac.Write([]byte(identifier))
	return hex.EncodeToString(mac.Sum(nil))
}

// Encrypt seals the identifier with AES-256-GCM under a fresh nonce and
// returns "nonceHex:cipherHex".
func (c *Codec) Encrypt(identifier string) (string, error) {
	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(identifier), nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Input must be exactly two colon-delimited hex
// segments; anything else is ErrMalformedCiphertext.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	parts := strings.Split(ciphertext, ":")
	if len(parts) != 2 {
		return "", ErrMalformedCiphertext
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", ErrMalformedCiphertext
	}
	sealed, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", ErrMalformedCiphertext
	}

	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return "", ErrMalformedCiphertext
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}
