package chat

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errInvalidCiphertext = errors.New("invalid key ciphertext")

// keyCipher seals provider api keys at rest with AES-256-GCM.
type keyCipher struct {
	aead cipher.AEAD
}

func newKeyCipher(raw string) (*keyCipher, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("encryption key not set")
	}
	key, err := decodeKey(raw)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &keyCipher{aead: aead}, nil
}

// key is either 32 raw bytes or their base64 form
func decodeKey(raw string) ([]byte, error) {
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length %d, want 32", len(key))
	}
	return key, nil
}

func (c *keyCipher) encrypt(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *keyCipher) decrypt(input string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(input)
	if err != nil {
		return "", errInvalidCiphertext
	}
	ns := c.aead.NonceSize()
	if len(data) < ns {
		return "", errInvalidCiphertext
	}
	plain, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", errInvalidCiphertext
	}
	return string(plain), nil
}

// sealKey encrypts a key for storage; without a cipher it is stored as is.
func (s *Service) sealKey(plain string) (string, error) {
	if s.keys == nil || plain == "" {
		return plain, nil
	}
	return s.keys.encrypt(plain)
}

// openKey reverses sealKey. Values written before a cipher was configured
// are returned unchanged.
func (s *Service) openKey(stored string) string {
	if s.keys == nil || stored == "" {
		return stored
	}
	plain, err := s.keys.decrypt(stored)
	if err != nil {
		return stored
	}
	return plain
}
