// Package security seals cookie values at rest.
package security

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// sealedPrefix marks a value produced by Seal. Values without it are stored
// in the clear and returned unchanged by Open.
const sealedPrefix = "v1:"

var hkdfInfoCookieSeal = []byte("schedule-sync.cookie.seal.v1")

// ErrUnseal is returned when a sealed value cannot be authenticated.
var ErrUnseal = errors.New("security: cannot open sealed value")

// Sealer encrypts cookie values with XChaCha20-Poly1305. The associated data
// binds every ciphertext to its student and cookie name, so sealed values
// cannot be swapped between rows.
//
// A Sealer built without a secret passes values through unchanged.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key from secret with HKDF-SHA256.
// An empty secret yields a pass-through sealer.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return &Sealer{}, nil
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, hkdfInfoCookieSeal), key); err != nil {
		return nil, fmt.Errorf("security: derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Enabled reports whether values are actually encrypted.
func (s *Sealer) Enabled() bool {
	return s != nil && s.aead != nil
}

// Seal encrypts value for the given student and cookie name.
func (s *Sealer) Seal(studentID, name, value string) (string, error) {
	if !s.Enabled() {
		return value, nil
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(value)+s.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("security: generate nonce: %w", err)
	}

	out := s.aead.Seal(nonce, nonce, []byte(value), associatedData(studentID, name))
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values that were stored unsealed are returned as-is.
func (s *Sealer) Open(studentID, name, stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if !s.Enabled() {
		return "", fmt.Errorf("%w: no sealing key configured", ErrUnseal)
	}

	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnseal, err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n+s.aead.Overhead() {
		return "", fmt.Errorf("%w: value too short", ErrUnseal)
	}

	plain, err := s.aead.Open(nil, raw[:n], raw[n:], associatedData(studentID, name))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnseal, err)
	}
	return string(plain), nil
}

func associatedData(studentID, name string) []byte {
	return []byte(studentID + "\x00" + name)
}
