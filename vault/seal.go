package vault

import (
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

const sealedPrefix = "sealed:v1:"

// Sealer protects the stored record at rest.
type Sealer interface {
	Seal(plaintext, aad []byte) (string, error)
	Open(sealed string, aad []byte) ([]byte, error)
}

var errSealedFormat = errors.New("vault: invalid sealed value")

// AEADSealer seals records with XChaCha20-Poly1305 under a key derived from a
// caller secret with HKDF-SHA256.
type AEADSealer struct {
	key []byte
}

// NewAEADSealer derives the record key from secret. The info string binds the
// key to its purpose so the same secret can be reused elsewhere safely.
func NewAEADSealer(secret []byte) (*AEADSealer, error) {
	if len(secret) < 16 {
		return nil, errors.New("vault: seal secret must be at least 16 bytes")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, secret, nil, []byte("goSession vault record v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("vault: derive seal key: %w", err)
	}
	return &AEADSealer{key: key}, nil
}

func (s *AEADSealer) Seal(plaintext, aad []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := aead.Seal(nonce, nonce, plaintext, aad)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

func (s *AEADSealer) Open(sealed string, aad []byte) ([]byte, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return nil, errSealedFormat
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return nil, errSealedFormat
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, errSealedFormat
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, aad)
}
