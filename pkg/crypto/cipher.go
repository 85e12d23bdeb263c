package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// ErrMalformedSecret is returned by Open for payloads shorter than a nonce.
var ErrMalformedSecret = errors.New("crypto: sealed secret is malformed")

// Sealer encrypts webhook secrets at rest with AES-GCM. The nonce is stored
// in front of the ciphertext.
type Sealer struct {
	key [sha256.Size]byte
}

// NewSealer derives a 256-bit key from arbitrary key material.
func NewSealer(key string) Sealer {
	return Sealer{key: sha256.Sum256([]byte(key))}
}

// Seal encrypts a plaintext secret.
func (s Sealer) Seal(plaintext string) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize(), gcm.NonceSize()+len(plaintext)+gcm.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Open decrypts a sealed secret.
func (s Sealer) Open(payload []byte) (string, error) {
	gcm, err := s.aead()
	if err != nil {
		return "", err
	}
	if len(payload) < gcm.NonceSize() {
		return "", ErrMalformedSecret
	}
	nonce, sealed := payload[:gcm.NonceSize()], payload[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open secret: %w", err)
	}
	return string(plain), nil
}

func (s Sealer) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
