package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// ErrDecrypt is returned when a stored value fails authentication.
var ErrDecrypt = errors.New("stored value could not be decrypted")

// Encrypted seals values with AES-256-GCM before handing them to the
// underlying store. The key is the SHA-256 of the passphrase.
type Encrypted struct {
	inner KV
	aead  cipher.AEAD
}

// NewEncrypted wraps inner.
func NewEncrypted(inner KV, passphrase string) (*Encrypted, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("encryption passphrase is required")
	}
	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Encrypted{inner: inner, aead: aead}, nil
}

// Get implements KV.
func (e *Encrypted) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := e.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	n := e.aead.NonceSize()
	if len(sealed) < n {
		return nil, ErrDecrypt
	}
	// The key is bound as additional data so values cannot be swapped
	// between keys.
	plain, err := e.aead.Open(nil, sealed[:n], sealed[n:], []byte(key))
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// Set implements KV.
func (e *Encrypted) Set(ctx context.Context, key string, value []byte) error {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	return e.inner.Set(ctx, key, e.aead.Seal(nonce, nonce, value, []byte(key)))
}

var _ KV = (*Encrypted)(nil)
