// Package sealbox keeps small client secrets (the access token) encrypted at
// rest under a per-machine key file.
package sealbox

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeyLen is the size of the master key and every derived key.
const KeyLen = 32

var ErrTooShort = errors.New("sealed value too short")

// LoadOrCreateKey returns the master key stored at path, creating it with
// 0600 permissions on first use.
func LoadOrCreateKey(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		if len(b) != KeyLen {
			return nil, fmt.Errorf("key file %s: want %d bytes, got %d", path, KeyLen, len(b))
		}
		return b, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	key := make([]byte, KeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}

// Derive returns a purpose-bound key via HKDF-SHA256 so one master key never
// encrypts two kinds of data directly.
func Derive(master []byte, purpose string) ([]byte, error) {
	key := make([]byte, KeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(purpose)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts plaintext with XChaCha20-Poly1305. The random nonce is
// prepended; aad must be presented again to Open.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open reverses Seal.
func Open(key, sealed, aad []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, ErrTooShort
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, ct := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, aad)
}
