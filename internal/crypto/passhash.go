// Package crypto hashes and verifies sign-in passwords.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters.
const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	// SaltLen is the per-credential salt size.
	SaltLen = 16
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewSalt returns a fresh SaltLen-byte salt.
func NewSalt() ([]byte, error) { return RandBytes(SaltLen) }

// HashPassword returns the Argon2id key of password under salt.
func HashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyPassword compares in constant time.
func VerifyPassword(password, salt, expected []byte) bool {
	return subtle.ConstantTimeCompare(HashPassword(password, salt), expected) == 1
}
