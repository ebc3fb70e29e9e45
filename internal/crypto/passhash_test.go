package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSalt(t *testing.T) {
	t.Parallel()

	a, err := NewSalt()
	require.NoError(t, err)
	require.Len(t, a, SaltLen)
	b, err := NewSalt()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.NotEqual(t, make([]byte, SaltLen), a)
}

func TestHashPassword_DependsOnPasswordAndSalt(t *testing.T) {
	t.Parallel()

	salt := []byte("0123456789abcdef")
	h := HashPassword([]byte("hunter22"), salt)
	require.Len(t, h, int(argonKeyLen))
	require.Equal(t, h, HashPassword([]byte("hunter22"), salt))
	require.NotEqual(t, h, HashPassword([]byte("hunter23"), salt))
	require.NotEqual(t, h, HashPassword([]byte("hunter22"), []byte("fedcba9876543210")))
}

func TestVerifyPassword(t *testing.T) {
	t.Parallel()

	salt := []byte("0123456789abcdef")
	h := HashPassword([]byte("correct horse"), salt)
	require.True(t, VerifyPassword([]byte("correct horse"), salt, h))
	require.False(t, VerifyPassword([]byte("wrong"), salt, h))
	require.False(t, VerifyPassword([]byte("correct horse"), []byte("other salt......"), h))
	require.False(t, VerifyPassword(nil, salt, h))
}
