package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)

	assert.True(t, VerifyPassword("hunter2", hash))
	assert.False(t, VerifyPassword("wrong", hash))
}

func TestParseKey(t *testing.T) {
	key, err := ParseKey("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)
	assert.Len(t, key, 32)

	_, err = ParseKey("zz")
	require.Error(t, err)

	// Wrong length.
	_, err = ParseKey("0001")
	require.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateRandomBytes(32)
	require.NoError(t, err)

	ciphertext, err := Encrypt(key, []byte("cloud-password"))
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), "cloud-password")

	plaintext, err := Decrypt(key, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("cloud-password"), plaintext)

	// Tampered ciphertext fails authentication.
	ciphertext[len(ciphertext)-1] ^= 0xff
	_, err = Decrypt(key, ciphertext)
	require.Error(t, err)

	// The wrong key fails too.
	other, err := GenerateRandomBytes(32)
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xff
	_, err = Decrypt(other, ciphertext)
	require.Error(t, err)
}

func TestGenerateRandomString(t *testing.T) {
	a, err := GenerateRandomString(16)
	require.NoError(t, err)
	b, err := GenerateRandomString(16)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
