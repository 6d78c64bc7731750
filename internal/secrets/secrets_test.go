package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptString(t *testing.T) {
	enc, err := EncryptString("0011223344", "hunter2")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(enc))
	assert.NotContains(t, enc, "0011223344")

	plain, encrypted, err := DecryptString(enc, "hunter2")
	require.NoError(t, err)
	assert.True(t, encrypted)
	assert.Equal(t, "0011223344", plain)
}

func TestEncryptIsRandomized(t *testing.T) {
	a, err := EncryptString("value", "pw")
	require.NoError(t, err)
	b, err := EncryptString("value", "pw")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptWrongPassword(t *testing.T) {
	enc, err := EncryptString("value", "right")
	require.NoError(t, err)

	_, encrypted, err := DecryptString(enc, "wrong")
	assert.True(t, encrypted)
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestDecryptPlainValue(t *testing.T) {
	plain, encrypted, err := DecryptString("not-encrypted", "pw")
	require.NoError(t, err)
	assert.False(t, encrypted)
	assert.Equal(t, "not-encrypted", plain)
}

func TestDecryptMalformed(t *testing.T) {
	for _, value := range []string{Prefix + "!!!", Prefix + "AAAA"} {
		_, encrypted, err := DecryptString(value, "pw")
		assert.True(t, encrypted)
		assert.ErrorIs(t, err, ErrInvalidPayload, value)
	}
}

func TestEncryptEmpty(t *testing.T) {
	enc, err := EncryptString("", "pw")
	require.NoError(t, err)
	assert.Empty(t, enc)
}
