// Package secrets encrypts individual config values with a password so that
// keys can be stored in the config file.
package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	// Prefix marks an encrypted value in the config file.
	Prefix = "enc:v2:"

	saltSize = 16
)

var (
	// ErrInvalidPassword is returned when the password cannot open the value.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidPayload is returned for a value that is not a well-formed
	// encrypted string.
	ErrInvalidPayload = errors.New("invalid encrypted value")
)

// IsEncrypted reports whether value carries the encryption prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// EncryptString seals value under a key derived from password. The result
// is Prefix followed by base64(salt | nonce | ciphertext). An empty value
// stays empty.
func EncryptString(value, password string) (string, error) {
	if value == "" {
		return "", nil
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	aead, err := newAEAD(password, salt)
	if err != nil {
		return "", err
	}

	out := make([]byte, 0, saltSize+aead.NonceSize()+len(value)+aead.Overhead())
	out = append(out, salt...)
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, []byte(value), []byte(Prefix))

	return Prefix + base64.StdEncoding.EncodeToString(out), nil
}

// DecryptString opens a value produced by EncryptString. Values without the
// prefix are returned unchanged and the bool is false.
func DecryptString(value, password string) (string, bool, error) {
	if !IsEncrypted(value) {
		return value, false, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil {
		return "", true, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(raw) < saltSize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return "", true, fmt.Errorf("%w: too short", ErrInvalidPayload)
	}

	salt := raw[:saltSize]
	nonce := raw[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	ciphertext := raw[saltSize+chacha20poly1305.NonceSizeX:]

	aead, err := newAEAD(password, salt)
	if err != nil {
		return "", true, err
	}
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(Prefix))
	if err != nil {
		return "", true, ErrInvalidPassword
	}
	return string(plain), true, nil
}

func newAEAD(password string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(password), salt, 1<<15, 8, 1, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return chacha20poly1305.NewX(key)
}
