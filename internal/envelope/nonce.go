package envelope

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/codefionn/echochat/internal/consts"
)

// NonceLength is the length of a nonce string in hex characters.
const NonceLength = consts.NonceBytes * 2

// NewNonce returns 16 bytes from the system CSPRNG as 32 lowercase hex
// characters. Uniqueness is probabilistic.
func NewNonce() (string, error) {
	buf := make([]byte, consts.NonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ValidNonce reports whether s has the shape produced by NewNonce.
func ValidNonce(s string) bool {
	if len(s) != NonceLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
