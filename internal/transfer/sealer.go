package transfer

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealer transforms chunk bytes before they are base64-encoded into the
// ciphertext field, and back on the receiving side.
type Sealer interface {
	Seal(fileID string, index int, plaintext []byte) ([]byte, error)
	Open(fileID string, index int, sealed []byte) ([]byte, error)
}

// Plaintext leaves chunk bytes unchanged. It is the default: the field is
// called ciphertext but carries the file bytes as they are.
var Plaintext Sealer = plaintext{}

type plaintext struct{}

func (plaintext) Seal(_ string, _ int, b []byte) ([]byte, error) { return b, nil }
func (plaintext) Open(_ string, _ int, b []byte) ([]byte, error) { return b, nil }

// ErrOpen is returned when a sealed chunk fails authentication.
var ErrOpen = errors.New("chunk authentication failed")

type xchacha struct {
	aead cipher.AEAD
}

// NewXChaChaSealer seals chunks with XChaCha20-Poly1305 under a shared
// 32-byte key. Each chunk gets a random 24-byte nonce prepended to the
// output; the file id and index are bound as additional data, so chunks
// cannot be reordered or moved between transfers.
func NewXChaChaSealer(key []byte) (Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("invalid sealer key: %w", err)
	}
	return &xchacha{aead: aead}, nil
}

func (x *xchacha) Seal(fileID string, index int, plaintext []byte) ([]byte, error) {
	nonceSize := x.aead.NonceSize()
	out := make([]byte, nonceSize, nonceSize+len(plaintext)+x.aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("failed to generate chunk nonce: %w", err)
	}
	return x.aead.Seal(out, out[:nonceSize], plaintext, chunkAD(fileID, index)), nil
}

func (x *xchacha) Open(fileID string, index int, sealed []byte) ([]byte, error) {
	nonceSize := x.aead.NonceSize()
	if len(sealed) < nonceSize+x.aead.Overhead() {
		return nil, ErrOpen
	}
	plain, err := x.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], chunkAD(fileID, index))
	if err != nil {
		return nil, ErrOpen
	}
	return plain, nil
}

func chunkAD(fileID string, index int) []byte {
	ad := make([]byte, 0, len(fileID)+8)
	ad = append(ad, fileID...)
	return binary.BigEndian.AppendUint64(ad, uint64(index))
}
