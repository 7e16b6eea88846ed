package crypto

import (
	"crypto/rand"
	"errors"

	xchacha "golang.org/x/crypto/chacha20poly1305"
)

// SealX wraps small secrets (master-key bytes at rest) with
// XChaCha20-Poly1305. The 24-byte nonce is prepended, so a wrap travels
// as a single opaque blob.
func SealX(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := xchacha.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, xchacha.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, aad), nil
}

// OpenX unwraps a blob produced by SealX.
func OpenX(key, blob, aad []byte) ([]byte, error) {
	aead, err := xchacha.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < xchacha.NonceSizeX {
		return nil, errors.New("crypto: wrapped blob too short")
	}
	pt, err := aead.Open(nil, blob[:xchacha.NonceSizeX], blob[xchacha.NonceSizeX:], aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return pt, nil
}
