package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
)

// GCMNonceSize matches the record envelope wire format: the nonce rides
// next to the ciphertext, not inside it.
const GCMNonceSize = 12

var (
	ErrInvalidKeySize = errors.New("crypto: key must be 32 bytes")
	ErrAuthFailed     = errors.New("crypto: message authentication failed")
)

// SealGCM encrypts plaintext with AES-256-GCM under a fresh random nonce.
// The nonce is returned separately so callers can store it as its own
// field alongside the ciphertext.
func SealGCM(key, plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, GCMNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nonce, nil
}

// OpenGCM authenticates and decrypts. A tag mismatch surfaces as
// ErrAuthFailed, never as garbage plaintext.
func OpenGCM(key, ciphertext, nonce, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != GCMNonceSize {
		return nil, ErrAuthFailed
	}
	pt, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return pt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
