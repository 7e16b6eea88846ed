package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the salt length for password-based derivation.
	SaltSize = 16

	// KeySize is the length of every symmetric key in the system.
	KeySize = 32

	// KDFIterations is fixed; changing it silently would make the same
	// password derive a different key.
	KDFIterations = 310_000
)

var ErrEmptyPassword = errors.New("crypto: empty password")

// DeriveKey runs PBKDF2-SHA256 over the password. Deterministic for
// identical password+salt. A nil salt gets SaltSize fresh random bytes.
func DeriveKey(password string, salt []byte) (key, outSalt []byte, err error) {
	if password == "" {
		return nil, nil, ErrEmptyPassword
	}
	if salt == nil {
		salt = make([]byte, SaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, err
		}
	}
	key = pbkdf2.Key([]byte(password), salt, KDFIterations, KeySize, sha256.New)
	return key, salt, nil
}

// RandomKey returns a fresh random KeySize-byte key.
func RandomKey() ([]byte, error) {
	k := make([]byte, KeySize)
	if _, err := rand.Read(k); err != nil {
		return nil, err
	}
	return k, nil
}

func EncodeSalt(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeSalt(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
