package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveSubkey expands a parent secret into an n-byte subkey bound to a
// domain string. Same secret + salt + domain always yields the same
// subkey; the subkey reveals nothing about the parent.
func DeriveSubkey(secret, salt []byte, domain string, n int) ([]byte, error) {
	stream := hkdf.New(sha256.New, secret, salt, []byte(domain))
	out := make([]byte, n)
	if _, err := io.ReadFull(stream, out); err != nil {
		return nil, err
	}
	return out, nil
}
