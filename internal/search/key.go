// Package search turns record text into opaque, deterministic tokens so
// the backend can locate matching encrypted records without ever seeing
// a word of plaintext.
package search

import (
	"crypto/sha256"

	"github.com/syntrise/dropcore/internal/keystore"
)

// searchKeyDomain separates the search key from every other derivation
// of the master key.
const searchKeyDomain = "dropcore/search/v1"

// DeriveSearchKey hashes the key material's search seed with the domain
// string. The seed is itself a deterministic derivation of the master
// key bytes, so the search key is a pure function of the master key:
// same master key, same search key, on every device, whether or not
// the key bytes were extractable locally. One-way: the search key
// reveals nothing about the master key.
func DeriveSearchKey(m keystore.Material) []byte {
	seed := m.SearchSeed()
	if len(seed) == 0 {
		return nil
	}
	h := sha256.New()
	h.Write(seed)
	h.Write([]byte(searchKeyDomain))
	return h.Sum(nil)
}
