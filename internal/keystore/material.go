package keystore

// KeyType records how a master key came to exist.
type KeyType string

const (
	KeyTypePassword KeyType = "password"
	KeyTypeRandom   KeyType = "random"
)

// Material is the runtime handle for a master key, resolved once at
// load time. Either the raw bytes are available (the usual case), or
// only the derived search seed is, for keys imported from a platform
// that would not export bytes.
type Material struct {
	extractable bool
	bytes       []byte
	searchSeed  []byte
	keyType     KeyType
	salt        []byte
}

// Extractable builds material with the key bytes in hand.
func Extractable(keyBytes, searchSeed, salt []byte, kt KeyType) Material {
	return Material{extractable: true, bytes: keyBytes, searchSeed: searchSeed, keyType: kt, salt: salt}
}

// Opaque builds material whose bytes are inaccessible; only the
// persisted search seed remains.
func Opaque(searchSeed, salt []byte, kt KeyType) Material {
	return Material{searchSeed: searchSeed, keyType: kt, salt: salt}
}

// Bytes returns the key bytes and whether they are available.
func (m Material) Bytes() ([]byte, bool) { return m.bytes, m.extractable }

// SearchSeed is the input to search-key derivation. For extractable
// material it is derived from the key bytes, so the search key stays a
// pure function of the master key; for opaque material it is the stored
// seed, itself derived deterministically from the key at store time and
// never a per-device random value, so two devices holding the same
// master key always agree on search tokens.
func (m Material) SearchSeed() []byte { return m.searchSeed }

func (m Material) Type() KeyType { return m.keyType }
func (m Material) Salt() []byte  { return m.salt }
