// Package keystore manages the one master symmetric key per user:
// derivation, persistence (wrapped at rest), retrieval, and rotation.
package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/syntrise/dropcore/internal/crypto"
	"github.com/syntrise/dropcore/internal/dropcore"
	"github.com/syntrise/dropcore/internal/storage"
)

// searchSeedDomain fixes the derivation of the search seed persisted
// next to each key. It is derived from the key bytes themselves, so it
// is recoverable on any device holding the same master key.
const searchSeedDomain = "dropcore/search-fallback/v1"

// Derived is the result of key creation.
type Derived struct {
	Key  []byte
	Salt []byte // nil for random keys
}

// DeriveFromPassword derives a master key with PBKDF2. Deterministic
// for identical password+salt; a nil salt gets fresh random bytes.
func DeriveFromPassword(password string, salt []byte) (Derived, error) {
	key, outSalt, err := crypto.DeriveKey(password, salt)
	if errors.Is(err, crypto.ErrEmptyPassword) {
		return Derived{}, fmt.Errorf("%w: password required in password mode", dropcore.ErrConfiguration)
	}
	if err != nil {
		return Derived{}, err
	}
	return Derived{Key: key, Salt: outSalt}, nil
}

// GenerateRandom creates a fresh random master key with no password.
func GenerateRandom() (Derived, error) {
	key, err := crypto.RandomKey()
	if err != nil {
		return Derived{}, err
	}
	return Derived{Key: key}, nil
}

// storedKey is the persisted shape, key bytes wrapped under the device key.
type storedKey struct {
	Type        KeyType `json:"type"`
	Salt        []byte  `json:"salt,omitempty"`
	Extractable bool    `json:"extractable"`
	KeyWrap     []byte  `json:"key_wrap,omitempty"`
	SearchSeed  []byte  `json:"search_seed"`
	CreatedAt   int64   `json:"created_at"`
}

// Store persists master keys in a device-local KV, wrapped under a
// device key from the platform keychain.
type Store struct {
	kv        storage.KV
	deviceKey []byte
	log       zerolog.Logger
}

func New(kv storage.KV, deviceKey []byte, log zerolog.Logger) (*Store, error) {
	if kv == nil {
		return nil, fmt.Errorf("%w: key-value store required", dropcore.ErrConfiguration)
	}
	if len(deviceKey) != crypto.KeySize {
		return nil, fmt.Errorf("%w: device key must be %d bytes", dropcore.ErrConfiguration, crypto.KeySize)
	}
	return &Store{kv: kv, deviceKey: deviceKey, log: log}, nil
}

func kvKey(userID string) string { return "masterkey/" + userID }

// Store upserts the key for userID. Callers must intend replacement:
// storing over an existing key is rotation, and prior ciphertext becomes
// undecryptable unless re-encrypted first.
func (s *Store) Store(ctx context.Context, userID string, key, salt []byte, kt KeyType) error {
	if userID == "" {
		return fmt.Errorf("%w: user id required", dropcore.ErrConfiguration)
	}
	if len(key) != crypto.KeySize {
		return fmt.Errorf("%w: master key must be %d bytes", dropcore.ErrConfiguration, crypto.KeySize)
	}
	seed, err := crypto.DeriveSubkey(key, salt, searchSeedDomain, crypto.KeySize)
	if err != nil {
		return err
	}
	wrap, err := crypto.SealX(s.deviceKey, key, []byte(kvKey(userID)))
	if err != nil {
		return err
	}
	rec := storedKey{
		Type:        kt,
		Salt:        salt,
		Extractable: true,
		KeyWrap:     wrap,
		SearchSeed:  seed,
		CreatedAt:   time.Now().Unix(),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.kv.Put(ctx, kvKey(userID), b); err != nil {
		return err
	}
	s.log.Info().Str("user", userID).Str("key_type", string(kt)).Msg("master key stored")
	return nil
}

// StoreOpaque persists only the search seed for a key whose bytes are
// held by an external keystore that will not export them. Retrieval
// yields Opaque material.
func (s *Store) StoreOpaque(ctx context.Context, userID string, searchSeed, salt []byte, kt KeyType) error {
	if userID == "" {
		return fmt.Errorf("%w: user id required", dropcore.ErrConfiguration)
	}
	if len(searchSeed) != crypto.KeySize {
		return fmt.Errorf("%w: search seed must be %d bytes", dropcore.ErrConfiguration, crypto.KeySize)
	}
	rec := storedKey{
		Type:       kt,
		Salt:       salt,
		SearchSeed: searchSeed,
		CreatedAt:  time.Now().Unix(),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, kvKey(userID), b)
}

// Retrieve loads the key for userID. Unreadable bytes fail loudly with
// ErrCorruptKeyStore; retrieval never regenerates over stored material.
func (s *Store) Retrieve(ctx context.Context, userID string) (Material, error) {
	b, err := s.kv.Get(ctx, kvKey(userID))
	if errors.Is(err, storage.ErrNotFound) {
		return Material{}, dropcore.ErrKeyNotFound
	}
	if err != nil {
		return Material{}, err
	}
	var rec storedKey
	if err := json.Unmarshal(b, &rec); err != nil {
		return Material{}, fmt.Errorf("%w: unreadable key record for %s", dropcore.ErrCorruptKeyStore, userID)
	}
	if len(rec.SearchSeed) != crypto.KeySize {
		return Material{}, fmt.Errorf("%w: bad search seed for %s", dropcore.ErrCorruptKeyStore, userID)
	}
	if !rec.Extractable {
		return Opaque(rec.SearchSeed, rec.Salt, rec.Type), nil
	}
	key, err := crypto.OpenX(s.deviceKey, rec.KeyWrap, []byte(kvKey(userID)))
	if err != nil {
		return Material{}, fmt.Errorf("%w: key unwrap failed for %s", dropcore.ErrCorruptKeyStore, userID)
	}
	_ = crypto.LockKey(key)
	return Extractable(key, rec.SearchSeed, rec.Salt, rec.Type), nil
}

// HasStoredKey reports whether a key exists without unwrapping it.
func (s *Store) HasStoredKey(ctx context.Context, userID string) (bool, error) {
	_, err := s.kv.Get(ctx, kvKey(userID))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the key irreversibly. Ciphertext produced under it
// becomes permanently unrecoverable; that is the point.
func (s *Store) Delete(ctx context.Context, userID string) error {
	if err := s.kv.Delete(ctx, kvKey(userID)); err != nil {
		return err
	}
	s.log.Info().Str("user", userID).Msg("master key deleted")
	return nil
}

// Discard zeroes extractable key bytes and releases the mlock pin.
func Discard(m Material) {
	if b, ok := m.Bytes(); ok {
		crypto.Zero(b)
		_ = crypto.UnlockKey(b)
	}
}
