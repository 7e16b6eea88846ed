// Package platform isolates device-level capabilities: the keychain that
// holds the device wrapping key, and process hardening.
package platform

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

// Keychain holds the device key that wraps master keys at rest.
// The file implementation stands in for an OS keystore; per-OS
// implementations can replace it via this interface.
type Keychain interface {
	Store(keyID string, secret []byte) error
	Load(keyID string) ([]byte, error)
}

type fileKeychain struct{ dir string }

func NewFileKeychain(dir string) (Keychain, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &fileKeychain{dir: dir}, nil
}

func (f *fileKeychain) Store(keyID string, secret []byte) error {
	return os.WriteFile(filepath.Join(f.dir, keyID+".key"), secret, 0o600)
}

func (f *fileKeychain) Load(keyID string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(f.dir, keyID+".key"))
	if os.IsNotExist(err) {
		return nil, os.ErrNotExist
	}
	return b, err
}

// LoadOrCreateDeviceKey returns the device wrapping key, generating and
// persisting one on first use.
func LoadOrCreateDeviceKey(kc Keychain, keyID string, size int) ([]byte, error) {
	if b, err := kc.Load(keyID); err == nil && len(b) == size {
		return b, nil
	}
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	if err := kc.Store(keyID, b); err != nil {
		return nil, fmt.Errorf("persist device key: %w", err)
	}
	return b, nil
}
