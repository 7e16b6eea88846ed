package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/syntrise/dropcore/internal/dropcore"
)

// FileKV is a file-per-key KV for minimal deployments and tests: no
// database, just 0600 files under one directory.
type FileKV struct{ dir string }

func NewFileKV(dir string) *FileKV {
	_ = os.MkdirAll(dir, 0o700)
	return &FileKV{dir: dir}
}

// path flattens hierarchical keys ("masterkey/u1") into one filename.
func (f *FileKV) path(key string) string {
	name := strings.NewReplacer("/", "_", string(os.PathSeparator), "_").Replace(key)
	return filepath.Join(f.dir, name+".bin")
}

func (f *FileKV) Get(_ context.Context, key string) ([]byte, error) {
	b, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dropcore.ErrStorageUnavailable, err)
	}
	return b, nil
}

func (f *FileKV) Put(_ context.Context, key string, val []byte) error {
	if err := os.WriteFile(f.path(key), val, 0o600); err != nil {
		return fmt.Errorf("%w: %v", dropcore.ErrStorageUnavailable, err)
	}
	return nil
}

func (f *FileKV) Delete(_ context.Context, key string) error {
	err := os.Remove(f.path(key))
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("%w: %v", dropcore.ErrStorageUnavailable, err)
}
