package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/syntrise/dropcore/internal/dropcore"
)

func TestFileKVRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := NewFileKV(t.TempDir())

	if _, err := kv.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing err = %v, want ErrNotFound", err)
	}
	if err := kv.Put(ctx, "masterkey/u1", []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := kv.Get(ctx, "masterkey/u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, []byte("v1")) {
		t.Fatalf("got %q, want v1", got)
	}
	if err := kv.Delete(ctx, "masterkey/u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := kv.Delete(ctx, "masterkey/u1"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestFileKVUnreachableDir(t *testing.T) {
	ctx := context.Background()
	// A regular file where the KV directory should be makes every
	// operation fail with something other than "not found".
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	kv := NewFileKV(blocker)

	if err := kv.Put(ctx, "k", []byte("v")); !errors.Is(err, dropcore.ErrStorageUnavailable) {
		t.Fatalf("put err = %v, want ErrStorageUnavailable", err)
	}
	if _, err := kv.Get(ctx, "k"); !errors.Is(err, dropcore.ErrStorageUnavailable) {
		t.Fatalf("get err = %v, want ErrStorageUnavailable", err)
	}
	if err := kv.Delete(ctx, "k"); !errors.Is(err, dropcore.ErrStorageUnavailable) {
		t.Fatalf("delete err = %v, want ErrStorageUnavailable", err)
	}
}
