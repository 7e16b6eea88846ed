package envelope

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/syntrise/dropcore/internal/dropcore"
	"github.com/syntrise/dropcore/internal/record"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	if _, err := rand.Read(k); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)
	lat := 48.8584
	d := record.New("u1", "note")
	d.Text = "hello world"
	d.Note = "remember this"
	d.Tags = []string{"paris", "travel"}
	d.Latitude = &lat

	enc, err := EncryptRecord(d, key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if enc.EncryptionVersion != CurrentVersion {
		t.Fatalf("version = %d, want %d", enc.EncryptionVersion, CurrentVersion)
	}
	if enc.Text != "" || enc.Note != "" || enc.Tags != nil || enc.Latitude != nil {
		t.Fatal("sensitive fields leaked into encrypted record")
	}
	if enc.Category != "note" || enc.ID != d.ID || !enc.CreatedAt.Equal(d.CreatedAt) {
		t.Fatal("visible fields changed by encryption")
	}
	if len(enc.Nonce) != 12 {
		t.Fatalf("nonce length = %d, want 12", len(enc.Nonce))
	}

	dec, err := DecryptRecord(enc, key)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if dec.Text != "hello world" || dec.Note != "remember this" {
		t.Fatal("sensitive text not reconstructed")
	}
	if len(dec.Tags) != 2 || dec.Tags[0] != "paris" {
		t.Fatalf("tags = %v", dec.Tags)
	}
	if dec.Latitude == nil || *dec.Latitude != lat {
		t.Fatal("latitude not reconstructed")
	}
	if dec.Category != "note" {
		t.Fatal("visible fields changed by decryption")
	}
}

func TestEncryptNoSensitivePassThrough(t *testing.T) {
	key := testKey(t)
	d := record.New("u1", "bookmark")
	d.Favorite = true

	enc, err := EncryptRecord(d, key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if enc.EncryptionVersion != 0 || enc.Ciphertext != nil {
		t.Fatal("record without sensitive fields should stay cleartext")
	}
	dec, err := DecryptRecord(enc, key)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !dec.Favorite || dec.Category != "bookmark" {
		t.Fatal("version-0 pass-through altered record")
	}
}

func TestEncryptKeepsUnopenedEnvelope(t *testing.T) {
	key := testKey(t)
	d := record.New("u1", "note")
	d.Text = "the only copy"
	enc, err := EncryptRecord(d, key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	enc.Ciphertext[0] ^= 0xFF

	failed, err := DecryptRecord(enc, key)
	if !errors.Is(err, dropcore.ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}

	// Re-encrypting the flagged record must not strip its envelope:
	// the ciphertext may be the only remaining copy of the fields.
	again, err := EncryptRecord(failed, key)
	if err != nil {
		t.Fatalf("re-encrypt: %v", err)
	}
	if again.EncryptionVersion != CurrentVersion || len(again.Ciphertext) == 0 {
		t.Fatalf("envelope destroyed: version=%d ciphertext=%d bytes",
			again.EncryptionVersion, len(again.Ciphertext))
	}
	if !bytes.Equal(again.Ciphertext, failed.Ciphertext) || !bytes.Equal(again.Nonce, failed.Nonce) {
		t.Fatal("flagged record rewritten instead of passed through")
	}
	if !again.DecryptFailed {
		t.Fatal("DecryptFailed flag dropped")
	}

	// Same for a record that is already encrypted.
	enc2, err := EncryptRecord(d, key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	passthrough, err := EncryptRecord(enc2, key)
	if err != nil {
		t.Fatalf("double encrypt: %v", err)
	}
	if !bytes.Equal(passthrough.Ciphertext, enc2.Ciphertext) {
		t.Fatal("already-encrypted record re-sealed")
	}
}

func TestFreshNoncePerEncryption(t *testing.T) {
	key := testKey(t)
	d := record.New("u1", "note")
	d.Text = "same plaintext"

	e1, err := EncryptRecord(d, key)
	if err != nil {
		t.Fatalf("encrypt 1: %v", err)
	}
	e2, err := EncryptRecord(d, key)
	if err != nil {
		t.Fatalf("encrypt 2: %v", err)
	}
	if bytes.Equal(e1.Nonce, e2.Nonce) {
		t.Fatal("nonce reused")
	}
	if bytes.Equal(e1.Ciphertext, e2.Ciphertext) {
		t.Fatal("identical ciphertext for successive encryptions")
	}
}

func TestDecryptCorruptedCiphertext(t *testing.T) {
	key := testKey(t)
	d := record.New("u1", "note")
	d.Text = "secret"
	enc, err := EncryptRecord(d, key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	enc.Ciphertext[0] ^= 0xFF

	dec, err := DecryptRecord(enc, key)
	if !errors.Is(err, dropcore.ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
	if !dec.DecryptFailed {
		t.Fatal("expected DecryptFailed flag")
	}
	if dec.Category != "note" || dec.ID != d.ID {
		t.Fatal("visible fields lost on failed decrypt")
	}
	if dec.Text != "" {
		t.Fatal("garbage plaintext returned")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	d := record.New("u1", "note")
	d.Text = "secret"
	enc, err := EncryptRecord(d, testKey(t))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptRecord(enc, testKey(t)); !errors.Is(err, dropcore.ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
}

func TestCiphertextBoundToRecordID(t *testing.T) {
	key := testKey(t)
	d := record.New("u1", "note")
	d.Text = "secret"
	enc, err := EncryptRecord(d, key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	enc.ID = "different-id"
	if _, err := DecryptRecord(enc, key); !errors.Is(err, dropcore.ErrAuthentication) {
		t.Fatalf("moved ciphertext err = %v, want ErrAuthentication", err)
	}
}

func TestBatchDecryptIsolation(t *testing.T) {
	key := testKey(t)
	var drops []record.Drop
	for i := 0; i < 3; i++ {
		d := record.New("u1", "note")
		d.Text = "entry"
		enc, err := EncryptRecord(d, key)
		if err != nil {
			t.Fatalf("encrypt %d: %v", i, err)
		}
		drops = append(drops, enc)
	}
	drops[1].Ciphertext[3] ^= 0xFF

	out, failed, err := DecryptAll(context.Background(), drops, key)
	if err != nil {
		t.Fatalf("batch err: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d records, want all 3", len(out))
	}
	if len(failed) != 1 || failed[0].ID != drops[1].ID {
		t.Fatalf("failed = %+v, want exactly the corrupted record", failed)
	}
	if !out[1].DecryptFailed {
		t.Fatal("corrupted record not flagged")
	}
	if out[0].Text != "entry" || out[2].Text != "entry" {
		t.Fatal("healthy records not decrypted")
	}
}

func TestBatchCancellation(t *testing.T) {
	key := testKey(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	drops := []record.Drop{record.New("u", "note")}
	if _, _, err := EncryptAll(ctx, drops, key); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
