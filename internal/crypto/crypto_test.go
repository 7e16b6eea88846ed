package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func randBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return b
}

func TestDeriveKeyDeterministic(t *testing.T) {
	k1, salt, err := DeriveKey("correct horse battery", nil)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(salt) != SaltSize {
		t.Fatalf("salt length = %d, want %d", len(salt), SaltSize)
	}
	k2, _, err := DeriveKey("correct horse battery", salt)
	if err != nil {
		t.Fatalf("derive again: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatal("same password+salt produced different keys")
	}
	k3, _, err := DeriveKey("correct horse battery", randBytes(t, SaltSize))
	if err != nil {
		t.Fatalf("derive third: %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Fatal("different salts produced identical keys")
	}
}

func TestDeriveKeyEmptyPassword(t *testing.T) {
	if _, _, err := DeriveKey("", nil); err != ErrEmptyPassword {
		t.Fatalf("err = %v, want ErrEmptyPassword", err)
	}
}

func TestSealOpenGCMRoundTrip(t *testing.T) {
	key := randBytes(t, KeySize)
	pt := randBytes(t, 4096)
	aad := []byte("record:abc")
	ct, nonce, err := SealGCM(key, pt, aad)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if len(nonce) != GCMNonceSize {
		t.Fatalf("nonce length = %d, want %d", len(nonce), GCMNonceSize)
	}
	out, err := OpenGCM(key, ct, nonce, aad)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(pt, out) {
		t.Fatal("plaintext mismatch")
	}
}

func TestSealGCMFreshNonce(t *testing.T) {
	key := randBytes(t, KeySize)
	ct1, n1, err := SealGCM(key, []byte("data"), nil)
	if err != nil {
		t.Fatalf("seal1: %v", err)
	}
	ct2, n2, err := SealGCM(key, []byte("data"), nil)
	if err != nil {
		t.Fatalf("seal2: %v", err)
	}
	if bytes.Equal(n1, n2) {
		t.Fatal("expected distinct nonces")
	}
	if bytes.Equal(ct1, ct2) {
		t.Fatal("expected distinct ciphertexts for identical plaintext")
	}
}

func TestOpenGCMTamper(t *testing.T) {
	key := randBytes(t, KeySize)
	ct, nonce, err := SealGCM(key, []byte("hello"), nil)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	mut := append([]byte(nil), ct...)
	mut[0] ^= 0xFF
	if _, err := OpenGCM(key, mut, nonce, nil); err != ErrAuthFailed {
		t.Fatalf("tampered open err = %v, want ErrAuthFailed", err)
	}
}

func TestOpenGCMWrongKey(t *testing.T) {
	key := randBytes(t, KeySize)
	ct, nonce, err := SealGCM(key, []byte("hello"), nil)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	other := randBytes(t, KeySize)
	if _, err := OpenGCM(other, ct, nonce, nil); err != ErrAuthFailed {
		t.Fatalf("wrong-key open err = %v, want ErrAuthFailed", err)
	}
}

func TestSealGCMBadKeySize(t *testing.T) {
	if _, _, err := SealGCM(randBytes(t, 16), []byte("x"), nil); err != ErrInvalidKeySize {
		t.Fatalf("err = %v, want ErrInvalidKeySize", err)
	}
}

func TestSealOpenXRoundTrip(t *testing.T) {
	key := randBytes(t, KeySize)
	pt := randBytes(t, 64)
	blob, err := SealX(key, pt, []byte("key-wrap"))
	if err != nil {
		t.Fatalf("sealx: %v", err)
	}
	out, err := OpenX(key, blob, []byte("key-wrap"))
	if err != nil {
		t.Fatalf("openx: %v", err)
	}
	if !bytes.Equal(pt, out) {
		t.Fatal("plaintext mismatch")
	}
	if _, err := OpenX(key, blob, []byte("other-aad")); err == nil {
		t.Fatal("expected failure with mismatched AAD")
	}
}

func TestDeriveSubkeyStable(t *testing.T) {
	secret := randBytes(t, KeySize)
	a, err := DeriveSubkey(secret, nil, "dropcore/test/v1", 32)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, err := DeriveSubkey(secret, nil, "dropcore/test/v1", 32)
	if err != nil {
		t.Fatalf("derive again: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("subkey not deterministic")
	}
	c, err := DeriveSubkey(secret, nil, "dropcore/test/v2", 32)
	if err != nil {
		t.Fatalf("derive other domain: %v", err)
	}
	if bytes.Equal(a, c) {
		t.Fatal("different domains produced identical subkeys")
	}
}
