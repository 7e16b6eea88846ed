// Package dropcore holds the error taxonomy and policy types shared by
// every component of the capture core.
package dropcore

import "errors"

var (
	// ErrConfiguration signals a missing required input, e.g. deriving a
	// key in password mode without a password.
	ErrConfiguration = errors.New("dropcore: missing required configuration")

	// ErrNotReady signals an operation attempted before the master key,
	// search key, or ledger has been initialized. Recoverable: initialize
	// and retry.
	ErrNotReady = errors.New("dropcore: not ready")

	// ErrAuthentication signals an AEAD tag mismatch on decrypt (wrong
	// key or corrupted ciphertext). Never results in garbage plaintext.
	ErrAuthentication = errors.New("dropcore: authentication failed")

	// ErrCorruptKeyStore signals stored key bytes that cannot be read
	// back. The store never silently regenerates over them.
	ErrCorruptKeyStore = errors.New("dropcore: corrupt key store")

	// ErrStorageUnavailable signals an unreachable local store; callers
	// treat encryption as not ready rather than crashing.
	ErrStorageUnavailable = errors.New("dropcore: storage unavailable")

	// ErrChainIntegrity signals a broken audit chain. Reported, never
	// auto-repaired: repair would defeat tamper detection.
	ErrChainIntegrity = errors.New("dropcore: audit chain integrity violation")

	// ErrNetwork signals a transient backend failure; work is queued for
	// retry instead of failing the operation.
	ErrNetwork = errors.New("dropcore: network failure")

	// ErrKeyNotFound is returned by key retrieval when no key is stored
	// for the user.
	ErrKeyNotFound = errors.New("dropcore: key not found")
)
