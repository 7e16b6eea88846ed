//go:build linux || darwin

package crypto

import "golang.org/x/sys/unix"

// LockKey pins key material so it cannot be swapped to disk. Best
// effort: callers ignore the error on platforms with a low memlock limit.
func LockKey(b []byte) error { return unix.Mlock(b) }

// UnlockKey releases a LockKey pin. Call after Zero.
func UnlockKey(b []byte) error { return unix.Munlock(b) }
