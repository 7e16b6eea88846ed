//go:build !linux && !darwin

package crypto

func LockKey(b []byte) error   { return nil }
func UnlockKey(b []byte) error { return nil }
