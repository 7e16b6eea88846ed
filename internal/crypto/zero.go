package crypto

// Zero overwrites a byte slice in memory with zeros. Works on every
// platform; pair with LockKey/UnlockKey where mlock is available.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
