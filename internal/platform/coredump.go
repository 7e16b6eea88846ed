//go:build linux || darwin

package platform

import "golang.org/x/sys/unix"

// DisableCoreDumps keeps key material out of crash dumps.
func DisableCoreDumps() error {
	var rlim unix.Rlimit
	return unix.Setrlimit(unix.RLIMIT_CORE, &rlim)
}
