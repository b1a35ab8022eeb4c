//go:build linux || darwin

package delaycam

import (
	"golang.org/x/sys/unix"
)

// mapReadOnly maps [0, length) of fd shared and read-only, so the process
// sees what the device writes and cannot scribble on it.
func mapReadOnly(fd int, length int64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	return unix.Mmap(fd, 0, int(length), unix.PROT_READ, unix.MAP_SHARED)
}

func unmapView(b []byte) error {
	return unix.Munmap(b)
}
