//go:build linux || darwin

package delaycam

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// allocateArena maps anonymous private memory rounded up to the page boundary.
func allocateArena(size int64) (*planeArena, error) {
	data, err := unix.Mmap(-1, 0, int(roundToPage(size)),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap arena of %d bytes: %w", size, err)
	}
	return &planeArena{raw: data, size: size, mapped: true}, nil
}

func releaseArena(raw []byte) error {
	// Drop the pages first so RSS falls even if munmap is deferred by the kernel.
	_ = unix.Madvise(raw, unix.MADV_DONTNEED)
	return unix.Munmap(raw)
}
