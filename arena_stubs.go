//go:build !linux && !darwin

package delaycam

// allocateArena falls back to the Go heap where anonymous mmap is unavailable.
func allocateArena(size int64) (*planeArena, error) {
	return &planeArena{raw: make([]byte, roundToPage(size)), size: size}, nil
}

func releaseArena(raw []byte) error { return nil }
