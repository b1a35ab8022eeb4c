package delaycam

// planeArena is the physical slab backing one plane of every slot in a
// FramePool. It is allocated once when the pool is created and released
// when the pool is closed; nothing in the hot path allocates.
type planeArena struct {
	raw    []byte // full mapping, page rounded
	size   int64  // bytes handed out to slots
	mapped bool   // raw came from mmap and must be unmapped
}

const pageSize = 4096

func roundToPage(size int64) int64 {
	return (size + pageSize - 1) & ^(pageSize - 1)
}

// newPlaneArena allocates size bytes for slot storage. With prewarm set, every
// page is touched so the kernel commits physical RAM now rather than on the
// first frame copy.
func newPlaneArena(size int64, prewarm bool) (*planeArena, error) {
	if size <= 0 {
		return &planeArena{}, nil
	}
	a, err := allocateArena(size)
	if err != nil {
		return nil, err
	}
	if prewarm {
		for i := 0; i < len(a.raw); i += pageSize {
			a.raw[i] = 0
		}
	}
	return a, nil
}

// Bytes returns the usable region of the arena.
func (a *planeArena) Bytes() []byte {
	if a.raw == nil {
		return nil
	}
	return a.raw[:a.size]
}

// Slot returns the idx-th slotSize chunk of the arena.
func (a *planeArena) Slot(idx, slotSize int) []byte {
	if slotSize == 0 {
		return a.Bytes()[:0]
	}
	off := idx * slotSize
	return a.raw[off : off+slotSize : off+slotSize]
}

// Release hands the memory back to the OS. The arena must not be used after.
func (a *planeArena) Release() error {
	if a.raw == nil {
		return nil
	}
	raw := a.raw
	a.raw = nil
	a.size = 0
	if !a.mapped {
		return nil
	}
	return releaseArena(raw)
}
