package delaycam

// Frame is a plane-structured pixel payload. The bytes are opaque to the
// pipeline; only plane count and plane lengths matter.
type Frame interface {
	NumPlanes() int
	Plane(i int) []byte
}

// PooledFrame is one slot of a FramePool. Its planes are views into the
// pool's own arenas and stay valid until the pool is closed. The slot is
// overwritten in place once the pool wraps around, so callers must not hold
// on to the bytes past the next StoreFrame that targets the same slot.
// Callers must not modify the returned plane bytes.
type PooledFrame struct {
	planes   [][]byte
	sequence uint64
}

func (f *PooledFrame) NumPlanes() int { return len(f.planes) }

// Plane returns the i-th plane, or nil if i is out of range.
func (f *PooledFrame) Plane(i int) []byte {
	if i < 0 || i >= len(f.planes) {
		return nil
	}
	return f.planes[i]
}

// Sequence is the pool-assigned store counter at the time this slot was written.
func (f *PooledFrame) Sequence() uint64 { return f.sequence }
