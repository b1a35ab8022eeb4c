package delaycam

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/dustin/go-humanize"
)

// FramePool is a fixed-capacity ring of frame copies with built-in delay
// semantics. All memory is allocated in NewFramePool: one contiguous arena
// per plane, carved into equally sized slots. StoreFrame is a bounded copy
// into the slot at the write cursor and never allocates.
//
// A FramePool is not safe for concurrent use; it belongs to the consumer.
type FramePool struct {
	arenas     []*planeArena
	frames     []PooledFrame
	planeSizes []int
	currentPos int    // slot written by the next StoreFrame
	frameCount uint64 // total frames stored, unbounded
	mismatches uint64 // stores whose layout differed from the slot layout
}

// NewFramePool creates a pool with room for capacity copies of frames
// shaped like sample. It fails with *ResourceExhaustedError when the pool
// would need at least as much memory as the probe reports available.
// A zero capacity yields an empty pool on which every operation is a no-op.
func NewFramePool(sample Frame, capacity int, opts ...Option) (*FramePool, error) {
	return newFramePool(sample, capacity, newConfig(opts))
}

// NewFramePoolForDelay sizes the pool to hold delay worth of frames at frameRate.
func NewFramePoolForDelay(sample Frame, delay time.Duration, frameRate float64, opts ...Option) (*FramePool, error) {
	capacity, err := delayCapacity(delay, frameRate)
	if err != nil {
		return nil, err
	}
	return newFramePool(sample, capacity, newConfig(opts))
}

// maxPoolCapacity bounds the slot count so slot bookkeeping stays small.
const maxPoolCapacity = math.MaxInt32

// delayCapacity computes floor(delay × frameRate).
func delayCapacity(delay time.Duration, frameRate float64) (int, error) {
	frames := math.Floor(delay.Seconds() * frameRate)
	if math.IsNaN(frames) || frames <= 0 {
		return 0, fmt.Errorf("%w: %v at %.2f fps is %v frames", ErrInvalidCapacity, delay, frameRate, frames)
	}
	if frames > maxPoolCapacity {
		return 0, fmt.Errorf("%w: %v frames", ErrInvalidCapacity, frames)
	}
	return int(frames), nil
}

func newFramePool(sample Frame, capacity int, cfg config) (*FramePool, error) {
	if sample == nil || sample.NumPlanes() == 0 {
		return nil, ErrInvalidSampleFrame
	}
	if capacity < 0 || capacity > maxPoolCapacity {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	log := componentLogger(cfg.Logger, "framepool")

	// Calculate the required memory
	numPlanes := sample.NumPlanes()
	planeSizes := make([]int, numPlanes)
	var required uint64
	for plane := 0; plane < numPlanes; plane++ {
		planeSizes[plane] = len(sample.Plane(plane))
		hi, lo := bits.Mul64(uint64(planeSizes[plane]), uint64(capacity))
		var carry uint64
		required, carry = bits.Add64(required, lo, 0)
		if hi != 0 || carry != 0 || required > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d frames of this layout overflow the address space",
				ErrInvalidCapacity, capacity)
		}
	}

	// Check there is enough free memory before touching any of it
	if required > 0 {
		probe := cfg.MemoryProbe
		if probe == nil {
			probe = AvailableMemory
		}
		available, err := probe()
		if err != nil {
			return nil, fmt.Errorf("probe available memory: %w", err)
		}
		if required >= available {
			log.Error("frame pool rejected",
				"required", humanize.IBytes(required),
				"available", humanize.IBytes(available))
			return nil, &ResourceExhaustedError{Required: required, Available: available}
		}
		log.Info("sizing frame pool",
			"required", humanize.IBytes(required),
			"available", humanize.IBytes(available))
	}

	p := &FramePool{
		arenas:     make([]*planeArena, numPlanes),
		frames:     make([]PooledFrame, capacity),
		planeSizes: planeSizes,
	}

	// Pre-allocate memory for each plane across all frames
	for plane := 0; plane < numPlanes; plane++ {
		arena, err := newPlaneArena(int64(planeSizes[plane])*int64(capacity), cfg.Prewarm)
		if err != nil {
			p.Close()
			return nil, &ResourceExhaustedError{Required: required, Err: err}
		}
		p.arenas[plane] = arena
	}

	// Point every slot at its section of each plane arena
	for idx := range p.frames {
		p.frames[idx].planes = make([][]byte, numPlanes)
		for plane := 0; plane < numPlanes; plane++ {
			p.frames[idx].planes[plane] = p.arenas[plane].Slot(idx, planeSizes[plane])
		}
	}

	log.Info("created frame pool",
		"frames", capacity,
		"planes", numPlanes,
		"size", humanize.IBytes(required))
	return p, nil
}

// StoreFrame copies f into the slot at the write cursor and returns that slot.
// Each plane copies min(source, slot) bytes; a layout that differs from the
// pool's is truncated and counted in SizeMismatches. Returns nil for a
// zero-capacity pool.
func (p *FramePool) StoreFrame(f Frame) *PooledFrame {
	if len(p.frames) == 0 {
		return nil
	}

	frame := &p.frames[p.currentPos]
	frame.sequence = p.frameCount

	numPlanes := min(f.NumPlanes(), len(frame.planes))
	mismatch := f.NumPlanes() != len(frame.planes)
	for plane := 0; plane < numPlanes; plane++ {
		src := f.Plane(plane)
		dst := frame.planes[plane]
		if len(src) != len(dst) {
			mismatch = true
		}
		copy(dst, src)
	}
	if mismatch {
		p.mismatches++
	}

	p.frameCount++
	p.currentPos = (p.currentPos + 1) % len(p.frames)
	return frame
}

// OldestFrame returns the frame that has been in the pool the longest.
// Before the pool wraps frames fill from slot 0, so the oldest is slot 0.
// Afterwards it is the slot at the write cursor, the one overwritten next.
func (p *FramePool) OldestFrame() *PooledFrame {
	if p.Size() == 0 {
		return nil
	}
	if p.frameCount <= uint64(len(p.frames)) {
		return &p.frames[0]
	}
	return &p.frames[p.currentPos]
}

// LatestFrame returns the most recently stored frame.
func (p *FramePool) LatestFrame() *PooledFrame {
	if p.Size() == 0 {
		return nil
	}
	latest := p.currentPos - 1
	if latest < 0 {
		latest = len(p.frames) - 1
	}
	return &p.frames[latest]
}

// Frame returns the frame at logical index, where 0 is the oldest and
// Size()-1 the latest. Returns nil when index is out of range.
func (p *FramePool) Frame(index int) *PooledFrame {
	if index < 0 || index >= p.Size() {
		return nil
	}
	if p.frameCount <= uint64(len(p.frames)) {
		return &p.frames[index]
	}
	return &p.frames[(p.currentPos+index)%len(p.frames)]
}

// IsFull reports whether every slot holds a frame.
func (p *FramePool) IsFull() bool { return p.frameCount >= uint64(len(p.frames)) }

// Capacity is the number of slots.
func (p *FramePool) Capacity() int { return len(p.frames) }

// Size is the number of live frames; it saturates at Capacity.
func (p *FramePool) Size() int {
	if p.frameCount >= uint64(len(p.frames)) {
		return len(p.frames)
	}
	return int(p.frameCount)
}

// TotalFramesStored counts every StoreFrame since creation.
func (p *FramePool) TotalFramesStored() uint64 { return p.frameCount }

// SizeMismatches counts stores whose plane layout did not match the pool's.
func (p *FramePool) SizeMismatches() uint64 { return p.mismatches }

// BytesPerFrame is the slot size summed over planes.
func (p *FramePool) BytesPerFrame() int {
	var n int
	for _, s := range p.planeSizes {
		n += s
	}
	return n
}

// PlaneSizes returns the fixed per-plane slot lengths.
func (p *FramePool) PlaneSizes() []int {
	return append([]int(nil), p.planeSizes...)
}

// Close releases the arenas. Frames obtained from the pool are invalid afterwards.
func (p *FramePool) Close() error {
	var errs []error
	for i, a := range p.arenas {
		if a == nil {
			continue
		}
		if err := a.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release plane %d: %w", i, err))
		}
		p.arenas[i] = nil
	}
	p.frames = nil
	p.currentPos = 0
	return errors.Join(errs...)
}
