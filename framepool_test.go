package delaycam

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, capacity int, sizes ...int) *FramePool {
	t.Helper()
	p, err := NewFramePool(newTestFrame(0, sizes...), capacity,
		WithMemoryProbe(FixedMemory(1<<30)), WithPrewarm(false))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, p.Close()) })
	return p
}

// planeFill returns the byte every position of plane i holds.
func planeFill(t *testing.T, f *PooledFrame, i int) byte {
	t.Helper()
	require.NotNil(t, f)
	plane := f.Plane(i)
	require.NotEmpty(t, plane)
	for _, b := range plane {
		require.Equal(t, plane[0], b)
	}
	return plane[0]
}

func TestFramePool_FillAndWrap(t *testing.T) {
	p := newTestPool(t, 3, 16, 4, 4)

	// A, B, C fill the pool
	for _, fill := range []byte{'A', 'B', 'C'} {
		p.StoreFrame(newTestFrame(fill, 16, 4, 4))
	}
	require.True(t, p.IsFull())
	require.Equal(t, 3, p.Size())
	require.Equal(t, byte('A'), planeFill(t, p.OldestFrame(), 0))
	require.Equal(t, byte('C'), planeFill(t, p.LatestFrame(), 0))

	// D overwrites A
	stored := p.StoreFrame(newTestFrame('D', 16, 4, 4))
	require.Equal(t, byte('D'), planeFill(t, stored, 2))
	require.Equal(t, byte('B'), planeFill(t, p.OldestFrame(), 0))
	require.Equal(t, byte('D'), planeFill(t, p.LatestFrame(), 0))
	require.Equal(t, uint64(4), p.TotalFramesStored())
	require.Equal(t, 3, p.Size())
	require.Equal(t, 3, p.Capacity())
	require.Zero(t, p.SizeMismatches())
}

func TestFramePool_ForDelay(t *testing.T) {
	p, err := NewFramePoolForDelay(newTestFrame(0, 8), 2*time.Second, 30,
		WithMemoryProbe(FixedMemory(1<<30)), WithPrewarm(false))
	require.NoError(t, err)
	defer p.Close()
	require.Equal(t, 60, p.Capacity())

	// Fractional frames round down
	p2, err := NewFramePoolForDelay(newTestFrame(0, 8), 1500*time.Millisecond, 29.97,
		WithMemoryProbe(FixedMemory(1<<30)))
	require.NoError(t, err)
	defer p2.Close()
	require.Equal(t, 44, p2.Capacity())

	for _, tc := range []struct {
		delay time.Duration
		fps   float64
	}{
		{0, 30},
		{time.Second, 0},
		{-time.Second, 30},
		{10 * time.Millisecond, 30}, // 0.3 frames
	} {
		_, err := NewFramePoolForDelay(newTestFrame(0, 8), tc.delay, tc.fps)
		require.ErrorIs(t, err, ErrInvalidCapacity, "delay=%v fps=%v", tc.delay, tc.fps)
	}
}

func TestFramePool_ZeroCapacity(t *testing.T) {
	p := newTestPool(t, 0, 16)

	require.Nil(t, p.StoreFrame(newTestFrame(1, 16)))
	require.Nil(t, p.OldestFrame())
	require.Nil(t, p.LatestFrame())
	require.Nil(t, p.Frame(0))
	require.Zero(t, p.Size())
	require.Zero(t, p.TotalFramesStored())
}

func TestFramePool_EmptyQueries(t *testing.T) {
	p := newTestPool(t, 4, 16)
	require.False(t, p.IsFull())
	require.Nil(t, p.OldestFrame())
	require.Nil(t, p.LatestFrame())
	require.Nil(t, p.Frame(0))
	require.Nil(t, p.Frame(-1))
}

func TestFramePool_ResourceExhausted(t *testing.T) {
	sample := newTestFrame(0, 1000, 250, 250)

	_, err := NewFramePool(sample, 10, WithMemoryProbe(FixedMemory(15000)))
	require.ErrorIs(t, err, ErrResourceExhausted)

	var rex *ResourceExhaustedError
	require.True(t, errors.As(err, &rex))
	require.Equal(t, uint64(15000), rex.Required)
	require.Equal(t, uint64(15000), rex.Available)

	// One byte more is enough
	p, err := NewFramePool(sample, 10, WithMemoryProbe(FixedMemory(15001)), WithPrewarm(false))
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestFramePool_HugeCapacity(t *testing.T) {
	// Sizing must reject, not wrap around or reach the allocator
	for _, tc := range []struct {
		sample   testFrame
		capacity int
	}{
		{newTestFrame(0, 1<<20), 1 << 44},
		{newTestFrame(0, 1<<20, 1<<20), math.MaxInt32 + 1},
		{newTestFrame(0, 0), 1 << 40},
	} {
		var err error
		require.NotPanics(t, func() {
			_, err = NewFramePool(tc.sample, tc.capacity, WithMemoryProbe(FixedMemory(1<<30)))
		})
		require.ErrorIs(t, err, ErrInvalidCapacity)
	}

	// Within the slot bound a large request is a memory problem
	_, err := NewFramePool(newTestFrame(0, 1<<20), math.MaxInt32, WithMemoryProbe(FixedMemory(1<<30)))
	require.ErrorIs(t, err, ErrResourceExhausted)
}

func TestFramePool_ProbeFailure(t *testing.T) {
	probeErr := errors.New("no /proc")
	_, err := NewFramePool(newTestFrame(0, 16), 4, WithMemoryProbe(func() (uint64, error) {
		return 0, probeErr
	}))
	require.ErrorIs(t, err, probeErr)
}

func TestFramePool_InvalidArguments(t *testing.T) {
	_, err := NewFramePool(nil, 4)
	require.ErrorIs(t, err, ErrInvalidSampleFrame)

	_, err = NewFramePool(testFrame{}, 4)
	require.ErrorIs(t, err, ErrInvalidSampleFrame)

	_, err = NewFramePool(newTestFrame(0, 16), -1)
	require.ErrorIs(t, err, ErrInvalidCapacity)
}

// TestFramePool_Ordering checks the index invariants for every fill state
// of several capacities.
func TestFramePool_Ordering(t *testing.T) {
	for capacity := 1; capacity <= 5; capacity++ {
		t.Run(fmt.Sprintf("capacity=%d", capacity), func(t *testing.T) {
			p := newTestPool(t, capacity, 8)

			var lastSeq uint64
			for n := 1; n <= 3*capacity+2; n++ {
				stored := p.StoreFrame(newTestFrame(byte(n), 8))
				if n > 1 {
					require.Equal(t, lastSeq+1, stored.Sequence())
				}
				lastSeq = stored.Sequence()

				size := p.Size()
				require.Equal(t, min(n, capacity), size)
				require.Equal(t, uint64(n), p.TotalFramesStored())
				require.Equal(t, n >= capacity, p.IsFull())
				require.Same(t, p.OldestFrame(), p.Frame(0))
				require.Same(t, p.LatestFrame(), p.Frame(size-1))
				require.Same(t, stored, p.LatestFrame())
				require.Nil(t, p.Frame(size))

				// Logical order is store order
				for i := 0; i < size; i++ {
					f := p.Frame(i)
					require.Equal(t, uint64(n-size+i), f.Sequence())
					require.Equal(t, byte(n-size+i+1), planeFill(t, f, 0))
				}
			}
		})
	}
}

func TestFramePool_RoundTrip(t *testing.T) {
	p := newTestPool(t, 2, 32, 8)

	src := testFrame{make([]byte, 32), make([]byte, 8)}
	for i := range src[0] {
		src[0][i] = byte(i * 7)
	}
	copy(src[1], "chroma!!")

	stored := p.StoreFrame(src)
	require.Equal(t, 2, stored.NumPlanes())
	require.Equal(t, src[0], stored.Plane(0))
	require.Equal(t, src[1], stored.Plane(1))
	require.Nil(t, stored.Plane(2))
	require.Equal(t, 40, p.BytesPerFrame())
	require.Equal(t, []int{32, 8}, p.PlaneSizes())

	// Stored bytes are a copy
	src[0][0] = 0xFF
	require.Equal(t, byte(0), stored.Plane(0)[0])
}

func TestFramePool_SizeMismatch(t *testing.T) {
	p := newTestPool(t, 4, 16, 4)

	// Short plane: prefix copied, remainder keeps old content
	p.StoreFrame(newTestFrame(1, 8, 4))
	require.Equal(t, uint64(1), p.SizeMismatches())
	f := p.LatestFrame()
	require.Equal(t, newTestFrame(1, 8)[0], f.Plane(0)[:8])

	// Long plane: truncated to the slot
	f = p.StoreFrame(newTestFrame(2, 64, 4))
	require.Len(t, f.Plane(0), 16)
	require.Equal(t, uint64(2), p.SizeMismatches())

	// Missing plane
	p.StoreFrame(newTestFrame(3, 16))
	require.Equal(t, uint64(3), p.SizeMismatches())

	// Extra plane is ignored but counted
	p.StoreFrame(newTestFrame(4, 16, 4, 4))
	require.Equal(t, uint64(4), p.SizeMismatches())

	// Matching layout is not
	p.StoreFrame(newTestFrame(5, 16, 4))
	require.Equal(t, uint64(4), p.SizeMismatches())
}

func TestFramePool_Prewarm(t *testing.T) {
	p, err := NewFramePool(newTestFrame(0, 10000), 3,
		WithMemoryProbe(FixedMemory(1<<30)), WithPrewarm(true))
	require.NoError(t, err)
	defer p.Close()

	p.StoreFrame(newTestFrame(9, 10000))
	require.Equal(t, byte(9), planeFill(t, p.OldestFrame(), 0))
}

func TestFramePool_Close(t *testing.T) {
	p, err := NewFramePool(newTestFrame(0, 64), 2, WithMemoryProbe(FixedMemory(1<<30)))
	require.NoError(t, err)
	p.StoreFrame(newTestFrame(1, 64))
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	require.Zero(t, p.Capacity())
	require.Nil(t, p.StoreFrame(newTestFrame(1, 64)))
}
