package delaycam

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// testFrame is a heap frame for feeding pools directly.
type testFrame [][]byte

func (f testFrame) NumPlanes() int { return len(f) }

func (f testFrame) Plane(i int) []byte {
	if i < 0 || i >= len(f) {
		return nil
	}
	return f[i]
}

// newTestFrame builds a frame whose every byte is fill.
func newTestFrame(fill byte, sizes ...int) testFrame {
	f := make(testFrame, len(sizes))
	for i, s := range sizes {
		f[i] = make([]byte, s)
		for j := range f[i] {
			f[i][j] = fill
		}
	}
	return f
}

// fakeBuffer is one temp file and the plane layout handed out for it.
type fakeBuffer struct {
	file   *os.File
	planes []PlaneDesc
}

// fakeDevice backs each buffer with a temp file, planes at consecutive
// offsets. Tests drive completions explicitly with Complete.
type fakeDevice struct {
	t          *testing.T
	planeSizes []int
	// lastPlaneSizes, when set, is the layout of the last buffer of each
	// configuration, as from a device that mixes formats.
	lastPlaneSizes []int

	// cb is held shared while a completion callback runs; Stop takes it
	// exclusively so no callback outlives Stop.
	cb sync.RWMutex

	mu       sync.Mutex
	handler  CompletionHandler
	buffers  map[uint64]fakeBuffer
	queued   []*Request
	running  bool
	seq      uint64
	nextID   uint64
	queueErr error

	configureErr error
	configured   int
	released     int
	afTriggers   int
}

func newFakeDevice(t *testing.T, planeSizes ...int) *fakeDevice {
	return &fakeDevice{t: t, planeSizes: planeSizes}
}

func (d *fakeDevice) Configure(cfg StreamConfig) ([]HardwareBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.configureErr != nil {
		return nil, d.configureErr
	}
	d.configured++

	d.buffers = make(map[uint64]fakeBuffer)
	var out []HardwareBuffer
	for i := 0; i < cfg.BufferCount; i++ {
		sizes := d.planeSizes
		if d.lastPlaneSizes != nil && i == cfg.BufferCount-1 {
			sizes = d.lastPlaneSizes
		}
		d.nextID++
		f, err := os.Create(filepath.Join(d.t.TempDir(), "buffer"))
		require.NoError(d.t, err)

		b := fakeBuffer{file: f}
		var total int64
		for _, s := range sizes {
			b.planes = append(b.planes, PlaneDesc{FD: int(f.Fd()), Offset: total, Length: s})
			total += int64(s)
		}
		require.NoError(d.t, f.Truncate(total))
		d.buffers[d.nextID] = b
		out = append(out, HardwareBuffer{ID: d.nextID, Planes: b.planes})
	}
	return out, nil
}

func (d *fakeDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = true
	return nil
}

func (d *fakeDevice) SetCompletionHandler(h CompletionHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

func (d *fakeDevice) Queue(req *Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queueErr != nil {
		return d.queueErr
	}
	if !d.running {
		return errors.New("fake device not running")
	}
	if req.Controls.AutofocusTrigger {
		d.afTriggers++
	}
	d.queued = append(d.queued, req)
	return nil
}

func (d *fakeDevice) setQueueErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queueErr = err
}

// skip advances the device sequence as if n frames were dropped.
func (d *fakeDevice) skip(n uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq += n
}

func (d *fakeDevice) inFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queued)
}

// Complete fills and completes up to n queued requests in FIFO order and
// returns how many it completed. Each plane is filled with byte(seq) and
// starts with the sequence number.
func (d *fakeDevice) Complete(n int) int {
	var done int
	for ; done < n; done++ {
		d.cb.RLock()
		d.mu.Lock()
		if !d.running || len(d.queued) == 0 {
			d.mu.Unlock()
			d.cb.RUnlock()
			break
		}
		req := d.queued[0]
		d.queued = d.queued[1:]
		seq := d.seq
		d.seq++
		b := d.buffers[req.BufferID()]
		h := d.handler
		d.mu.Unlock()

		for _, pd := range b.planes {
			plane := make([]byte, pd.Length)
			for j := range plane {
				plane[j] = byte(seq)
			}
			if pd.Length >= 8 {
				binary.LittleEndian.PutUint64(plane, seq)
			}
			_, err := b.file.WriteAt(plane, pd.Offset)
			require.NoError(d.t, err)
		}
		req.Sequence = seq
		if h != nil {
			h(req, StatusComplete)
		}
		d.cb.RUnlock()
	}
	return done
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	// Wait out callbacks already running
	d.cb.Lock()
	defer d.cb.Unlock()

	d.mu.Lock()
	pending := d.queued
	d.queued = nil
	h := d.handler
	d.mu.Unlock()
	for _, req := range pending {
		if h != nil {
			h(req, StatusCancelled)
		}
	}
	return nil
}

func (d *fakeDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for _, b := range d.buffers {
		errs = append(errs, b.file.Close())
	}
	d.buffers = nil
	d.released++
	return errors.Join(errs...)
}

// recordingSink records every call.
type recordingSink struct {
	mu       sync.Mutex
	rendered []SelectedFrame
	seqs     []uint64 // device sequence read from plane 0 at render time
	progress [][2]int
	modes    []ViewMode
}

func (s *recordingSink) Render(f SelectedFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rendered = append(s.rendered, f)
	if p := f.Frame.Plane(0); len(p) >= 8 {
		s.seqs = append(s.seqs, binary.LittleEndian.Uint64(p))
	}
}

func (s *recordingSink) Progress(filled, capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, [2]int{filled, capacity})
}

func (s *recordingSink) SwitchMode(m ViewMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes = append(s.modes, m)
}

func (s *recordingSink) renderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rendered)
}

func (s *recordingSink) deviceSeqs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.seqs...)
}

func (s *recordingSink) modeChanges() []ViewMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ViewMode(nil), s.modes...)
}
