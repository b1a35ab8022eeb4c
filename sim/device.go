//go:build linux || darwin

// Package sim is a simulated image sensor implementing delaycam.Device.
// Buffers live in memory files, so the pipeline maps them exactly as it
// would map buffers exported by a real camera.
package sim

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/miretskiy/delaycam"
)

var (
	ErrNotConfigured = errors.New("sim: device not configured")
	ErrNotRunning    = errors.New("sim: device not running")
	ErrRunning       = errors.New("sim: device running")
	ErrUnknownBuffer = errors.New("sim: unknown buffer")
)

type buffer struct {
	id     uint64
	file   *os.File
	data   []byte // writable mapping of the whole file
	planes []delaycam.PlaneDesc
}

// Device produces frames at the configured rate into a fixed set of
// buffers. Completions are delivered on the device's own goroutine.
type Device struct {
	cfg config
	log *slog.Logger

	mu      sync.Mutex
	handler delaycam.CompletionHandler
	buffers map[uint64]*buffer
	queue   chan *delaycam.Request
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	limiter *rate.Limiter
	nextID  uint64

	seq       uint64 // owned by the capture goroutine while running
	completed atomic.Uint64
	cancelled atomic.Uint64
	afCount   atomic.Uint64
}

var _ delaycam.Device = (*Device)(nil)

// NewDevice creates an unconfigured simulated sensor.
func NewDevice(opts ...Option) (*Device, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("sim: invalid size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Format.PlaneSizes(cfg.Width, cfg.Height) == nil {
		return nil, fmt.Errorf("sim: unsupported format %v", cfg.Format)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Device{
		cfg: cfg,
		log: log.With("component", "sim", "format", cfg.Format.String()),
	}, nil
}

// Configure allocates sc.BufferCount buffers. All planes of a buffer share
// one memory file at consecutive offsets.
func (d *Device) Configure(sc delaycam.StreamConfig) ([]delaycam.HardwareBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil, ErrRunning
	}
	if d.buffers != nil {
		return nil, errors.New("sim: already configured")
	}
	if sc.BufferCount < 1 {
		return nil, fmt.Errorf("sim: buffer count %d", sc.BufferCount)
	}

	sizes := d.cfg.Format.PlaneSizes(d.cfg.Width, d.cfg.Height)
	var total int64
	for _, s := range sizes {
		total += int64(s)
	}

	d.buffers = make(map[uint64]*buffer, sc.BufferCount)
	out := make([]delaycam.HardwareBuffer, 0, sc.BufferCount)
	for i := 0; i < sc.BufferCount; i++ {
		d.nextID++
		b, err := newBuffer(d.nextID, sizes, total)
		if err != nil {
			d.releaseLocked()
			return nil, err
		}
		d.buffers[b.id] = b
		out = append(out, delaycam.HardwareBuffer{ID: b.id, Planes: b.planes})
	}

	lim := rate.Inf
	if d.cfg.Paced && sc.FrameRate > 0 {
		lim = rate.Limit(sc.FrameRate)
	}
	d.limiter = rate.NewLimiter(lim, 1)
	d.queue = make(chan *delaycam.Request, sc.BufferCount)

	d.log.Debug("configured",
		"buffers", sc.BufferCount,
		"size", fmt.Sprintf("%dx%d", d.cfg.Width, d.cfg.Height),
		"fps", sc.FrameRate)
	return out, nil
}

func newBuffer(id uint64, sizes []int, total int64) (*buffer, error) {
	f, err := newBackingFile(fmt.Sprintf("sim-buffer-%d", id), total)
	if err != nil {
		return nil, err
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sim: map buffer %d: %w", id, err)
	}
	b := &buffer{id: id, file: f, data: data}
	var off int64
	for _, s := range sizes {
		b.planes = append(b.planes, delaycam.PlaneDesc{FD: int(f.Fd()), Offset: off, Length: s})
		off += int64(s)
	}
	return b, nil
}

func (d *Device) SetCompletionHandler(h delaycam.CompletionHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// Start begins producing frames for queued requests.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buffers == nil {
		return ErrNotConfigured
	}
	if d.running {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.running = true
	d.wg.Add(1)
	go d.capture(ctx, d.queue)
	return nil
}

// Queue hands a request to the sensor.
func (d *Device) Queue(req *delaycam.Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return ErrNotRunning
	}
	if _, ok := d.buffers[req.BufferID()]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBuffer, req.BufferID())
	}
	select {
	case d.queue <- req:
		return nil
	default:
		return fmt.Errorf("sim: queue full (request %d queued twice?)", req.Index())
	}
}

func (d *Device) capture(ctx context.Context, queue <-chan *delaycam.Request) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-queue:
			if err := d.limiter.Wait(ctx); err != nil {
				d.complete(req, delaycam.StatusCancelled)
				return
			}
			d.fill(req)
			d.complete(req, delaycam.StatusComplete)
		}
	}
}

// fill writes the frame pattern: every byte of plane p is byte(seq+p),
// and each plane starts with the sequence number.
func (d *Device) fill(req *delaycam.Request) {
	d.mu.Lock()
	b := d.buffers[req.BufferID()]
	d.mu.Unlock()

	if d.cfg.SequenceGap > 0 && d.seq > 0 && d.seq%uint64(d.cfg.SequenceGap) == 0 {
		d.seq++
	}
	seq := d.seq
	d.seq++

	for p, pd := range b.planes {
		plane := b.data[pd.Offset : pd.Offset+int64(pd.Length)]
		fillPattern(plane, byte(seq+uint64(p)))
		if len(plane) >= 8 {
			binary.LittleEndian.PutUint64(plane, seq)
		}
	}

	if req.Controls.AutofocusTrigger {
		d.afCount.Add(1)
	}
	req.Sequence = seq
	req.Timestamp = time.Now()
}

func fillPattern(b []byte, v byte) {
	if len(b) == 0 {
		return
	}
	b[0] = v
	for n := 1; n < len(b); n *= 2 {
		copy(b[n:], b[:n])
	}
}

func (d *Device) complete(req *delaycam.Request, status delaycam.CompletionStatus) {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	if status == delaycam.StatusComplete {
		d.completed.Add(1)
	} else {
		d.cancelled.Add(1)
	}
	if h != nil {
		h(req, status)
	}
}

// Stop halts capture and returns every queued request as cancelled. No
// completion is delivered after Stop returns.
func (d *Device) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	cancel := d.cancel
	d.mu.Unlock()

	cancel()
	d.wg.Wait()

	for {
		select {
		case req := <-d.queue:
			d.complete(req, delaycam.StatusCancelled)
		default:
			return nil
		}
	}
}

// Release frees the buffers handed out by Configure.
func (d *Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrRunning
	}
	return d.releaseLocked()
}

// CALLER MUST HOLD d.mu
func (d *Device) releaseLocked() error {
	var errs []error
	for _, b := range d.buffers {
		if err := unix.Munmap(b.data); err != nil {
			errs = append(errs, err)
		}
		if err := b.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.buffers = nil
	d.queue = nil
	return errors.Join(errs...)
}

// Completed counts requests filled and completed.
func (d *Device) Completed() uint64 { return d.completed.Load() }

// Cancelled counts requests returned unfilled.
func (d *Device) Cancelled() uint64 { return d.cancelled.Load() }

// AutofocusTriggers counts requests that carried an autofocus trigger.
func (d *Device) AutofocusTriggers() uint64 { return d.afCount.Load() }
