package delaycam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Stats is a snapshot of pipeline counters.
type Stats struct {
	FramesStored     uint64
	FramesRendered   uint64
	SizeMismatches   uint64
	SkippedFrames    uint64
	MissingBuffers   uint64
	SpuriousWakes    uint64
	StaleCompletions uint64
	RequeueFailures  uint64
	OverflowDrops    uint64

	PoolSize     int
	PoolCapacity int
	Mode         ViewMode
	Passthrough  bool
	Capturing    bool
}

// pipelineStats are readable from any goroutine.
type pipelineStats struct {
	stored       atomic.Uint64
	rendered     atomic.Uint64
	mismatches   atomic.Uint64
	skipped      atomic.Uint64
	missing      atomic.Uint64
	poolSize     atomic.Int64
	poolCapacity atomic.Int64
	poolBytes    atomic.Int64
	mode         atomic.Int32
	passthrough  atomic.Bool
}

// Pipeline turns device completions into delayed frames for a Sink.
//
// Each completed buffer is copied into the frame pool and immediately
// handed back to the device. Once the pool is full the sink is shown the
// oldest pooled frame, which lags capture by the configured delay; until
// then it is told how far filling has progressed. A delay of zero skips
// the pool and shows each mapped buffer directly.
//
// Start, Stop, Reconfigure, ProcessPending, ExportHistory and Close are
// serialized; Run calls ProcessPending from its own goroutine.
type Pipeline struct {
	cfg      config
	dev      Device
	sink     Sink
	registry *Registry
	lc       *Lifecycle
	log      *slog.Logger
	metrics  *metrics

	mu      sync.Mutex
	pool    *FramePool
	mode    ViewMode
	started bool
	closed  bool
	session string
	lastSeq uint64
	haveSeq bool

	closeCh chan struct{}
	stats   pipelineStats
}

// New creates a stopped pipeline reading from dev and presenting to sink.
func New(dev Device, sink Sink, opts ...Option) (*Pipeline, error) {
	if dev == nil || sink == nil {
		return nil, errors.New("delaycam: device and sink are required")
	}
	cfg := newConfig(opts)
	if err := validateTiming(cfg.Delay, cfg.FrameRate); err != nil {
		return nil, err
	}
	if cfg.BufferCount < 1 {
		return nil, fmt.Errorf("buffer count must be positive, got %d", cfg.BufferCount)
	}
	if cfg.Realtime == nil {
		cfg.Realtime = defaultConfig().Realtime
	}

	registry := NewRegistry(cfg.Logger)
	p := &Pipeline{
		cfg:      cfg,
		dev:      dev,
		sink:     sink,
		registry: registry,
		lc:       NewLifecycle(dev, registry, WithLogger(cfg.Logger)),
		log:      componentLogger(cfg.Logger, "pipeline"),
		mode:     ModeProgress,
		closeCh:  make(chan struct{}),
	}
	p.metrics = newMetrics(p)
	if err := p.metrics.register(cfg.Registerer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	return p, nil
}

func validateTiming(delay time.Duration, frameRate float64) error {
	if delay < 0 {
		return fmt.Errorf("delay must not be negative, got %v", delay)
	}
	if !(frameRate > 0) {
		return fmt.Errorf("frame rate must be positive, got %v", frameRate)
	}
	return nil
}

// Start configures the device, sizes the frame pool from the first buffer
// and starts capture. A pool that does not fit in memory fails Start with
// *ResourceExhaustedError and leaves the device released.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.started {
		return ErrAlreadyCapturing
	}
	return p.startLocked(ctx)
}

// startLocked brings up capture with the current config.
// CALLER MUST HOLD p.mu
func (p *Pipeline) startLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	session := uuid.NewString()
	log := p.log.With("session", session)

	buffers, err := p.lc.Configure(StreamConfig{
		FrameRate:   p.cfg.FrameRate,
		BufferCount: p.cfg.BufferCount,
	})
	if err != nil {
		return err
	}

	var pool *FramePool
	if p.cfg.Delay > 0 {
		// The first mapped buffer is the layout every completion will have
		pool, err = NewFramePoolForDelay(buffers[0], p.cfg.Delay, p.cfg.FrameRate,
			WithPrewarm(p.cfg.Prewarm),
			WithMemoryProbe(p.cfg.MemoryProbe),
			WithLogger(p.cfg.Logger))
		if err != nil {
			return errors.Join(fmt.Errorf("create frame pool: %w", err), p.lc.Stop())
		}
	}
	if old := p.pool; old != nil {
		if err := old.Close(); err != nil {
			log.Warn("release previous frame pool", "error", err)
		}
	}
	p.pool = pool
	p.haveSeq = false
	p.session = session
	p.publishPool()

	if pool == nil {
		p.setMode(ModeLive)
	} else {
		p.setMode(ModeProgress)
	}

	if err := p.lc.StartCapture(); err != nil {
		return errors.Join(err, p.lc.Stop())
	}
	p.started = true

	if pool != nil {
		log.InfoContext(ctx, "capture started",
			"delay", p.cfg.Delay,
			"fps", p.cfg.FrameRate,
			"frames", pool.Capacity(),
			"pool", humanize.IBytes(uint64(pool.BytesPerFrame())*uint64(pool.Capacity())))
	} else {
		log.InfoContext(ctx, "capture started in passthrough", "fps", p.cfg.FrameRate)
	}
	return nil
}

// setMode notifies the sink on a mode change only.
func (p *Pipeline) setMode(m ViewMode) {
	if p.mode == m {
		return
	}
	p.mode = m
	p.stats.mode.Store(int32(m))
	p.sink.SwitchMode(m)
}

func (p *Pipeline) publishPool() {
	p.stats.passthrough.Store(p.pool == nil)
	if p.pool == nil {
		p.stats.poolSize.Store(0)
		p.stats.poolCapacity.Store(0)
		p.stats.poolBytes.Store(0)
		return
	}
	p.stats.poolSize.Store(int64(p.pool.Size()))
	p.stats.poolCapacity.Store(int64(p.pool.Capacity()))
	p.stats.poolBytes.Store(int64(p.pool.BytesPerFrame()) * int64(p.pool.Capacity()))
}

// Run processes completions until ctx is cancelled or the pipeline is
// closed. It may be started before Start and keeps running across
// Reconfigure.
func (p *Pipeline) Run(ctx context.Context) error {
	wake := p.lc.Wake()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.closeCh:
			return nil
		case <-wake:
			p.ProcessPending()
		}
	}
}

// ProcessPending handles every completed request and returns how many
// there were. Finding none is counted as a spurious wake.
func (p *Pipeline) ProcessPending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var n int
	for {
		req, ok := p.lc.DrainOne()
		if !ok {
			break
		}
		p.handle(req)
		n++
	}
	if n == 0 {
		p.lc.noteSpuriousWake()
	}
	return n
}

// handle consumes one completed request.
// CALLER MUST HOLD p.mu
func (p *Pipeline) handle(req *Request) {
	p.noteSequence(req.Sequence)

	buf, ok := p.registry.Lookup(req.BufferID())
	if !ok {
		p.stats.missing.Add(1)
		p.log.Warn("completed request has no mapped buffer",
			"request", req.Index(), "buffer", req.BufferID())
		p.recycle(req)
		return
	}

	if p.pool == nil {
		p.sink.Render(SelectedFrame{Frame: buf, Sequence: req.Sequence, Realtime: true})
		p.stats.rendered.Add(1)
		p.recycle(req)
		return
	}

	before := p.pool.SizeMismatches()
	stored := p.pool.StoreFrame(buf)
	p.recycle(req)

	p.stats.stored.Add(1)
	if d := p.pool.SizeMismatches() - before; d > 0 {
		p.stats.mismatches.Add(d)
	}
	p.stats.poolSize.Store(int64(p.pool.Size()))

	realtime := p.cfg.Realtime.NeedRealtime()
	if !p.pool.IsFull() {
		p.sink.Progress(p.pool.Size(), p.pool.Capacity())
		return
	}
	p.setMode(ModeLive)

	frame := stored
	if !realtime {
		frame = p.pool.OldestFrame()
	}
	p.sink.Render(SelectedFrame{Frame: frame, Sequence: frame.Sequence(), Realtime: realtime})
	p.stats.rendered.Add(1)
}

func (p *Pipeline) recycle(req *Request) {
	if err := p.lc.Recycle(req, nil); err != nil && !errors.Is(err, ErrNotCapturing) {
		p.log.Warn("recycle request", "request", req.Index(), "error", err)
	}
}

// noteSequence counts gaps in the device frame counter.
func (p *Pipeline) noteSequence(seq uint64) {
	if p.haveSeq && seq > p.lastSeq+1 {
		p.stats.skipped.Add(seq - p.lastSeq - 1)
	}
	if !p.haveSeq || seq > p.lastSeq {
		p.lastSeq = seq
	}
	p.haveSeq = true
}

// Reconfigure restarts capture with a new delay and frame rate. The frame
// pool is rebuilt, so the delay window refills from empty. If the new pool
// does not fit, capture stays stopped and the error is returned.
func (p *Pipeline) Reconfigure(ctx context.Context, delay time.Duration, frameRate float64) error {
	if err := validateTiming(delay, frameRate); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if err := p.stopLocked(); err != nil {
		p.log.Warn("stop before reconfigure", "error", err)
	}
	p.cfg.Delay = delay
	p.cfg.FrameRate = frameRate
	return p.startLocked(ctx)
}

// TriggerAutofocus asks the device for one autofocus cycle, carried by the
// next request submitted.
func (p *Pipeline) TriggerAutofocus() {
	p.lc.TriggerAutofocus()
}

// Stop halts capture. The frame pool is kept so its window can still be
// exported; it is replaced on the next Start.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopLocked()
}

// CALLER MUST HOLD p.mu
func (p *Pipeline) stopLocked() error {
	if !p.started {
		return nil
	}
	p.started = false
	err := p.lc.Stop()
	p.log.Info("capture stopped", "session", p.session)
	return err
}

// Close stops capture, releases the frame pool and unregisters metrics.
// Run returns once Close has been called.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if err := p.stopLocked(); err != nil {
		errs = append(errs, err)
	}
	if p.pool != nil {
		if err := p.pool.Close(); err != nil {
			errs = append(errs, err)
		}
		p.pool = nil
		p.publishPool()
	}
	p.metrics.unregister()
	close(p.closeCh)
	return errors.Join(errs...)
}

// Stats returns a snapshot of the pipeline counters. Safe to call from any
// goroutine.
func (p *Pipeline) Stats() Stats {
	lc := p.lc.Stats()
	return Stats{
		FramesStored:     p.stats.stored.Load(),
		FramesRendered:   p.stats.rendered.Load(),
		SizeMismatches:   p.stats.mismatches.Load(),
		SkippedFrames:    p.stats.skipped.Load(),
		MissingBuffers:   p.stats.missing.Load(),
		SpuriousWakes:    lc.SpuriousWakes,
		StaleCompletions: lc.StaleCompletions,
		RequeueFailures:  lc.RequeueFailures,
		OverflowDrops:    lc.OverflowDrops,
		PoolSize:         int(p.stats.poolSize.Load()),
		PoolCapacity:     int(p.stats.poolCapacity.Load()),
		Mode:             ViewMode(p.stats.mode.Load()),
		Passthrough:      p.stats.passthrough.Load(),
		Capturing:        p.lc.Capturing(),
	}
}
