package delaycam

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// LifecycleStats are the lifecycle's diagnostic counters.
type LifecycleStats struct {
	StaleCompletions uint64 // cancelled or from a stopped/previous configuration
	SpuriousWakes    uint64 // wakes that found nothing to drain
	RequeueFailures  uint64 // device Queue errors; the request waits in the free queue
	OverflowDrops    uint64 // completions that found the done queue full
}

// Lifecycle moves hardware buffers between the device and the consumer.
//
// A fixed arena of requests, one per buffer, is built at Configure. Each
// request cycles Free → InFlight (Queue) → Done (completion) → Free
// (Recycle). The device goroutine only ever touches the done queue and the
// wake channel; everything else runs on the consumer, one call at a time.
type Lifecycle struct {
	dev      Device
	registry *Registry
	log      *slog.Logger
	handler  CompletionHandler

	// q is the state shared with the device goroutine. The lock is held only
	// to push, pop or swap.
	q struct {
		sync.Mutex
		capturing  bool
		generation uint64
		done       chan *Request
		free       []*Request // failed resubmissions, retried on the next Recycle
	}
	wake chan struct{} // coalescing, capacity 1

	// Consumer only.
	requests   []Request
	buffers    []*MappedBuffer
	retry      []*Request
	configured bool

	afPending atomic.Bool

	stale           atomic.Uint64
	spurious        atomic.Uint64
	requeueFailures atomic.Uint64
	overflow        atomic.Uint64
}

// NewLifecycle creates a lifecycle manager for dev. Mappings are recorded
// in registry.
func NewLifecycle(dev Device, registry *Registry, opts ...Option) *Lifecycle {
	cfg := newConfig(opts)
	l := &Lifecycle{
		dev:      dev,
		registry: registry,
		log:      componentLogger(cfg.Logger, "lifecycle"),
		wake:     make(chan struct{}, 1),
	}
	l.handler = l.onCompletion
	return l
}

// Configure asks the device for buffers, maps each one and builds the
// request arena. The returned views stay valid until Stop.
func (l *Lifecycle) Configure(cfg StreamConfig) ([]*MappedBuffer, error) {
	if l.configured {
		return nil, ErrAlreadyConfigured
	}

	hw, err := l.dev.Configure(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure device: %w", err)
	}
	if len(hw) == 0 {
		return nil, errors.Join(errors.New("device returned no buffers"), l.dev.Release())
	}

	buffers := make([]*MappedBuffer, 0, len(hw))
	for _, b := range hw {
		mb, err := l.registry.Map(b)
		if err != nil {
			return nil, errors.Join(err, l.registry.Clear(), l.dev.Release())
		}
		buffers = append(buffers, mb)
	}

	l.q.Lock()
	l.q.generation++
	gen := l.q.generation
	l.q.done = make(chan *Request, len(buffers))
	l.q.free = make([]*Request, 0, len(buffers))
	l.q.Unlock()

	l.requests = make([]Request, len(buffers))
	for i := range l.requests {
		req := &l.requests[i]
		req.index = i
		req.generation = gen
		req.bufferID = buffers[i].ID()
	}
	l.buffers = buffers
	l.retry = make([]*Request, 0, len(buffers))
	l.configured = true

	l.log.Info("configured capture",
		"buffers", len(buffers),
		"planes", buffers[0].NumPlanes(),
		"generation", gen)
	return buffers, nil
}

// Buffers returns the mapped views of the current configuration.
func (l *Lifecycle) Buffers() []*MappedBuffer { return l.buffers }

// StartCapture starts the device and submits every request.
func (l *Lifecycle) StartCapture() error {
	if !l.configured {
		return ErrNotConfigured
	}
	if l.Capturing() {
		return ErrAlreadyCapturing
	}

	if err := l.dev.Start(); err != nil {
		return fmt.Errorf("start device: %w", err)
	}
	l.dev.SetCompletionHandler(l.handler)

	l.q.Lock()
	l.q.capturing = true
	l.q.Unlock()

	for i := range l.requests {
		if err := l.submit(&l.requests[i]); err != nil {
			l.unwindStart()
			return fmt.Errorf("submit initial requests: %w", err)
		}
	}
	return nil
}

// unwindStart undoes a partially successful StartCapture, leaving the
// lifecycle configured but idle.
func (l *Lifecycle) unwindStart() {
	l.q.Lock()
	l.q.capturing = false
	l.q.Unlock()

	if err := l.dev.Stop(); err != nil {
		l.log.Warn("stop device after failed start", "error", err)
	}
	l.dev.SetCompletionHandler(nil)

	l.q.Lock()
	l.drainLocked()
	l.q.free = l.q.free[:0]
	l.q.Unlock()

	for i := range l.requests {
		l.requests[i].state.Store(uint32(RequestFree))
		l.requests[i].reuse()
	}
}

// Capturing reports whether completions are currently accepted.
func (l *Lifecycle) Capturing() bool {
	l.q.Lock()
	defer l.q.Unlock()
	return l.q.capturing
}

// onCompletion runs on the device goroutine. It never blocks, allocates,
// logs or fails: anything it cannot hand over is counted and dropped.
func (l *Lifecycle) onCompletion(req *Request, status CompletionStatus) {
	if status == StatusCancelled {
		l.stale.Add(1)
		if !req.cas(RequestInFlight, RequestFree) {
			return
		}
		// Park it for resubmission if capture continues
		l.q.Lock()
		if l.q.capturing && req.generation == l.q.generation && len(l.q.free) < cap(l.q.free) {
			l.q.free = append(l.q.free, req)
		}
		l.q.Unlock()
		return
	}

	l.q.Lock()
	if !l.q.capturing || req.generation != l.q.generation || !req.cas(RequestInFlight, RequestDone) {
		l.q.Unlock()
		l.stale.Add(1)
		return
	}
	select {
	case l.q.done <- req:
	default:
		// One slot per request makes this unreachable unless the device
		// completes a request twice.
		l.overflow.Add(1)
		if req.cas(RequestDone, RequestFree) && len(l.q.free) < cap(l.q.free) {
			l.q.free = append(l.q.free, req)
		}
	}
	l.q.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Wake is signalled after completions are queued. Several completions may
// share one signal, so the receiver drains until DrainOne reports empty.
func (l *Lifecycle) Wake() <-chan struct{} { return l.wake }

// DrainOne pops the oldest completed request. An empty queue is normal.
func (l *Lifecycle) DrainOne() (*Request, bool) {
	l.q.Lock()
	defer l.q.Unlock()
	select {
	case req := <-l.q.done:
		return req, true
	default:
		return nil, false
	}
}

func (l *Lifecycle) noteSpuriousWake() { l.spurious.Add(1) }

// Recycle returns a consumed request to the device. If buf is non-nil the
// request is re-pointed at that buffer. Requests parked by an earlier
// failed resubmission are retried first.
//
// Recycling a request that is not Done fails with ErrIllegalTransition.
// Recycling after Stop leaves the request Free and returns ErrNotCapturing.
func (l *Lifecycle) Recycle(req *Request, buf *MappedBuffer) error {
	if err := req.transition(RequestDone, RequestFree); err != nil {
		return err
	}
	req.reuse()
	if buf != nil {
		req.bufferID = buf.ID()
	}

	l.q.Lock()
	if !l.q.capturing || req.generation != l.q.generation {
		l.q.Unlock()
		return ErrNotCapturing
	}
	l.retry = append(l.retry[:0], l.q.free...)
	l.q.free = l.q.free[:0]
	l.q.Unlock()

	for _, r := range l.retry {
		if err := l.submit(r); err != nil {
			l.log.Warn("resubmit parked request", "request", r.Index(), "error", err)
		}
	}
	return l.submit(req)
}

// submit arms a Free request and queues it. On failure the request is
// parked Free in the free queue.
func (l *Lifecycle) submit(req *Request) error {
	if l.afPending.Swap(false) {
		req.Controls.AutofocusTrigger = true
	}
	if err := req.transition(RequestFree, RequestInFlight); err != nil {
		return err
	}

	err := l.dev.Queue(req)
	if err == nil {
		return nil
	}

	req.cas(RequestInFlight, RequestFree)
	if req.Controls.AutofocusTrigger {
		req.Controls.AutofocusTrigger = false
		l.afPending.Store(true)
	}
	l.requeueFailures.Add(1)

	l.q.Lock()
	if len(l.q.free) < cap(l.q.free) {
		l.q.free = append(l.q.free, req)
	}
	l.q.Unlock()
	return fmt.Errorf("queue request %d: %w", req.Index(), err)
}

// TriggerAutofocus attaches a one-shot autofocus trigger to the next
// submitted request.
func (l *Lifecycle) TriggerAutofocus() {
	l.afPending.Store(true)
}

// Stop halts capture and releases everything Configure acquired. Pending
// completions are discarded and mapped views become invalid. Stop is
// idempotent.
func (l *Lifecycle) Stop() error {
	l.q.Lock()
	wasCapturing := l.q.capturing
	l.q.capturing = false
	l.q.Unlock()

	if !l.configured {
		return nil
	}

	var errs []error
	if wasCapturing {
		if err := l.dev.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop device: %w", err))
		}
	}
	l.dev.SetCompletionHandler(nil)

	l.q.Lock()
	dropped := l.drainLocked()
	l.q.done = nil
	l.q.free = nil
	l.q.Unlock()

	// Drop a wake that raced with teardown
	select {
	case <-l.wake:
	default:
	}

	l.requests = nil
	l.buffers = nil
	l.retry = nil
	l.configured = false

	if err := l.registry.Clear(); err != nil {
		errs = append(errs, fmt.Errorf("unmap buffers: %w", err))
	}
	if err := l.dev.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release device buffers: %w", err))
	}

	l.log.Info("stopped capture", "discarded", dropped)
	return errors.Join(errs...)
}

// drainLocked empties the done queue and returns how many requests it held.
// CALLER MUST HOLD l.q.Lock()
func (l *Lifecycle) drainLocked() int {
	var n int
	for {
		select {
		case <-l.q.done:
			n++
		default:
			return n
		}
	}
}

// Stats returns a snapshot of the diagnostic counters.
func (l *Lifecycle) Stats() LifecycleStats {
	return LifecycleStats{
		StaleCompletions: l.stale.Load(),
		SpuriousWakes:    l.spurious.Load(),
		RequeueFailures:  l.requeueFailures.Load(),
		OverflowDrops:    l.overflow.Load(),
	}
}
