package delaycam

import (
	"fmt"
	"sync/atomic"
	"time"
)

// RequestState is a request's position in the Free → InFlight → Done cycle.
type RequestState uint32

const (
	RequestFree     RequestState = iota // available to be armed and submitted
	RequestInFlight                     // owned by the device
	RequestDone                         // completed, waiting for the consumer
)

func (s RequestState) String() string {
	switch s {
	case RequestFree:
		return "free"
	case RequestInFlight:
		return "in-flight"
	case RequestDone:
		return "done"
	default:
		return fmt.Sprintf("RequestState(%d)", uint32(s))
	}
}

// Controls are per-request device controls. They are cleared on reuse.
type Controls struct {
	AutofocusTrigger bool
}

// Request couples one hardware buffer to a capture. Requests live in a fixed
// arena created per configuration and are only ever moved between states;
// they are never created or destroyed per frame.
type Request struct {
	index      int
	generation uint64
	bufferID   uint64
	state      atomic.Uint32

	// Filled in by the device before completion.
	Sequence  uint64    // device frame counter
	Timestamp time.Time // sensor timestamp

	Controls Controls
}

// Index is the request's slot in the lifecycle arena.
func (r *Request) Index() int { return r.index }

// BufferID is the hardware buffer currently attached to the request.
func (r *Request) BufferID() uint64 { return r.bufferID }

// State returns the current lifecycle state.
func (r *Request) State() RequestState { return RequestState(r.state.Load()) }

// cas moves the request between states. Both the device and consumer
// goroutines move requests, so every transition is a compare-and-swap.
func (r *Request) cas(from, to RequestState) bool {
	return r.state.CompareAndSwap(uint32(from), uint32(to))
}

// transition is cas with an error describing the illegal move.
func (r *Request) transition(from, to RequestState) error {
	if !r.cas(from, to) {
		return fmt.Errorf("%w: request %d is %s, want %s (→ %s)",
			ErrIllegalTransition, r.index, r.State(), from, to)
	}
	return nil
}

// reuse clears per-capture data so the request can be armed again.
func (r *Request) reuse() {
	r.Sequence = 0
	r.Timestamp = time.Time{}
	r.Controls = Controls{}
}
