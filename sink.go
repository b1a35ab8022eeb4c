package delaycam

// ViewMode is what the presentation side currently shows.
type ViewMode int

const (
	ModeProgress ViewMode = iota // pool filling, show progress
	ModeLive                     // pool full (or passthrough), show frames
)

func (m ViewMode) String() string {
	if m == ModeLive {
		return "live"
	}
	return "progress"
}

// SelectedFrame is the frame chosen for display.
//
// Frame is borrowed. It is either a pool slot, valid until the pool wraps
// around to it, or in passthrough a mapped device buffer, valid only for
// the duration of Render. Sinks that keep pixels must copy them.
type SelectedFrame struct {
	Frame    Frame
	Sequence uint64 // pool sequence, or device sequence in passthrough
	Realtime bool   // the frame just captured, not the delayed one
}

// Sink receives the pipeline's output on the consumer goroutine.
// Implementations must return promptly; the pipeline does not process
// frames while a Sink method is running.
type Sink interface {
	Render(f SelectedFrame)
	Progress(filled, capacity int)
	SwitchMode(m ViewMode)
}
