package delaycam

// PlaneDesc locates one plane of a hardware buffer: a file descriptor the
// device exported (dmabuf, memfd) and the plane's byte range within it.
// Several planes may share a descriptor at different offsets.
type PlaneDesc struct {
	FD     int
	Offset int64
	Length int
}

// HardwareBuffer is a device-owned buffer as handed out at configuration.
type HardwareBuffer struct {
	ID     uint64
	Planes []PlaneDesc
}

// StreamConfig is what the pipeline asks of the device. Format and geometry
// negotiation is the device's business; the pipeline only cares about pace
// and buffer count.
type StreamConfig struct {
	FrameRate   float64
	BufferCount int
}

// CompletionStatus is the outcome the device reports for a request.
type CompletionStatus int

const (
	StatusComplete  CompletionStatus = iota // buffer filled
	StatusCancelled                         // request returned unfilled (stop in flight)
)

func (s CompletionStatus) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// CompletionHandler is invoked on the device's own goroutine when a queued
// request finishes. Implementations must not block, allocate or fail.
type CompletionHandler func(req *Request, status CompletionStatus)

// Device is the capture device binding.
//
// Configure allocates buffers for the stream and must be followed by Release
// once the pipeline is done with them. Stop cancels everything in flight;
// once Stop returns no completion handler invocation may still be running
// or start afterwards.
type Device interface {
	Configure(cfg StreamConfig) ([]HardwareBuffer, error)
	Start() error
	SetCompletionHandler(h CompletionHandler)
	Queue(req *Request) error
	Stop() error
	Release() error
}
