package delaycam

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// Common errors
var (
	ErrResourceExhausted  = errors.New("not enough memory for frame pool")
	ErrInvalidSampleFrame = errors.New("invalid sample frame")
	ErrInvalidCapacity    = errors.New("invalid frame pool capacity")
	ErrIllegalTransition  = errors.New("illegal request state transition")
	ErrNotCapturing       = errors.New("capture is not running")
	ErrAlreadyCapturing   = errors.New("capture already running")
	ErrNotConfigured      = errors.New("device not configured")
	ErrAlreadyConfigured  = errors.New("device already configured")
	ErrNoFrames           = errors.New("frame pool holds no frames")
	ErrBufferNotMapped    = errors.New("hardware buffer not mapped")
	ErrClosed             = errors.New("pipeline closed")
)

// ResourceExhaustedError is returned when the frame pool would need at least
// as much memory as the system reports available. Callers recover by asking
// for a shorter delay or a lower frame rate.
type ResourceExhaustedError struct {
	Required  uint64 // bytes the pool would allocate
	Available uint64 // bytes reported by the memory probe
	Err       error  // underlying allocation failure, if any
}

func (e *ResourceExhaustedError) Error() string {
	msg := fmt.Sprintf("frame pool requires %s, %s available",
		humanize.IBytes(e.Required), humanize.IBytes(e.Available))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResourceExhaustedError) Is(target error) bool {
	return target == ErrResourceExhausted
}

func (e *ResourceExhaustedError) Unwrap() error {
	return e.Err
}
