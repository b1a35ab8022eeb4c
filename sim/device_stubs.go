//go:build !linux && !darwin

package sim

import (
	"errors"

	"github.com/miretskiy/delaycam"
)

// ErrUnsupported is returned on platforms without shareable memory files.
var ErrUnsupported = errors.New("sim: simulated sensor requires linux or darwin")

// Device is unavailable on this platform; NewDevice always fails.
type Device struct{}

var _ delaycam.Device = (*Device)(nil)

func NewDevice(opts ...Option) (*Device, error) { return nil, ErrUnsupported }

func (d *Device) Configure(delaycam.StreamConfig) ([]delaycam.HardwareBuffer, error) {
	return nil, ErrUnsupported
}

func (d *Device) SetCompletionHandler(delaycam.CompletionHandler) {}
func (d *Device) Start() error                                   { return ErrUnsupported }
func (d *Device) Queue(*delaycam.Request) error                  { return ErrUnsupported }
func (d *Device) Stop() error                                    { return nil }
func (d *Device) Release() error                                 { return nil }

func (d *Device) Completed() uint64         { return 0 }
func (d *Device) Cancelled() uint64         { return 0 }
func (d *Device) AutofocusTriggers() uint64 { return 0 }
