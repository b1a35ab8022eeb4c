//go:build !linux && !darwin

package delaycam

// AvailableMemory is not implemented on this platform; pass WithMemoryProbe.
func AvailableMemory() (uint64, error) {
	return 0, ErrMemoryProbe
}
