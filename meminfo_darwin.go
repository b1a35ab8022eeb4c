//go:build darwin

package delaycam

import (
	"golang.org/x/sys/unix"
)

// AvailableMemory reports free pages times page size.
func AvailableMemory() (uint64, error) {
	free, err := unix.SysctlUint32("vm.page_free_count")
	if err != nil {
		return 0, err
	}
	return uint64(free) * uint64(unix.Getpagesize()), nil
}
