//go:build linux

package delaycam

import (
	"os"

	"golang.org/x/sys/unix"
)

const meminfoPath = "/proc/meminfo"

// AvailableMemory reads MemAvailable from /proc/meminfo. Kernels that predate
// MemAvailable fall back to sysinfo(2) free RAM, which underestimates
// reclaimable page cache but never overestimates.
func AvailableMemory() (uint64, error) {
	if f, err := os.Open(meminfoPath); err == nil {
		n, perr := parseMeminfo(f)
		f.Close()
		if perr == nil {
			return n, nil
		}
	}

	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	return uint64(info.Freeram) * uint64(info.Unit), nil
}
