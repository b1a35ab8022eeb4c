package delaycam

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MemoryProbe reports how many bytes the system can hand out without swapping.
type MemoryProbe func() (uint64, error)

// ErrMemoryProbe is returned when no source of available memory could be read.
var ErrMemoryProbe = errors.New("available memory unknown")

// parseMeminfo extracts MemAvailable (reported in kB) from /proc/meminfo content.
func parseMeminfo(r io.Reader) (uint64, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("malformed meminfo line %q", line)
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed meminfo line %q: %w", line, err)
		}
		return kb * 1024, nil
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, ErrMemoryProbe
}

// FixedMemory returns a probe that always reports n bytes. Useful for tests
// and for capping the pool below what the machine has.
func FixedMemory(n uint64) MemoryProbe {
	return func() (uint64, error) { return n, nil }
}
