//go:build darwin

package sim

import (
	"os"
)

// newBackingFile returns an unlinked temp file of the given size.
func newBackingFile(name string, size int64) (*os.File, error) {
	f, err := os.CreateTemp("", name+"-*")
	if err != nil {
		return nil, err
	}
	os.Remove(f.Name())
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}
