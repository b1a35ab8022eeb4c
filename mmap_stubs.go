//go:build !linux && !darwin

package delaycam

import "errors"

var errMappingUnsupported = errors.New("buffer mapping not supported on this platform")

func mapReadOnly(fd int, length int64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	return nil, errMappingUnsupported
}

func unmapView(b []byte) error { return nil }
