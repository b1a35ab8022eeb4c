//go:build !linux && !darwin

package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDevice_Unsupported(t *testing.T) {
	dev, err := NewDevice(WithSize(16, 16))
	require.ErrorIs(t, err, ErrUnsupported)
	require.Nil(t, dev)
}
