package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	for _, f := range []Format{FormatYUV420, FormatNV12, FormatRGB888, FormatYUYV} {
		got, err := ParseFormat(f.String())
		require.NoError(t, err)
		require.Equal(t, f, got)
	}
	_, err := ParseFormat("bayer")
	require.Error(t, err)

	require.Equal(t, []int{35 * 17, 18 * 9, 18 * 9}, FormatYUV420.PlaneSizes(35, 17))
	require.Equal(t, []int{35 * 17, 2 * 18 * 9}, FormatNV12.PlaneSizes(35, 17))
	require.Equal(t, []int{3 * 35 * 17}, FormatRGB888.PlaneSizes(35, 17))
	require.Equal(t, []int{2 * 36 * 17}, FormatYUYV.PlaneSizes(35, 17))
	require.Nil(t, Format(42).PlaneSizes(4, 4))
}
