package sim

import (
	"fmt"
	"strings"
)

// Format is a pixel layout. Only plane geometry matters here; pixel
// contents are a synthetic pattern.
type Format int

const (
	FormatYUV420 Format = iota // 3 planes, chroma quarter size
	FormatNV12                 // 2 planes, interleaved chroma
	FormatRGB888               // 1 packed plane
	FormatYUYV                 // 1 packed 4:2:2 plane
)

func (f Format) String() string {
	switch f {
	case FormatYUV420:
		return "yuv420"
	case FormatNV12:
		return "nv12"
	case FormatRGB888:
		return "rgb888"
	case FormatYUYV:
		return "yuyv"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat is the inverse of String.
func ParseFormat(s string) (Format, error) {
	for _, f := range []Format{FormatYUV420, FormatNV12, FormatRGB888, FormatYUYV} {
		if strings.EqualFold(s, f.String()) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown pixel format %q", s)
}

// PlaneSizes returns the byte length of each plane for a width×height frame.
func (f Format) PlaneSizes(width, height int) []int {
	luma := width * height
	chroma := ((width + 1) / 2) * ((height + 1) / 2)
	switch f {
	case FormatYUV420:
		return []int{luma, chroma, chroma}
	case FormatNV12:
		return []int{luma, 2 * chroma}
	case FormatRGB888:
		return []int{3 * luma}
	case FormatYUYV:
		return []int{2 * ((width + 1) &^ 1) * height}
	default:
		return nil
	}
}
