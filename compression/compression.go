// Package compression wraps the block codecs used for frame planes in
// history files. All operations use "into" semantics: the caller supplies
// the destination, sized with Bound for compression and with the known raw
// length for decompression.
package compression

import (
	"errors"
	"fmt"
	"strings"
)

type Codec uint8
type Level uint8

const (
	CodecNone Codec = iota
	CodecZstd
	CodecLZ4
	CodecS2
)

const (
	LevelDefault Level = iota
	LevelSpeed
	LevelBest
)

var (
	// ErrBufferTooSmall is returned when dst cannot hold the output. For
	// compression it also covers input the codec could not shrink; callers
	// store such planes raw.
	ErrBufferTooSmall = errors.New("destination buffer too small")
	ErrUnknownCodec   = errors.New("unknown codec")
	ErrCorrupt        = errors.New("corrupt compressed block")
)

// IsBufferTooSmall is a helper to detect heuristic/capacity failures.
func IsBufferTooSmall(err error) bool {
	return errors.Is(err, ErrBufferTooSmall)
}

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	case CodecS2:
		return "s2"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec maps a codec name (as printed by String) to a Codec.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "raw":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	case "s2":
		return CodecS2, nil
	default:
		return CodecNone, fmt.Errorf("%w: %q", ErrUnknownCodec, s)
	}
}

// Bound is the largest compressed size of n input bytes.
func Bound(codec Codec, n int) int {
	switch codec {
	case CodecZstd:
		return zstdBound(n)
	case CodecLZ4:
		return lz4Bound(n)
	case CodecS2:
		return s2Bound(n)
	default:
		return n
	}
}

// Compress compresses src into dst. The result aliases dst.
func Compress(codec Codec, level Level, dst, src []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		if len(dst) < len(src) {
			return nil, ErrBufferTooSmall
		}
		return dst[:copy(dst, src)], nil
	case CodecZstd:
		return compressZstd(dst, src, level)
	case CodecLZ4:
		return compressLZ4(dst, src, level)
	case CodecS2:
		return compressS2(dst, src, level)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, codec)
	}
}

// Decompress restores src into dst, which must be exactly the raw length.
func Decompress(codec Codec, dst, src []byte) error {
	switch codec {
	case CodecNone:
		if len(src) != len(dst) {
			return fmt.Errorf("%w: raw length %d, want %d", ErrCorrupt, len(src), len(dst))
		}
		copy(dst, src)
		return nil
	case CodecZstd:
		return decompressZstd(dst, src)
	case CodecLZ4:
		return decompressLZ4(dst, src)
	case CodecS2:
		return decompressS2(dst, src)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownCodec, codec)
	}
}

// sameBacking reports whether res was written into dst rather than into a
// buffer the codec allocated.
func sameBacking(res, dst []byte) bool {
	return len(res) == 0 || (cap(dst) > 0 && &res[0] == &dst[:1][0])
}

func checkLength(codec Codec, got, want int) error {
	if got != want {
		return fmt.Errorf("%w: %s produced %d bytes, want %d", ErrCorrupt, codec, got, want)
	}
	return nil
}
