package compression

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Encoders are safe for concurrent EncodeAll; one per level is enough.
var (
	zstdOnce     sync.Once
	zstdEncoders map[Level]*zstd.Encoder
	zstdDecoder  *zstd.Decoder
)

func zLevel(l Level) zstd.EncoderLevel {
	switch l {
	case LevelSpeed:
		return zstd.SpeedFastest
	case LevelBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func zstdInit() {
	zstdEncoders = make(map[Level]*zstd.Encoder, 3)
	for _, l := range []Level{LevelDefault, LevelSpeed, LevelBest} {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zLevel(l)), zstd.WithEncoderConcurrency(1))
		if err != nil {
			panic(err)
		}
		zstdEncoders[l] = enc
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic(err)
	}
	zstdDecoder = dec
}

// zstdBound mirrors ZSTD_COMPRESSBOUND.
func zstdBound(n int) int {
	b := n + n>>8
	if n < 128<<10 {
		b += (128<<10 - n) >> 11
	}
	return b
}

func compressZstd(dst, src []byte, level Level) ([]byte, error) {
	zstdOnce.Do(zstdInit)
	enc, ok := zstdEncoders[level]
	if !ok {
		enc = zstdEncoders[LevelDefault]
	}
	res := enc.EncodeAll(src, dst[:0])
	// EncodeAll appends; growing past cap means it reallocated
	if !sameBacking(res, dst) || len(res) >= len(src) {
		return nil, ErrBufferTooSmall
	}
	return res, nil
}

func decompressZstd(dst, src []byte) error {
	zstdOnce.Do(zstdInit)
	res, err := zstdDecoder.DecodeAll(src, dst[:0])
	if err != nil {
		return err
	}
	return checkLength(CodecZstd, len(res), len(dst))
}
