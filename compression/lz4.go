package compression

import (
	"github.com/pierrec/lz4/v4"
)

// lzLevel maps our normalized levels to LZ4 HC levels.
func lzLevel(l Level) lz4.CompressionLevel {
	if l == LevelBest {
		return lz4.Level9
	}
	return lz4.Level5
}

func lz4Bound(n int) int { return lz4.CompressBlockBound(n) }

func compressLZ4(dst, src []byte, level Level) ([]byte, error) {
	var (
		n   int
		err error
	)
	if level == LevelSpeed {
		var c lz4.Compressor
		n, err = c.CompressBlock(src, dst)
	} else {
		c := lz4.CompressorHC{Level: lzLevel(level)}
		n, err = c.CompressBlock(src, dst)
	}
	// Zero means the input did not compress.
	if err != nil || n == 0 {
		return nil, ErrBufferTooSmall
	}
	return dst[:n], nil
}

func decompressLZ4(dst, src []byte) error {
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return err
	}
	return checkLength(CodecLZ4, n, len(dst))
}
