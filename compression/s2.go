package compression

import (
	"github.com/klauspost/compress/s2"
)

func s2Bound(n int) int {
	if b := s2.MaxEncodedLen(n); b > 0 {
		return b
	}
	return n
}

func compressS2(dst, src []byte, level Level) ([]byte, error) {
	// s2 allocates when dst is short; refuse instead.
	if len(dst) < s2.MaxEncodedLen(len(src)) {
		return nil, ErrBufferTooSmall
	}
	var res []byte
	switch level {
	case LevelBest:
		res = s2.EncodeBest(dst, src)
	case LevelSpeed:
		res = s2.Encode(dst, src)
	default:
		res = s2.EncodeBetter(dst, src)
	}
	if !sameBacking(res, dst) {
		return nil, ErrBufferTooSmall
	}
	return res, nil
}

func decompressS2(dst, src []byte) error {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return err
	}
	if err := checkLength(CodecS2, n, len(dst)); err != nil {
		return err
	}
	_, err = s2.Decode(dst, src)
	return err
}
