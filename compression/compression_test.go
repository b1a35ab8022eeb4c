package compression

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

var codecs = []Codec{CodecNone, CodecZstd, CodecLZ4, CodecS2}

// planeLike produces a gradient with sparse noise, roughly what a luma
// plane compresses like.
func planeLike(n int) []byte {
	r := rand.New(rand.NewSource(1))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i / 64)
		if i%16 == 0 {
			b[i] += byte(r.Intn(3))
		}
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	src := planeLike(64 << 10)
	for _, c := range codecs {
		for _, l := range []Level{LevelDefault, LevelSpeed, LevelBest} {
			dst := make([]byte, Bound(c, len(src)))
			out, err := Compress(c, l, dst, src)
			require.NoError(t, err, "%s level %d", c, l)
			if c != CodecNone {
				require.Less(t, len(out), len(src), "%s level %d", c, l)
			}

			raw := make([]byte, len(src))
			require.NoError(t, Decompress(c, raw, out), "%s level %d", c, l)
			require.True(t, bytes.Equal(src, raw), "%s level %d", c, l)
		}
	}
}

func TestIncompressible(t *testing.T) {
	src := make([]byte, 4096)
	rand.New(rand.NewSource(2)).Read(src)

	for _, c := range []Codec{CodecZstd, CodecLZ4} {
		_, err := Compress(c, LevelDefault, make([]byte, Bound(c, len(src))), src)
		require.True(t, IsBufferTooSmall(err), "%s: %v", c, err)
	}
}

func TestShortDestination(t *testing.T) {
	src := planeLike(4096)
	_, err := Compress(CodecS2, LevelDefault, make([]byte, 16), src)
	require.ErrorIs(t, err, ErrBufferTooSmall)
	_, err = Compress(CodecNone, LevelDefault, make([]byte, 16), src)
	require.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestDecompressLengthMismatch(t *testing.T) {
	src := planeLike(8192)
	for _, c := range codecs {
		out, err := Compress(c, LevelDefault, make([]byte, Bound(c, len(src))), src)
		require.NoError(t, err)
		require.Error(t, Decompress(c, make([]byte, len(src)-1), out), "%s", c)
	}
}

func TestParseCodec(t *testing.T) {
	for _, c := range codecs {
		got, err := ParseCodec(c.String())
		require.NoError(t, err)
		require.Equal(t, c, got)
	}
	got, err := ParseCodec(" LZ4 ")
	require.NoError(t, err)
	require.Equal(t, CodecLZ4, got)

	_, err = ParseCodec("brotli")
	require.ErrorIs(t, err, ErrUnknownCodec)
	require.Equal(t, "codec(9)", Codec(9).String())

	_, err = Compress(Codec(9), LevelDefault, nil, nil)
	require.ErrorIs(t, err, ErrUnknownCodec)
	require.ErrorIs(t, Decompress(Codec(9), nil, nil), ErrUnknownCodec)
}
