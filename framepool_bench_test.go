package delaycam

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/miretskiy/delaycam/compression"
	"github.com/miretskiy/delaycam/history"
)

// 1080p YUV420
var benchPlanes = []int{1920 * 1080, 960 * 540, 960 * 540}

// BenchmarkStoreFrame measures the per-frame copy into the pool, the only
// work done on every captured frame.
func BenchmarkStoreFrame(b *testing.B) {
	for _, prewarm := range []bool{false, true} {
		b.Run(fmt.Sprintf("prewarm=%t", prewarm), func(b *testing.B) {
			src := newTestFrame(7, benchPlanes...)
			pool, err := NewFramePool(src, 90, WithPrewarm(prewarm))
			if err != nil {
				b.Skip(err)
			}
			defer pool.Close()

			hist := hdrhistogram.New(1, int64(time.Second), 3)
			b.SetBytes(int64(pool.BytesPerFrame()))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				start := time.Now()
				pool.StoreFrame(src)
				_ = hist.RecordValue(time.Since(start).Nanoseconds())
			}
			b.StopTimer()

			b.ReportMetric(hist.Mean(), "avg-ns")
			b.ReportMetric(float64(hist.ValueAtQuantile(99)), "p99-ns")
			b.ReportMetric(float64(hist.Max()), "max-ns")
		})
	}
}

// BenchmarkExportHistory writes a 30 frame window per iteration.
func BenchmarkExportHistory(b *testing.B) {
	src := newTestFrame(0, benchPlanes...)
	for i := range src[0] {
		src[0][i] = byte(i / 1920)
	}
	pool, err := NewFramePool(src, 30, WithPrewarm(false))
	if err != nil {
		b.Skip(err)
	}
	defer pool.Close()
	for i := 0; i < pool.Capacity(); i++ {
		pool.StoreFrame(src)
	}

	for _, tc := range []struct {
		codec    compression.Codec
		directIO bool
	}{
		{compression.CodecNone, false},
		{compression.CodecNone, true},
		{compression.CodecS2, false},
		{compression.CodecLZ4, false},
		{compression.CodecZstd, false},
	} {
		b.Run(fmt.Sprintf("%s/direct=%t", tc.codec, tc.directIO), func(b *testing.B) {
			dir := b.TempDir()
			hist := hdrhistogram.New(1, int64(time.Minute), 3)
			b.SetBytes(int64(pool.BytesPerFrame() * pool.Size()))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				start := time.Now()
				w, err := history.Create(filepath.Join(dir, "window.hist"),
					history.WithCodec(tc.codec, compression.LevelSpeed),
					history.WithDirectIO(tc.directIO))
				if err != nil {
					b.Skip(err)
				}
				if _, err := exportPool(w, pool); err != nil {
					b.Fatal(err)
				}
				if err := w.Close(); err != nil {
					b.Fatal(err)
				}
				_ = hist.RecordValue(time.Since(start).Nanoseconds())
			}
			b.StopTimer()
			b.ReportMetric(float64(hist.ValueAtQuantile(50))/1e6, "p50-ms")
			b.ReportMetric(float64(hist.ValueAtQuantile(99))/1e6, "p99-ms")
		})
	}
}
