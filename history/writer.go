// Package history stores a window of frames in a self-validating file and
// reads it back. Files are written to a temporary name and only appear at
// their final path once complete.
package history

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"

	"github.com/miretskiy/delaycam/compression"
)

// Frame is a plane-structured payload.
type Frame interface {
	NumPlanes() int
	Plane(i int) []byte
}

// Writer appends frames to a new history file.
type Writer struct {
	cfg     config
	path    string
	sink    fileSink
	log     *slog.Logger
	records []Record
	pos     int64
	raw     int64 // uncompressed plane bytes
	buf     []byte
	scratch []byte
	closed  bool
}

// Create starts a history file at path. Nothing exists at path until Close
// succeeds.
func Create(path string, opts ...Option) (*Writer, error) {
	cfg := newConfig(opts)

	var (
		sink fileSink
		err  error
	)
	if cfg.DirectIO {
		sink, err = newDirectSink(path)
	} else {
		sink, err = newPendingSink(path)
	}
	if err != nil {
		return nil, err
	}

	return &Writer{
		cfg:  cfg,
		path: path,
		sink: sink,
		log:  cfg.Logger.With("component", "history", "path", path),
	}, nil
}

// Append writes one frame record.
func (w *Writer) Append(seq uint64, f Frame) error {
	if w.closed {
		return ErrWriterClosed
	}
	numPlanes := f.NumPlanes()
	if numPlanes > math.MaxUint16 {
		return fmt.Errorf("%w: %d", errTooManyPlanes, numPlanes)
	}

	w.buf = append(w.buf[:0], byte(numPlanes), byte(numPlanes>>8))
	for i := 0; i < numPlanes; i++ {
		plane := f.Plane(i)
		if uint64(len(plane)) > math.MaxUint32 {
			return fmt.Errorf("plane %d too large: %d bytes", i, len(plane))
		}
		w.buf = w.appendPlane(w.buf, plane)
		w.raw += int64(len(plane))
	}

	rec := Record{
		Seq:    seq,
		Pos:    w.pos,
		Size:   int64(len(w.buf)),
		Digest: xxhash.Sum64(w.buf),
	}
	if _, err := w.sink.Write(w.buf); err != nil {
		return fmt.Errorf("write frame %d: %w", seq, err)
	}
	w.pos += rec.Size
	w.records = append(w.records, rec)
	return nil
}

// appendPlane encodes one plane, falling back to raw storage when the codec
// does not make it smaller.
func (w *Writer) appendPlane(buf, plane []byte) []byte {
	if w.cfg.Codec != compression.CodecNone && len(plane) > 0 {
		bound := compression.Bound(w.cfg.Codec, len(plane))
		if cap(w.scratch) < bound {
			w.scratch = make([]byte, bound)
		}
		out, err := compression.Compress(w.cfg.Codec, w.cfg.Level, w.scratch[:bound], plane)
		if err == nil && len(out) < len(plane) {
			buf = appendPlaneHeader(buf, planeHeader{
				codec:     uint8(w.cfg.Codec),
				rawLen:    uint32(len(plane)),
				storedLen: uint32(len(out)),
			})
			return append(buf, out...)
		}
	}
	buf = appendPlaneHeader(buf, planeHeader{
		codec:     uint8(compression.CodecNone),
		rawLen:    uint32(len(plane)),
		storedLen: uint32(len(plane)),
	})
	return append(buf, plane...)
}

// Len is the number of frames appended so far.
func (w *Writer) Len() int { return len(w.records) }

// Close writes the footer and publishes the file.
func (w *Writer) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true

	footer := encodeFooter(w.pos, w.records)
	if _, err := w.sink.Write(footer); err != nil {
		return errors.Join(fmt.Errorf("write footer: %w", err), w.sink.abort())
	}
	if err := w.sink.commit(); err != nil {
		return err
	}

	w.log.Info("wrote history",
		"frames", len(w.records),
		"raw", humanize.IBytes(uint64(w.raw)),
		"stored", humanize.IBytes(uint64(w.pos)+uint64(len(footer))),
		"codec", w.cfg.Codec)
	return nil
}

// Abort discards the file. It is a no-op after Close.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.sink.abort()
}
