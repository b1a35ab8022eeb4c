package history

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/miretskiy/delaycam/compression"
)

// StoredFrame is a frame read back from a history file.
type StoredFrame struct {
	Seq    uint64
	Planes [][]byte
}

func (f *StoredFrame) NumPlanes() int { return len(f.Planes) }

func (f *StoredFrame) Plane(i int) []byte {
	if i < 0 || i >= len(f.Planes) {
		return nil
	}
	return f.Planes[i]
}

// PlaneInfo describes how one plane is stored.
type PlaneInfo struct {
	Codec     compression.Codec
	RawLen    int
	StoredLen int
}

// Reader reads a history file. Open validates the footer and index; frame
// contents are verified as they are read.
type Reader struct {
	f       *os.File
	size    int64
	records []Record
	digests bool
}

// Open opens and validates the history file at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := newReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	return r, nil
}

func newReader(f *os.File) (*Reader, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size < minFooterSection {
		return nil, fmt.Errorf("%w: file too small (%d bytes)", ErrCorrupt, size)
	}

	tail := make([]byte, footerSize)
	if _, err := f.ReadAt(tail, size-footerSize); err != nil {
		return nil, err
	}
	ff, err := decodeFixedFooter(tail)
	if err != nil {
		return nil, err
	}
	if ff.p0 < 0 || ff.p0 > size-minFooterSection {
		return nil, fmt.Errorf("%w: invalid p0 offset %d", ErrCorrupt, ff.p0)
	}

	section := make([]byte, size-ff.p0)
	if _, err := f.ReadAt(section, ff.p0); err != nil {
		return nil, err
	}
	records, err := decodeIndex(section, ff)
	if err != nil {
		return nil, err
	}

	return &Reader{
		f:       f,
		size:    size,
		records: records,
		digests: ff.flags&flagDigests != 0,
	}, nil
}

// Len is the number of frames in the file.
func (r *Reader) Len() int { return len(r.records) }

// Records returns the index, oldest frame first.
func (r *Reader) Records() []Record { return r.records }

// readRecord loads and digest-checks the raw record for frame i.
func (r *Reader) readRecord(i int) ([]byte, error) {
	if i < 0 || i >= len(r.records) {
		return nil, fmt.Errorf("%w: %d of %d", ErrFrameRange, i, len(r.records))
	}
	rec := r.records[i]
	buf := make([]byte, rec.Size)
	if _, err := r.f.ReadAt(buf, rec.Pos); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read frame %d: %w", i, err)
	}
	if r.digests {
		if d := xxhash.Sum64(buf); d != rec.Digest {
			return nil, fmt.Errorf("%w: frame %d (seq %d)", ErrDigest, i, rec.Seq)
		}
	}
	return buf, nil
}

// walkPlanes calls fn for every plane in a record.
func walkPlanes(buf []byte, fn func(h planeHeader, data []byte) error) error {
	if len(buf) < recordHeadSize {
		return fmt.Errorf("%w: short record", ErrCorrupt)
	}
	numPlanes := int(binary.LittleEndian.Uint16(buf))
	buf = buf[recordHeadSize:]
	for i := 0; i < numPlanes; i++ {
		if len(buf) < planeHeaderSize {
			return fmt.Errorf("%w: plane %d header truncated", ErrCorrupt, i)
		}
		h := decodePlaneHeader(buf)
		buf = buf[planeHeaderSize:]
		if uint64(len(buf)) < uint64(h.storedLen) {
			return fmt.Errorf("%w: plane %d data truncated", ErrCorrupt, i)
		}
		if err := fn(h, buf[:h.storedLen]); err != nil {
			return err
		}
		buf = buf[h.storedLen:]
	}
	if len(buf) != 0 {
		return fmt.Errorf("%w: %d trailing bytes in record", ErrCorrupt, len(buf))
	}
	return nil
}

// PlaneInfo reports how frame i's planes are stored.
func (r *Reader) PlaneInfo(i int) ([]PlaneInfo, error) {
	buf, err := r.readRecord(i)
	if err != nil {
		return nil, err
	}
	var infos []PlaneInfo
	err = walkPlanes(buf, func(h planeHeader, _ []byte) error {
		infos = append(infos, PlaneInfo{
			Codec:     compression.Codec(h.codec),
			RawLen:    int(h.rawLen),
			StoredLen: int(h.storedLen),
		})
		return nil
	})
	return infos, err
}

// ReadFrame reads, verifies and decompresses frame i (0 is the oldest).
func (r *Reader) ReadFrame(i int) (*StoredFrame, error) {
	buf, err := r.readRecord(i)
	if err != nil {
		return nil, err
	}
	frame := &StoredFrame{Seq: r.records[i].Seq}
	err = walkPlanes(buf, func(h planeHeader, data []byte) error {
		plane := make([]byte, h.rawLen)
		if err := compression.Decompress(compression.Codec(h.codec), plane, data); err != nil {
			return fmt.Errorf("%w: plane %d: %v", ErrCorrupt, len(frame.Planes), err)
		}
		frame.Planes = append(frame.Planes, plane)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", i, err)
	}
	return frame, nil
}

// Verify reads every frame and returns the first error.
func (r *Reader) Verify() error {
	for i := range r.records {
		if _, err := r.ReadFrame(i); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) Close() error { return r.f.Close() }
