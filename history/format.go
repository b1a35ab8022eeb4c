package history

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// A history file is a sequence of frame records followed by a footer:
//
//	[record 0][record 1]...[record N-1]
//	p0: Magic(8)
//	    Index(N × 32)   Seq(8) + Pos(8) + Size(8) + Digest(8)
//	p2: Magic(8)
//	    Flags(8) + p0(8) + NumRecords(4) + CRC32(index)(4) + Magic(8)
//
// A record is NumPlanes(2) followed, per plane, by Codec(1) + RawLen(4) +
// StoredLen(4) and the stored bytes. Digest is the xxhash of the whole
// record as stored.
const (
	historyMagic = 0xDE1A7CA3DE1A7CA3

	magicSize       = 8
	indexEntrySize  = 32
	footerSize      = 32
	planeHeaderSize = 9
	recordHeadSize  = 2

	minFooterSection = magicSize + magicSize + footerSize

	flagDigests = 1 << 0
)

var (
	ErrCorrupt       = errors.New("corrupt history file")
	ErrDigest        = errors.New("frame digest mismatch")
	ErrFrameRange    = errors.New("frame index out of range")
	ErrWriterClosed  = errors.New("history writer closed")
	errTooManyPlanes = errors.New("too many planes")
)

// Record locates one frame in a history file.
type Record struct {
	Seq    uint64 // pool sequence of the frame
	Pos    int64  // offset of the record
	Size   int64  // stored record size
	Digest uint64 // xxhash of the stored record
}

func appendIndexEntry(buf []byte, rec Record) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, rec.Seq)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(rec.Pos))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(rec.Size))
	buf = binary.LittleEndian.AppendUint64(buf, rec.Digest)
	return buf
}

func decodeIndexEntry(buf []byte) Record {
	return Record{
		Seq:    binary.LittleEndian.Uint64(buf[0:8]),
		Pos:    int64(binary.LittleEndian.Uint64(buf[8:16])),
		Size:   int64(binary.LittleEndian.Uint64(buf[16:24])),
		Digest: binary.LittleEndian.Uint64(buf[24:32]),
	}
}

// encodeFooter renders the footer section that starts at offset p0.
func encodeFooter(p0 int64, records []Record) []byte {
	buf := make([]byte, 0, minFooterSection+indexEntrySize*len(records))
	buf = binary.LittleEndian.AppendUint64(buf, historyMagic)

	indexStart := len(buf)
	for i := range records {
		buf = appendIndexEntry(buf, records[i])
	}
	sum := crc32.ChecksumIEEE(buf[indexStart:])

	buf = binary.LittleEndian.AppendUint64(buf, historyMagic)
	buf = binary.LittleEndian.AppendUint64(buf, flagDigests)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p0))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(records)))
	buf = binary.LittleEndian.AppendUint32(buf, sum)
	buf = binary.LittleEndian.AppendUint64(buf, historyMagic)
	return buf
}

// fixedFooter is the trailing 32 bytes of a history file.
type fixedFooter struct {
	flags      uint64
	p0         int64
	numRecords uint32
	checksum   uint32
}

func decodeFixedFooter(buf []byte) (fixedFooter, error) {
	if len(buf) != footerSize {
		return fixedFooter{}, fmt.Errorf("%w: footer is %d bytes", ErrCorrupt, len(buf))
	}
	if magic := binary.LittleEndian.Uint64(buf[24:32]); magic != historyMagic {
		return fixedFooter{}, fmt.Errorf("%w: invalid footer magic %x", ErrCorrupt, magic)
	}
	return fixedFooter{
		flags:      binary.LittleEndian.Uint64(buf[0:8]),
		p0:         int64(binary.LittleEndian.Uint64(buf[8:16])),
		numRecords: binary.LittleEndian.Uint32(buf[16:20]),
		checksum:   binary.LittleEndian.Uint32(buf[20:24]),
	}, nil
}

// decodeIndex validates the footer section (p0 to end of file) and returns
// the index entries.
func decodeIndex(section []byte, ff fixedFooter) ([]Record, error) {
	want := minFooterSection + indexEntrySize*int64(ff.numRecords)
	if int64(len(section)) != want {
		return nil, fmt.Errorf("%w: footer section is %d bytes, want %d", ErrCorrupt, len(section), want)
	}
	if magic := binary.LittleEndian.Uint64(section[0:8]); magic != historyMagic {
		return nil, fmt.Errorf("%w: invalid p0 magic %x", ErrCorrupt, magic)
	}
	p1 := magicSize
	p2 := p1 + indexEntrySize*int(ff.numRecords)
	if magic := binary.LittleEndian.Uint64(section[p2 : p2+8]); magic != historyMagic {
		return nil, fmt.Errorf("%w: invalid p2 magic %x", ErrCorrupt, magic)
	}

	index := section[p1:p2]
	if sum := crc32.ChecksumIEEE(index); sum != ff.checksum {
		return nil, fmt.Errorf("%w: index checksum %x != %x", ErrCorrupt, sum, ff.checksum)
	}

	records := make([]Record, ff.numRecords)
	for i := range records {
		records[i] = decodeIndexEntry(index[i*indexEntrySize : (i+1)*indexEntrySize])
		if records[i].Pos < 0 || records[i].Size < recordHeadSize || records[i].Size > ff.p0-records[i].Pos {
			return nil, fmt.Errorf("%w: record %d out of bounds", ErrCorrupt, i)
		}
	}
	return records, nil
}

// planeHeader describes one stored plane inside a record.
type planeHeader struct {
	codec     uint8
	rawLen    uint32
	storedLen uint32
}

func appendPlaneHeader(buf []byte, h planeHeader) []byte {
	buf = append(buf, h.codec)
	buf = binary.LittleEndian.AppendUint32(buf, h.rawLen)
	buf = binary.LittleEndian.AppendUint32(buf, h.storedLen)
	return buf
}

func decodePlaneHeader(buf []byte) planeHeader {
	return planeHeader{
		codec:     buf[0],
		rawLen:    binary.LittleEndian.Uint32(buf[1:5]),
		storedLen: binary.LittleEndian.Uint32(buf[5:9]),
	}
}
