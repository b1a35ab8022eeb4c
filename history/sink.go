package history

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/ncw/directio"
)

// fileSink is where record bytes go. Nothing is visible at the final path
// until commit; abort leaves no trace.
type fileSink interface {
	io.Writer
	commit() error
	abort() error
}

// pendingSink writes through the page cache into a renameio pending file
// that is fsynced and renamed into place on commit.
type pendingSink struct {
	pf *renameio.PendingFile
}

func newPendingSink(path string) (*pendingSink, error) {
	pf, err := renameio.NewPendingFile(path)
	if err != nil {
		return nil, fmt.Errorf("create pending history file: %w", err)
	}
	return &pendingSink{pf: pf}, nil
}

func (s *pendingSink) Write(p []byte) (int, error) { return s.pf.Write(p) }

func (s *pendingSink) commit() error {
	if err := s.pf.CloseAtomicallyReplace(); err != nil {
		return errors.Join(fmt.Errorf("atomically replace history file: %w", err), s.pf.Cleanup())
	}
	return nil
}

func (s *pendingSink) abort() error { return s.pf.Cleanup() }

// stageBlocks is the staging buffer size in direct I/O blocks.
const stageBlocks = 64

// directSink writes O_DIRECT into a temp file through an aligned staging
// buffer. Only whole blocks are written until commit, which pads the tail,
// truncates the padding away and renames the file into place.
type directSink struct {
	f         *os.File
	tempPath  string
	finalPath string
	stage     []byte
	staged    int
	written   int64 // bytes accepted from the caller
}

func newDirectSink(path string) (*directSink, error) {
	tempPath := filepath.Join(filepath.Dir(path),
		fmt.Sprintf(".%s.tmp-%d", filepath.Base(path), time.Now().UnixNano()))

	f, err := directio.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open temp file with DirectIO: %w", err)
	}
	return &directSink{
		f:         f,
		tempPath:  tempPath,
		finalPath: path,
		stage:     directio.AlignedBlock(stageBlocks * directio.BlockSize),
	}, nil
}

func (s *directSink) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		c := copy(s.stage[s.staged:], p)
		s.staged += c
		p = p[c:]
		if s.staged == len(s.stage) {
			if _, err := s.f.Write(s.stage); err != nil {
				return n - len(p), err
			}
			s.staged = 0
		}
	}
	s.written += int64(n)
	return n, nil
}

func (s *directSink) commit() error {
	if s.staged > 0 {
		const mask = directio.BlockSize - 1
		padded := (s.staged + mask) &^ mask
		clear(s.stage[s.staged:padded])
		if _, err := s.f.Write(s.stage[:padded]); err != nil {
			return errors.Join(fmt.Errorf("failed to write data: %w", err), s.abort())
		}
	}
	if err := s.f.Close(); err != nil {
		os.Remove(s.tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Truncate(s.tempPath, s.written); err != nil {
		os.Remove(s.tempPath)
		return fmt.Errorf("failed to truncate file: %w", err)
	}
	if err := os.Rename(s.tempPath, s.finalPath); err != nil {
		os.Remove(s.tempPath)
		return fmt.Errorf("failed to rename to final path: %w", err)
	}
	return nil
}

func (s *directSink) abort() error {
	s.f.Close()
	if err := os.Remove(s.tempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
