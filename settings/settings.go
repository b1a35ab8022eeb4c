// Package settings persists the user's capture choices across runs.
package settings

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"time"

	"go.mills.io/bitcask/v2"
)

// make it explicit that the values should be smaller than this.
const maxValueSize = 64

// FocusMode is when autofocus runs.
type FocusMode uint8

const (
	FocusOnce      FocusMode = iota // first capture start only
	FocusEverytime                  // every capture start, including reconfigures
)

func (m FocusMode) String() string {
	if m == FocusEverytime {
		return "everytime"
	}
	return "once"
}

// ParseFocusMode is the inverse of String.
func ParseFocusMode(s string) (FocusMode, error) {
	switch strings.ToLower(s) {
	case "once":
		return FocusOnce, nil
	case "everytime", "always":
		return FocusEverytime, nil
	default:
		return FocusOnce, fmt.Errorf("unknown focus mode %q", s)
	}
}

// Settings are the persisted user choices.
type Settings struct {
	Delay     time.Duration
	FrameRate float64
	Focus     FocusMode
}

var (
	keyDelay     = []byte("capture.delay")
	keyFrameRate = []byte("capture.fps")
	keyFocus     = []byte("focus.mode")
)

// Store is a bitcask-backed settings store.
type Store struct {
	db  *bitcask.Bitcask
	log *slog.Logger
}

// Open opens or creates the store under dir.
func Open(dir string, l *slog.Logger) (*Store, error) {
	db, err := bitcask.Open(filepath.Join(dir, "settings"), bitcask.WithMaxValueSize(maxValueSize))
	if err != nil {
		return nil, fmt.Errorf("failed to open bitcask: %w", err)
	}
	if l == nil {
		l = slog.Default()
	}
	return &Store{db: db, log: l.With("component", "settings")}, nil
}

// Load returns defaults overridden by every persisted value.
func (s *Store) Load(defaults Settings) (Settings, error) {
	out := defaults

	if v, ok, err := s.getUint64(keyDelay); err != nil {
		return defaults, err
	} else if ok {
		out.Delay = time.Duration(v)
	}
	if v, ok, err := s.getUint64(keyFrameRate); err != nil {
		return defaults, err
	} else if ok {
		out.FrameRate = math.Float64frombits(v)
	}
	if v, ok, err := s.getUint64(keyFocus); err != nil {
		return defaults, err
	} else if ok {
		out.Focus = FocusMode(v)
	}
	return out, nil
}

// Save persists v.
func (s *Store) Save(v Settings) error {
	if v.Delay < 0 {
		return fmt.Errorf("negative delay %v", v.Delay)
	}
	if !(v.FrameRate > 0) {
		return fmt.Errorf("frame rate must be positive, got %v", v.FrameRate)
	}
	if err := s.putUint64(keyDelay, uint64(v.Delay)); err != nil {
		return err
	}
	if err := s.putUint64(keyFrameRate, math.Float64bits(v.FrameRate)); err != nil {
		return err
	}
	if err := s.putUint64(keyFocus, uint64(v.Focus)); err != nil {
		return err
	}
	s.log.Debug("saved settings", "delay", v.Delay, "fps", v.FrameRate, "focus", v.Focus)
	return nil
}

// Reset forgets every persisted value.
func (s *Store) Reset() error {
	for _, k := range [][]byte{keyDelay, keyFrameRate, keyFocus} {
		if err := s.db.Delete(k); err != nil && !errors.Is(err, bitcask.ErrKeyNotFound) {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) getUint64(key []byte) (uint64, bool, error) {
	value, err := s.db.Get(key)
	if errors.Is(err, bitcask.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read %s: %w", key, err)
	}
	if len(value) != 8 {
		return 0, false, fmt.Errorf("read %s: corrupt value of %d bytes", key, len(value))
	}
	return binary.LittleEndian.Uint64(value), true, nil
}

func (s *Store) putUint64(key []byte, v uint64) error {
	if err := s.db.Put(key, binary.LittleEndian.AppendUint64(nil, v)); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
