package main

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/miretskiy/delaycam"
)

// logSink stands in for a display. It logs mode changes and fill progress
// and reports the displayed frame's lag once per interval.
type logSink struct {
	log      *slog.Logger
	interval time.Duration
	last     time.Time

	rendered atomic.Uint64
	realtime atomic.Uint64
}

func newLogSink(l *slog.Logger, interval time.Duration) *logSink {
	return &logSink{log: l.With("component", "sink"), interval: interval}
}

func (s *logSink) Render(f delaycam.SelectedFrame) {
	s.rendered.Add(1)
	if f.Realtime {
		s.realtime.Add(1)
	}
	if now := time.Now(); now.Sub(s.last) >= s.interval {
		s.last = now
		s.log.Info("showing frame",
			"seq", f.Sequence,
			"planes", f.Frame.NumPlanes(),
			"realtime", f.Realtime,
			"rendered", s.rendered.Load())
	}
}

func (s *logSink) Progress(filled, capacity int) {
	// Log every tenth of the way
	step := max(capacity/10, 1)
	if filled%step == 0 || filled == capacity {
		s.log.Info("filling delay buffer", "filled", filled, "capacity", capacity,
			"percent", 100*filled/max(capacity, 1))
	}
}

func (s *logSink) SwitchMode(m delaycam.ViewMode) {
	s.log.Info("view mode", "mode", m.String())
}
