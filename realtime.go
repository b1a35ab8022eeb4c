package delaycam

import (
	"sync/atomic"
	"time"
)

// RealtimeSignal decides, once per processed frame, whether the display
// should show the frame just captured instead of the delayed one.
type RealtimeSignal interface {
	NeedRealtime() bool
}

// RealtimeFunc adapts a plain function to RealtimeSignal.
type RealtimeFunc func() bool

func (f RealtimeFunc) NeedRealtime() bool { return f() }

// RealtimeGate is a RealtimeSignal driven by user input. Realtime is needed
// while the gate is pressed and for a grace period after release or nudge,
// so a tap gives a short glimpse of the live feed.
//
// All methods are safe for concurrent use.
type RealtimeGate struct {
	pressed    atomic.Bool
	graceUntil atomic.Int64 // unix nanos
	grace      time.Duration
	now        func() time.Time
}

// NewRealtimeGate creates a released gate with the given grace period.
func NewRealtimeGate(grace time.Duration) *RealtimeGate {
	return &RealtimeGate{grace: grace, now: time.Now}
}

// Press holds the gate open until Release.
func (g *RealtimeGate) Press() {
	g.pressed.Store(true)
}

// Release closes the gate after the grace period.
func (g *RealtimeGate) Release() {
	g.pressed.Store(false)
	g.Nudge()
}

// Nudge opens the gate for one grace period without pressing it.
func (g *RealtimeGate) Nudge() {
	g.graceUntil.Store(g.now().Add(g.grace).UnixNano())
}

func (g *RealtimeGate) NeedRealtime() bool {
	if g.pressed.Load() {
		return true
	}
	return g.now().UnixNano() < g.graceUntil.Load()
}
