//go:build linux || darwin

package delaycam

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestLifecycle(t *testing.T, buffers int) (*Lifecycle, *fakeDevice, []*MappedBuffer) {
	t.Helper()
	dev := newFakeDevice(t, 64, 16, 16)
	reg := NewRegistry(nil)
	l := NewLifecycle(dev, reg)
	mapped, err := l.Configure(StreamConfig{FrameRate: 30, BufferCount: buffers})
	require.NoError(t, err)
	require.Len(t, mapped, buffers)
	require.Equal(t, buffers, reg.Len())
	return l, dev, mapped
}

func TestLifecycle_RequestCycle(t *testing.T) {
	l, dev, _ := newTestLifecycle(t, 2)
	defer l.Stop()

	require.NoError(t, l.StartCapture())
	require.True(t, l.Capturing())
	require.Equal(t, 2, dev.inFlight())
	for i := range l.requests {
		require.Equal(t, RequestInFlight, l.requests[i].State())
	}

	require.Equal(t, 1, dev.Complete(1))
	select {
	case <-l.Wake():
	default:
		t.Fatal("completion did not wake the consumer")
	}

	req, ok := l.DrainOne()
	require.True(t, ok)
	require.Equal(t, RequestDone, req.State())
	require.Equal(t, uint64(0), req.Sequence)
	_, ok = l.DrainOne()
	require.False(t, ok, "empty queue is not an error")

	require.NoError(t, l.Recycle(req, nil))
	require.Equal(t, RequestInFlight, req.State())
	require.Equal(t, 2, dev.inFlight())

	// A second recycle of the same completion is illegal
	require.ErrorIs(t, l.Recycle(req, nil), ErrIllegalTransition)
}

func TestLifecycle_FIFODrain(t *testing.T) {
	l, dev, _ := newTestLifecycle(t, 4)
	defer l.Stop()
	require.NoError(t, l.StartCapture())

	require.Equal(t, 4, dev.Complete(4))
	var seqs []uint64
	for {
		req, ok := l.DrainOne()
		if !ok {
			break
		}
		seqs = append(seqs, req.Sequence)
		require.NoError(t, l.Recycle(req, nil))
	}
	require.Equal(t, []uint64{0, 1, 2, 3}, seqs)
}

func TestLifecycle_RecycleSwapsBuffer(t *testing.T) {
	l, dev, mapped := newTestLifecycle(t, 2)
	defer l.Stop()
	require.NoError(t, l.StartCapture())

	dev.Complete(1)
	req, ok := l.DrainOne()
	require.True(t, ok)
	other := mapped[1]
	if req.BufferID() == other.ID() {
		other = mapped[0]
	}
	require.NoError(t, l.Recycle(req, other))
	require.Equal(t, other.ID(), req.BufferID())
}

func TestLifecycle_RequeueFailure(t *testing.T) {
	l, dev, _ := newTestLifecycle(t, 2)
	defer l.Stop()
	require.NoError(t, l.StartCapture())

	dev.Complete(2)
	first, _ := l.DrainOne()
	second, _ := l.DrainOne()

	queueErr := errors.New("device busy")
	dev.setQueueErr(queueErr)
	require.ErrorIs(t, l.Recycle(first, nil), queueErr)
	require.Equal(t, RequestFree, first.State())
	require.Equal(t, uint64(1), l.Stats().RequeueFailures)
	require.Zero(t, dev.inFlight())

	// The parked request goes back out with the next recycle
	dev.setQueueErr(nil)
	require.NoError(t, l.Recycle(second, nil))
	require.Equal(t, RequestInFlight, first.State())
	require.Equal(t, RequestInFlight, second.State())
	require.Equal(t, 2, dev.inFlight())
}

func TestLifecycle_Autofocus(t *testing.T) {
	l, dev, _ := newTestLifecycle(t, 2)
	defer l.Stop()

	l.TriggerAutofocus()
	require.NoError(t, l.StartCapture())
	require.Equal(t, 1, dev.afTriggers, "trigger is one-shot")

	dev.Complete(1)
	req, _ := l.DrainOne()
	require.True(t, req.Controls.AutofocusTrigger)
	require.NoError(t, l.Recycle(req, nil))
	require.False(t, req.Controls.AutofocusTrigger, "controls reset on reuse")
	require.Equal(t, 1, dev.afTriggers)

	l.TriggerAutofocus()
	dev.Complete(1)
	req, _ = l.DrainOne()
	require.NoError(t, l.Recycle(req, nil))
	require.Equal(t, 2, dev.afTriggers)
}

func TestLifecycle_StopCancelsInFlight(t *testing.T) {
	l, dev, _ := newTestLifecycle(t, 3)
	require.NoError(t, l.StartCapture())

	dev.Complete(1) // one Done, two InFlight
	require.NoError(t, l.Stop())

	st := l.Stats()
	require.Equal(t, uint64(2), st.StaleCompletions)
	_, ok := l.DrainOne()
	require.False(t, ok, "done queue is cleared on stop")
	require.False(t, l.Capturing())
	require.Zero(t, l.registry.Len())
	require.Equal(t, 1, dev.released)

	// Stop is idempotent
	require.NoError(t, l.Stop())
	require.Equal(t, 1, dev.released)
}

func TestLifecycle_StaleGeneration(t *testing.T) {
	l, dev, _ := newTestLifecycle(t, 2)
	require.NoError(t, l.StartCapture())
	old := &l.requests[0]
	require.NoError(t, l.Stop())

	_, err := l.Configure(StreamConfig{FrameRate: 30, BufferCount: 2})
	require.NoError(t, err)
	require.NoError(t, l.StartCapture())
	defer l.Stop()
	before := l.Stats().StaleCompletions

	// A late completion from the previous configuration
	old.state.Store(uint32(RequestInFlight))
	l.onCompletion(old, StatusComplete)
	require.Equal(t, before+1, l.Stats().StaleCompletions)
	_, ok := l.DrainOne()
	require.False(t, ok)
	require.Equal(t, 2, dev.inFlight())
}

func TestLifecycle_Errors(t *testing.T) {
	dev := newFakeDevice(t, 16)
	l := NewLifecycle(dev, NewRegistry(nil))
	require.ErrorIs(t, l.StartCapture(), ErrNotConfigured)
	require.NoError(t, l.Stop())

	dev.configureErr = errors.New("no sensor")
	_, err := l.Configure(StreamConfig{BufferCount: 2})
	require.ErrorIs(t, err, dev.configureErr)

	dev.configureErr = nil
	_, err = l.Configure(StreamConfig{BufferCount: 2})
	require.NoError(t, err)
	_, err = l.Configure(StreamConfig{BufferCount: 2})
	require.ErrorIs(t, err, ErrAlreadyConfigured)

	require.NoError(t, l.StartCapture())
	require.ErrorIs(t, l.StartCapture(), ErrAlreadyCapturing)
	require.NoError(t, l.Stop())
}

func TestLifecycle_StartUnwindsOnQueueFailure(t *testing.T) {
	l, dev, _ := newTestLifecycle(t, 2)
	dev.setQueueErr(errors.New("queue rejected"))

	require.Error(t, l.StartCapture())
	require.False(t, l.Capturing())
	for i := range l.requests {
		require.Equal(t, RequestFree, l.requests[i].State())
	}

	// Still configured: capture can start once the device recovers
	dev.setQueueErr(nil)
	require.NoError(t, l.StartCapture())
	require.NoError(t, l.Stop())
}

// TestLifecycle_TeardownRace has two producers completing requests while
// the consumer recycles and then stops. Nothing may remain queued and
// nothing may be accepted once Stop has begun.
func TestLifecycle_TeardownRace(t *testing.T) {
	defer goleak.VerifyNone(t)

	for iter := 0; iter < 50; iter++ {
		l, dev, _ := newTestLifecycle(t, 8)
		require.NoError(t, l.StartCapture())

		var wg sync.WaitGroup
		stop := make(chan struct{})
		for p := 0; p < 2; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
						dev.Complete(1)
					}
				}
			}()
		}

		// Consume for a while, then tear down under load
		for i := 0; i < 20; i++ {
			if req, ok := l.DrainOne(); ok {
				require.NoError(t, l.Recycle(req, nil))
			}
		}
		require.NoError(t, l.Stop())

		_, ok := l.DrainOne()
		require.False(t, ok, "done queue must be empty after teardown")
		require.False(t, l.Capturing())

		close(stop)
		wg.Wait()

		_, ok = l.DrainOne()
		require.False(t, ok, "no completion accepted after teardown")
		require.Zero(t, dev.inFlight())
	}
}
