package delaycam

import (
	"errors"
	"fmt"

	"github.com/miretskiy/delaycam/history"
)

// ExportHistory writes the frames currently in the pool to a history file
// at path, oldest first, and returns how many were written. It works while
// capturing and after Stop; frame processing pauses for the duration.
func (p *Pipeline) ExportHistory(path string, opts ...history.Option) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	if p.pool == nil || p.pool.Size() == 0 {
		return 0, ErrNoFrames
	}

	if p.cfg.Logger != nil {
		opts = append([]history.Option{history.WithLogger(p.cfg.Logger)}, opts...)
	}
	w, err := history.Create(path, opts...)
	if err != nil {
		return 0, err
	}
	n, err := exportPool(w, p.pool)
	if err != nil {
		return 0, errors.Join(err, w.Abort())
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

func exportPool(w *history.Writer, pool *FramePool) (int, error) {
	size := pool.Size()
	for i := 0; i < size; i++ {
		f := pool.Frame(i)
		if err := w.Append(f.Sequence(), f); err != nil {
			return i, fmt.Errorf("export frame %d: %w", i, err)
		}
	}
	return size, nil
}
