package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDuration = 200 * time.Millisecond

// Holder keeps the current configuration and reloads it when the file
// changes on disk. Listeners receive each successfully reloaded File.
type Holder struct {
	path string
	log  *slog.Logger

	mu      sync.RWMutex
	current File

	listenersMu sync.RWMutex
	listeners   []chan<- File

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewHolder creates a holder for path starting from initial.
func NewHolder(path string, initial File, l *slog.Logger) *Holder {
	if l == nil {
		l = slog.Default()
	}
	return &Holder{
		path:    path,
		current: initial,
		log:     l.With("component", "config", "path", path),
	}
}

// Get returns the current configuration.
func (h *Holder) Get() File {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Subscribe registers ch for reload notifications. Sends never block; a
// listener that is not keeping up misses updates.
func (h *Holder) Subscribe(ch chan<- File) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

// Reload re-reads the file. An invalid file keeps the old configuration.
func (h *Holder) Reload() error {
	next, err := Load(h.path)
	if err != nil {
		h.log.Error("config reload failed", "error", err)
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	h.current = next
	h.mu.Unlock()

	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- next:
		default:
			h.log.Warn("skipped notifying config listener")
		}
	}
	h.log.Info("config reloaded", "delay", next.Delay, "fps", next.FrameRate)
	return nil
}

// Watch reloads on every change to the file until ctx is done or Close is
// called. The directory is watched so editors that replace the file by
// rename are seen too.
func (h *Holder) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(h.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	h.watcher = w

	h.wg.Add(1)
	go h.watchLoop(ctx, w)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer h.wg.Done()

	name := filepath.Clean(h.path)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			h.log.Debug("config file changed", "op", ev.Op.String())
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDuration, func() {
				_ = h.Reload()
			})

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.log.Error("config watcher error", "error", err)
		}
	}
}

// Close stops watching and waits for the watch loop to exit.
func (h *Holder) Close() error {
	var err error
	if h.watcher != nil {
		err = h.watcher.Close()
	}
	h.wg.Wait()
	return err
}
