package delaycam

import "log/slog"

// componentLogger tags l with the component name, falling back to the
// process default logger when none was injected.
func componentLogger(l *slog.Logger, component string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", component)
}
