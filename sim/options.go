package sim

import "log/slog"

type config struct {
	Width, Height int
	Format        Format
	Paced         bool
	SequenceGap   int
	Logger        *slog.Logger
}

// Option configures a simulated Device
type Option interface {
	apply(*config)
}

// funcOpt wraps a function as an Option
type funcOpt func(*config)

func (f funcOpt) apply(c *config) {
	f(c)
}

// WithSize sets the frame geometry (default: 640x480)
func WithSize(width, height int) Option {
	return funcOpt(func(c *config) {
		c.Width = width
		c.Height = height
	})
}

// WithFormat sets the pixel layout (default: YUV420)
func WithFormat(f Format) Option {
	return funcOpt(func(c *config) {
		c.Format = f
	})
}

// WithPacing enables/disables holding frames to the configured frame rate
// (default: true). Unpaced devices complete requests as fast as they are
// queued.
func WithPacing(enabled bool) Option {
	return funcOpt(func(c *config) {
		c.Paced = enabled
	})
}

// WithSequenceGap skips one device sequence number every n frames, as a
// sensor does when it drops frames (default: 0, never).
func WithSequenceGap(n int) Option {
	return funcOpt(func(c *config) {
		c.SequenceGap = n
	})
}

// WithLogger sets the structured logger (default: slog.Default())
func WithLogger(l *slog.Logger) Option {
	return funcOpt(func(c *config) {
		c.Logger = l
	})
}

func defaultConfig() config {
	return config{
		Width:  640,
		Height: 480,
		Format: FormatYUV420,
		Paced:  true,
	}
}
