package history

import (
	"log/slog"

	"github.com/miretskiy/delaycam/compression"
)

// config holds writer configuration
type config struct {
	Codec    compression.Codec
	Level    compression.Level
	DirectIO bool
	Logger   *slog.Logger
}

// Option configures a Writer
type Option interface {
	apply(*config)
}

// funcOpt wraps a function as an Option
type funcOpt func(*config)

func (f funcOpt) apply(c *config) {
	f(c)
}

// WithCodec compresses planes with c at level l (default: s2, default level).
// Planes that do not shrink are stored raw.
func WithCodec(c compression.Codec, l compression.Level) Option {
	return funcOpt(func(cfg *config) {
		cfg.Codec = c
		cfg.Level = l
	})
}

// WithDirectIO writes through O_DIRECT with aligned staging (default: false).
// Useful for long exports that should not evict the page cache.
func WithDirectIO(enabled bool) Option {
	return funcOpt(func(c *config) {
		c.DirectIO = enabled
	})
}

// WithLogger sets the structured logger (default: slog.Default())
func WithLogger(l *slog.Logger) Option {
	return funcOpt(func(c *config) {
		c.Logger = l
	})
}

func newConfig(opts []Option) config {
	cfg := config{Codec: compression.CodecS2}
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
