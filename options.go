package delaycam

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// config holds internal configuration
type config struct {
	Delay       time.Duration // 0 = passthrough, no frame pool
	FrameRate   float64       // frames per second requested from the device
	BufferCount int           // hardware buffers (and requests) per configuration
	Prewarm     bool          // fault in pool arenas at creation
	MemoryProbe MemoryProbe
	Realtime    RealtimeSignal
	Logger      *slog.Logger
	Registerer  prometheus.Registerer
}

// Option configures a Pipeline or a FramePool
type Option interface {
	apply(*config)
}

// funcOpt wraps a function as an Option
type funcOpt func(*config)

func (f funcOpt) apply(c *config) {
	f(c)
}

// WithDelay sets how far behind capture the display runs (default: 5s).
// Zero disables the frame pool and shows frames as they arrive.
func WithDelay(d time.Duration) Option {
	return funcOpt(func(c *config) {
		c.Delay = d
	})
}

// WithFrameRate sets the capture frame rate in frames per second (default: 30)
func WithFrameRate(fps float64) Option {
	return funcOpt(func(c *config) {
		c.FrameRate = fps
	})
}

// WithBufferCount sets how many hardware buffers are cycled through the
// device (default: 4). More buffers tolerate slower consumers at the cost
// of device memory.
func WithBufferCount(n int) Option {
	return funcOpt(func(c *config) {
		c.BufferCount = n
	})
}

// WithPrewarm enables/disables touching every pool page at creation (default: true).
// Prewarming makes creation slow for long delays but moves page faults out
// of the frame path.
func WithPrewarm(enabled bool) Option {
	return funcOpt(func(c *config) {
		c.Prewarm = enabled
	})
}

// WithMemoryProbe replaces the system available-memory probe used to size
// check the frame pool.
func WithMemoryProbe(p MemoryProbe) Option {
	return funcOpt(func(c *config) {
		c.MemoryProbe = p
	})
}

// WithRealtimeSignal sets the source of the need-realtime decision that
// is consulted once per processed frame (default: never realtime).
func WithRealtimeSignal(s RealtimeSignal) Option {
	return funcOpt(func(c *config) {
		c.Realtime = s
	})
}

// WithLogger sets the structured logger (default: slog.Default())
func WithLogger(l *slog.Logger) Option {
	return funcOpt(func(c *config) {
		c.Logger = l
	})
}

// WithRegisterer registers pipeline metrics with r (default: not registered)
func WithRegisterer(r prometheus.Registerer) Option {
	return funcOpt(func(c *config) {
		c.Registerer = r
	})
}

// defaultConfig returns sensible defaults
func defaultConfig() config {
	return config{
		Delay:       5 * time.Second,
		FrameRate:   30,
		BufferCount: 4,
		Prewarm:     true,
		MemoryProbe: AvailableMemory,
		Realtime:    RealtimeFunc(func() bool { return false }),
	}
}

func newConfig(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	return cfg
}
