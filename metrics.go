package delaycam

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "delaycam"

// metrics exposes the pipeline's atomic counters as Prometheus collectors.
// Values are read at scrape time; nothing on the frame path touches them.
type metrics struct {
	collectors []prometheus.Collector
	reg        prometheus.Registerer
}

func newMetrics(p *Pipeline) *metrics {
	counter := func(name, help string, fn func() uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn()) })
	}
	gauge := func(name, help string, fn func() int64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn()) })
	}

	lc := p.lc
	return &metrics{
		collectors: []prometheus.Collector{
			counter("frames_stored_total", "Frames copied into the frame pool", p.stats.stored.Load),
			counter("frames_rendered_total", "Frames handed to the sink", p.stats.rendered.Load),
			counter("size_mismatch_total", "Stores whose plane layout differed from the pool's", p.stats.mismatches.Load),
			counter("skipped_frames_total", "Gaps in the device frame sequence", p.stats.skipped.Load),
			counter("missing_buffer_total", "Completions whose buffer had no mapping", p.stats.missing.Load),
			counter("spurious_wake_total", "Wakes that found no completed request", lc.spurious.Load),
			counter("stale_completion_total", "Completions dropped as cancelled or stale", lc.stale.Load),
			counter("requeue_failure_total", "Requests the device refused to queue", lc.requeueFailures.Load),
			counter("overflow_drop_total", "Completions that found the done queue full", lc.overflow.Load),
			gauge("pool_frames", "Frames currently held by the pool", p.stats.poolSize.Load),
			gauge("pool_capacity_frames", "Frame pool capacity", p.stats.poolCapacity.Load),
			gauge("pool_bytes", "Frame pool allocation in bytes", p.stats.poolBytes.Load),
		},
	}
}

// register adds every collector to reg. On failure nothing stays registered.
func (m *metrics) register(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}
	for i, c := range m.collectors {
		if err := reg.Register(c); err != nil {
			for _, done := range m.collectors[:i] {
				reg.Unregister(done)
			}
			return err
		}
	}
	m.reg = reg
	return nil
}

func (m *metrics) unregister() {
	if m.reg == nil {
		return
	}
	for _, c := range m.collectors {
		m.reg.Unregister(c)
	}
	m.reg = nil
}
