// Package metrics exposes optional Prometheus instrumentation for a
// pool's occupancy. A nil *Collector is always safe to call — metrics
// are opt-in, never required.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector tracks live/idle/waiter gauges for one pool. Build with
// NewCollector and register it with the caller's prometheus.Registerer,
// or pass a nil *Collector anywhere one is expected to disable metrics
// entirely.
type Collector struct {
	live    prometheus.Gauge
	idle    prometheus.Gauge
	waiters prometheus.Gauge
	dials   prometheus.Counter
	dialErrors prometheus.Counter
}

// NewCollector builds and registers gauges/counters for one authority
// under reg. authority is used as a constant label so multiple pools can
// share a registry.
func NewCollector(reg prometheus.Registerer, authority string) *Collector {
	labels := prometheus.Labels{"authority": authority}
	c := &Collector{
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulse", Subsystem: "pool", Name: "live_connections",
			Help: "Number of connections currently tracked by the pool.",
			ConstLabels: labels,
		}),
		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulse", Subsystem: "pool", Name: "idle_connections",
			Help: "Number of idle, available connections.",
			ConstLabels: labels,
		}),
		waiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulse", Subsystem: "pool", Name: "waiters",
			Help: "Number of acquirers currently queued.",
			ConstLabels: labels,
		}),
		dials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse", Subsystem: "pool", Name: "dials_total",
			Help: "Number of successful dials.",
			ConstLabels: labels,
		}),
		dialErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse", Subsystem: "pool", Name: "dial_errors_total",
			Help: "Number of failed dials.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(c.live, c.idle, c.waiters, c.dials, c.dialErrors)
	}
	return c
}

func (c *Collector) SetLive(n int) {
	if c == nil {
		return
	}
	c.live.Set(float64(n))
}

func (c *Collector) SetIdle(n int) {
	if c == nil {
		return
	}
	c.idle.Set(float64(n))
}

func (c *Collector) SetWaiters(n int) {
	if c == nil {
		return
	}
	c.waiters.Set(float64(n))
}

func (c *Collector) DialSucceeded() {
	if c == nil {
		return
	}
	c.dials.Inc()
}

func (c *Collector) DialFailed() {
	if c == nil {
		return
	}
	c.dialErrors.Inc()
}
