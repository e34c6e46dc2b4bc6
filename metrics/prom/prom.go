// Package prom exports cache and Manager metrics to Prometheus.
package prom

import (
	"time"

	"github.com/IvanBrykalov/quotacache/cache"
	"github.com/prometheus/client_golang/prometheus"
)

// Adapter implements cache.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
// Use one Adapter per cache and tell them apart with constLabels.
type Adapter struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	evicts     *prometheus.CounterVec
	rejects    *prometheus.CounterVec
	migrations *prometheus.CounterVec
	sizeEnt    prometheus.Gauge
	sizeBytes  prometheus.Gauge
	softLimit  prometheus.Gauge
	hardLimit  prometheus.Gauge
	buckets    prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}
	counterVec := func(name, help, label string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		}, []string{label})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}

	a := &Adapter{
		hits:       counter("hits_total", "Cache hits"),
		misses:     counter("misses_total", "Cache misses"),
		evicts:     counterVec("evictions_total", "Cache evictions by reason", "reason"),
		rejects:    counterVec("rejects_total", "Rejected inserts by reason", "reason"),
		migrations: counterVec("migrations_total", "Table migration events by phase", "phase"),
		sizeEnt:    gauge("size_entries", "Number of resident entries"),
		sizeBytes:  gauge("size_bytes", "Resident bytes charged to the cache"),
		softLimit:  gauge("soft_limit_bytes", "Usage target of FreeMemory"),
		hardLimit:  gauge("hard_limit_bytes", "Quota granted by the manager"),
		buckets:    gauge("buckets", "Bucket count of the latest table generation"),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.rejects, a.migrations,
		a.sizeEnt, a.sizeBytes, a.softLimit, a.hardLimit, a.buckets)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *Adapter) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(r.String()).Inc()
}

// Reject increments the reject counter with a reason label.
func (a *Adapter) Reject(r cache.RejectReason) {
	a.rejects.WithLabelValues(r.String()).Inc()
}

// Size updates gauges for the number of entries and resident bytes.
func (a *Adapter) Size(entries, bytes int64) {
	a.sizeEnt.Set(float64(entries))
	a.sizeBytes.Set(float64(bytes))
}

// Limits records the limits last set by the manager.
func (a *Adapter) Limits(soft, hard int64) {
	a.softLimit.Set(float64(soft))
	a.hardLimit.Set(float64(hard))
}

// Migration counts a migration event and tracks the bucket count.
func (a *Adapter) Migration(p cache.MigrationPhase, buckets int) {
	a.migrations.WithLabelValues(p.String()).Inc()
	a.buckets.Set(float64(buckets))
}

// ManagerAdapter implements cache.ManagerMetrics.
type ManagerAdapter struct {
	allocated prometheus.Gauge
	limit     prometheus.Gauge
	caches    prometheus.Gauge
	rebalance prometheus.Histogram
}

// NewManager constructs the Manager-level adapter. limit is exported once as
// a gauge next to the allocated budget.
func NewManager(reg prometheus.Registerer, ns string, limit int64) *ManagerAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	const sub = "manager"
	a := &ManagerAdapter{
		allocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "allocated_bytes",
			Help:      "Sum of quotas granted to registered caches",
		}),
		limit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "global_limit_bytes",
			Help:      "Global memory budget",
		}),
		caches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "caches",
			Help:      "Number of registered caches",
		}),
		rebalance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "rebalance_seconds",
			Help:      "Duration of rebalance passes",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}),
	}
	a.limit.Set(float64(limit))
	reg.MustRegister(a.allocated, a.limit, a.caches, a.rebalance)
	return a
}

// Allocated records the allocated budget.
func (a *ManagerAdapter) Allocated(bytes int64) { a.allocated.Set(float64(bytes)) }

// Caches records the number of registered caches.
func (a *ManagerAdapter) Caches(n int) { a.caches.Set(float64(n)) }

// Rebalanced observes one rebalance pass.
func (a *ManagerAdapter) Rebalanced(took time.Duration) { a.rebalance.Observe(took.Seconds()) }

// Compile-time checks.
var (
	_ cache.Metrics        = (*Adapter)(nil)
	_ cache.ManagerMetrics = (*ManagerAdapter)(nil)
)
