package cache

import (
	"sync/atomic"

	"github.com/IvanBrykalov/quotacache/internal/util"
)

// Metadata is the per-cache bookkeeping record shared between a cache and
// the Manager. The cache reports usage deltas; only the Manager writes the
// limits. Its lifetime is bound to the cache's registration.
type Metadata struct {
	id       uint64
	name     string
	minQuota int64
	slots    int

	// ---- written by the cache ----
	usage   util.PaddedAtomicInt64
	entries util.PaddedAtomicInt64
	hits    util.PaddedAtomicUint64
	misses  util.PaddedAtomicUint64
	rejects util.PaddedAtomicUint64

	buckets   atomic.Int64
	migrating atomic.Bool

	// ---- written by the Manager ----
	soft atomic.Int64 // FreeMemory target
	hard atomic.Int64 // granted quota; admission ceiling
}

func newMetadata(opt Options) *Metadata {
	return &Metadata{
		name:     opt.Name,
		minQuota: opt.MinQuota,
		slots:    opt.SlotsPerBucket,
	}
}

// ID is the registry id assigned by the Manager.
func (m *Metadata) ID() uint64 { return m.id }

// Name is Options.Name.
func (m *Metadata) Name() string { return m.name }

// Usage is the number of bytes currently resident in the table.
func (m *Metadata) Usage() int64 { return m.usage.Load() }

// Entries is the number of resident values.
func (m *Metadata) Entries() int64 { return m.entries.Load() }

// SoftLimit is the usage FreeMemory evicts down to.
func (m *Metadata) SoftLimit() int64 { return m.soft.Load() }

// HardLimit is the quota granted by the Manager.
func (m *Metadata) HardLimit() int64 { return m.hard.Load() }

// MinQuota is the floor rebalancing respects.
func (m *Metadata) MinQuota() int64 { return m.minQuota }

// Buckets is the bucket count of the current table generation.
func (m *Metadata) Buckets() int { return int(m.buckets.Load()) }

// SlotsPerBucket is the fixed bucket capacity.
func (m *Metadata) SlotsPerBucket() int { return m.slots }

// Migrating reports whether a migration is in flight, counting a retired
// generation that has not drained yet.
func (m *Metadata) Migrating() bool { return m.migrating.Load() }

// LoadFactor is entries per slot of the current generation.
func (m *Metadata) LoadFactor() float64 {
	capacity := m.buckets.Load() * int64(m.slots)
	if capacity == 0 {
		return 0
	}
	return float64(m.entries.Load()) / float64(capacity)
}

// window is the access sample of one rebalance period.
type window struct {
	hits, misses, rejects uint64
}

func (w window) accesses() uint64 { return w.hits + w.misses }

func (w window) hitRate() float64 {
	if n := w.accesses(); n > 0 {
		return float64(w.hits) / float64(n)
	}
	return 0
}

// swapWindow returns the counters since the previous call and resets them.
func (m *Metadata) swapWindow() window {
	return window{
		hits:    m.hits.Swap(0),
		misses:  m.misses.Swap(0),
		rejects: m.rejects.Swap(0),
	}
}
