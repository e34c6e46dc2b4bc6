package cache

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
	"weak"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Manager owns the global memory budget and distributes it across caches.
//
// Create one per process, pass it to every cache constructor, and Close it
// after the caches. The Manager never owns cached values: registry entries
// pair a cache's Metadata with a weak pointer, so a cache that is dropped
// without Close is pruned at the next rebalance and its quota returned.
type Manager struct {
	opt     ManagerOptions
	log     Logger
	metrics ManagerMetrics

	mu        sync.Mutex
	entries   map[uint64]*registryEntry
	allocated int64 // sum of hard limits
	nextID    uint64
	closed    bool

	rebalanceMu sync.Mutex // serializes Rebalance

	poke    chan struct{}
	limiter *rate.Limiter
	drivers *semaphore.Weighted

	startMu sync.Mutex
	started bool
	bg      *errgroup.Group
	cancel  context.CancelFunc
}

type registryEntry struct {
	meta *Metadata
	ref  weak.Pointer[core]
}

// NewManager validates opt and returns an idle Manager.
// Call Start to run background rebalancing, or drive Rebalance yourself.
func NewManager(opt ManagerOptions) (*Manager, error) {
	opt, err := opt.withDefaults()
	if err != nil {
		return nil, err
	}
	limit := rate.Inf
	if opt.MigrationStepsPerSecond > 0 {
		limit = rate.Limit(opt.MigrationStepsPerSecond)
	}
	return &Manager{
		opt:     opt,
		log:     opt.Logger,
		metrics: opt.Metrics,
		entries: make(map[uint64]*registryEntry),
		poke:    make(chan struct{}, 1),
		limiter: rate.NewLimiter(limit, 1),
		drivers: semaphore.NewWeighted(opt.MaxMigrations),
	}, nil
}

// GlobalLimit is the budget the Manager distributes.
func (m *Manager) GlobalLimit() int64 { return m.opt.GlobalLimit }

// Allocated is the sum of all registered caches' quotas.
func (m *Manager) Allocated() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocated
}

// RegisterCache adds c back to the registry after UnregisterCache.
// Constructors register automatically.
func (m *Manager) RegisterCache(c Cache) error { return m.register(c.base()) }

// UnregisterCache removes c's bookkeeping and returns its quota to the
// pool. c's values are not touched.
func (m *Manager) UnregisterCache(c Cache) { m.unregister(c.base()) }

// register grants c an initial quota of max(DefaultQuota, min) bounded by
// the unallocated budget. When even min does not fit it fails with
// ErrBudgetExhausted, or registers with zero quota if the cache allows it.
// Existing caches are never shrunk to make room.
func (m *Manager) register(c *core) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	for _, e := range m.entries {
		if e.meta == c.meta {
			return fmt.Errorf("cache %q already registered", c.meta.name)
		}
	}

	minQuota := c.meta.minQuota
	free := m.opt.GlobalLimit - m.allocated
	var grant int64
	switch {
	case free >= minQuota && free > 0:
		grant = min(max(m.opt.DefaultQuota, minQuota), free)
	case c.opt.AllowZeroQuota:
		m.log.Warn("registering cache with zero quota", Fields{
			"cache": c.meta.name, "min_quota": minQuota, "unallocated": free,
		})
	default:
		m.log.Warn("cache registration refused", Fields{
			"cache": c.meta.name, "min_quota": minQuota, "unallocated": free,
		})
		return fmt.Errorf("%w: cache %q needs %d bytes, %d unallocated",
			ErrBudgetExhausted, c.meta.name, minQuota, free)
	}

	m.nextID++
	c.meta.id = m.nextID
	c.setLimits(grant, grant)
	m.allocated += grant
	m.entries[c.meta.id] = &registryEntry{meta: c.meta, ref: weak.Make(c)}
	m.metrics.Allocated(m.allocated)
	m.metrics.Caches(len(m.entries))
	m.log.Debug("cache registered", Fields{"cache": c.meta.name, "id": c.meta.id, "quota": grant})
	return nil
}

func (m *Manager) unregister(c *core) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[c.meta.id]
	if !ok || e.meta != c.meta {
		return
	}
	m.dropLocked(c.meta.id, e)
	m.log.Debug("cache unregistered", Fields{"cache": c.meta.name, "id": c.meta.id})
}

func (m *Manager) dropLocked(id uint64, e *registryEntry) {
	delete(m.entries, id)
	m.allocated -= e.meta.hard.Load()
	m.metrics.Allocated(m.allocated)
	m.metrics.Caches(len(m.entries))
}

// live returns strong pointers to every registered cache, pruning entries
// whose cache was garbage collected.
func (m *Manager) live() []*core {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLocked()
}

func (m *Manager) liveLocked() []*core {
	out := make([]*core, 0, len(m.entries))
	for id, e := range m.entries {
		c := e.ref.Value()
		if c == nil {
			m.log.Warn("cache collected without Close; releasing its quota", Fields{
				"cache": e.meta.name, "id": id, "quota": e.meta.hard.Load(),
			})
			m.dropLocked(id, e)
			continue
		}
		out = append(out, c)
	}
	return out
}

// requestRebalance is the memory-pressure signal caches raise when they
// run out of room. Never blocks.
func (m *Manager) requestRebalance() {
	select {
	case m.poke <- struct{}{}:
	default:
	}
}

// Start runs rebalancing every RebalanceInterval (and whenever a cache
// signals pressure) plus background migration stepping, until Close.
func (m *Manager) Start() {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.started {
		return
	}
	m.started = true
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	m.bg, m.cancel = g, cancel
	g.Go(func() error { return m.loop(ctx) })
}

func (m *Manager) loop(ctx context.Context) error {
	t := time.NewTicker(m.opt.RebalanceInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		case <-m.poke:
		}
		if err := m.Rebalance(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Error("rebalance failed", Fields{"err": err})
		}
		m.driveMigrations(ctx)
	}
}

// driveMigrations starts a background driver for every migrating cache that
// has none, as long as driver slots are free.
func (m *Manager) driveMigrations(ctx context.Context) {
	for _, c := range m.live() {
		if !c.Migrating() || !c.driven.CompareAndSwap(false, true) {
			continue
		}
		if !m.drivers.TryAcquire(1) {
			c.driven.Store(false)
			return
		}
		m.bg.Go(func() error {
			defer m.drivers.Release(1)
			defer c.driven.Store(false)
			return m.stepUntilDone(ctx, c)
		})
	}
}

// stepUntilDone steps c's migration, paced by the shared limiter.
// Cancellation takes effect between steps, never inside a bucket.
func (m *Manager) stepUntilDone(ctx context.Context, c *core) error {
	for {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil
		}
		if c.MigrateStep() {
			return nil
		}
	}
}

// DrainMigrations synchronously completes every in-flight migration.
// It returns ctx.Err() if cancelled between steps.
func (m *Manager) DrainMigrations(ctx context.Context) error {
	for _, c := range m.live() {
		for !c.MigrateStep() {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

// drainMigration steps c's migration to completion.
func (c *core) drainMigration() {
	done := false
	for !done {
		done = c.MigrateStep()
	}
}

// Close stops background work, quiesces migrations of the caches that are
// still registered (drains them, or abandons them with
// AbandonMigrationsOnClose) and refuses new registrations. Caches may still
// be closed afterwards; their quota is simply returned.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.startMu.Lock()
	if m.started {
		m.cancel()
		_ = m.bg.Wait()
	}
	m.startMu.Unlock()

	caches := m.live()
	for _, c := range caches {
		if m.opt.AbandonMigrationsOnClose {
			c.abandonMigration()
		} else {
			c.drainMigration()
		}
	}
	if len(caches) > 0 {
		m.log.Warn("manager closed with caches still registered", Fields{"caches": len(caches)})
	}
	return nil
}

// CacheStats is a point-in-time view of one registered cache.
type CacheStats struct {
	ID        uint64
	Name      string
	Usage     int64
	Entries   int64
	SoftLimit int64
	HardLimit int64
	MinQuota  int64
	Buckets   int
	Migrating bool
}

// Stats is a point-in-time view of the Manager.
type Stats struct {
	GlobalLimit int64
	Allocated   int64
	Caches      []CacheStats
}

// Stats snapshots the registry.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{GlobalLimit: m.opt.GlobalLimit, Allocated: m.allocated}
	for id, e := range m.entries {
		md := e.meta
		s.Caches = append(s.Caches, CacheStats{
			ID:        id,
			Name:      md.name,
			Usage:     md.Usage(),
			Entries:   md.Entries(),
			SoftLimit: md.SoftLimit(),
			HardLimit: md.HardLimit(),
			MinQuota:  md.minQuota,
			Buckets:   md.Buckets(),
			Migrating: md.Migrating(),
		})
	}
	slices.SortFunc(s.Caches, func(a, b CacheStats) int { return cmp.Compare(a.ID, b.ID) })
	return s
}
