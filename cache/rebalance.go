package cache

import (
	"cmp"
	"context"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

// candidate is one cache's view during a rebalance pass.
type candidate struct {
	c       *core
	w       window
	starved bool
	shrunk  bool
}

// Rebalance redistributes the global budget once:
//
//  1. Caches whose window hit rate is at least HighHitRate and that are
//     memory-starved (usage ≥ 90% of soft, or inserts rejected) are starved.
//  2. Caches below LowHitRate shrink by ShrinkFactor; when any cache is
//     starved, caches using under a quarter of their quota shrink too.
//     Shrinking lowers the soft limit, runs FreeMemory on the worker pool,
//     then lowers the hard limit and returns the difference to the pool.
//  3. Caches under their minimum quota are topped up first, then starved
//     caches grow by GrowFactor in descending hit-rate order, as far as the
//     unallocated budget allows.
//  4. Tables whose load factor left [LowLoad, HighLoad] start a migration.
//
// No quota ever drops below its minimum and the sum of quotas never exceeds
// GlobalLimit. Rebalance calls are serialized.
func (m *Manager) Rebalance(ctx context.Context) error {
	m.rebalanceMu.Lock()
	defer m.rebalanceMu.Unlock()

	start := time.Now()
	defer func() { m.metrics.Rebalanced(time.Since(start)) }()

	cands := m.plan()
	if err := m.freeMemory(ctx, cands); err != nil {
		return err
	}
	m.settle(cands)
	m.resize(cands)
	return nil
}

// plan samples every cache and lowers soft limits of shrinking caches.
func (m *Manager) plan() []candidate {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.liveLocked()
	cands := make([]candidate, 0, len(live))
	anyStarved := false
	for _, c := range live {
		cd := candidate{c: c, w: c.meta.swapWindow()}
		cd.starved = m.starved(c.meta, cd.w)
		anyStarved = anyStarved || cd.starved
		cands = append(cands, cd)
	}

	for i := range cands {
		cd := &cands[i]
		if cd.starved {
			continue
		}
		md := cd.c.meta
		soft, hard := md.soft.Load(), md.hard.Load()
		target := soft
		switch usage := md.usage.Load(); {
		case cd.w.accesses() >= m.opt.MinSamples && cd.w.hitRate() < m.opt.LowHitRate:
			target = int64(float64(soft) * m.opt.ShrinkFactor)
		case anyStarved && usage < soft/4:
			target = max(usage*2, soft/2)
		}
		target = max(target, md.minQuota)
		if target >= soft {
			continue
		}
		cd.shrunk = true
		cd.c.setLimits(target, hard)
		m.log.Debug("shrinking cache quota", Fields{
			"cache": md.name, "from": soft, "to": target, "hit_rate": cd.w.hitRate(),
		})
	}
	return cands
}

func (m *Manager) starved(md *Metadata, w window) bool {
	if w.accesses() < m.opt.MinSamples || w.hitRate() < m.opt.HighHitRate {
		return false
	}
	return w.rejects > 0 || md.usage.Load()*10 >= md.soft.Load()*9
}

// freeMemory runs FreeMemory for shrinking caches on the worker pool.
func (m *Manager) freeMemory(ctx context.Context, cands []candidate) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opt.Workers)
	for _, cd := range cands {
		if !cd.shrunk {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cd.c.FreeMemory()
			return nil
		})
	}
	return g.Wait()
}

// settle moves budget: shrunk caches give back hard-soft, caches under their
// minimum are topped up, starved caches grow.
func (m *Manager) settle(cands []candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	registered := func(c *core) bool {
		e, ok := m.entries[c.meta.id]
		return ok && e.meta == c.meta
	}

	for _, cd := range cands {
		if !cd.shrunk || !registered(cd.c) {
			continue
		}
		md := cd.c.meta
		soft, hard := md.soft.Load(), md.hard.Load()
		if soft < hard {
			m.allocated -= hard - soft
			cd.c.setLimits(soft, soft)
		}
	}

	for _, cd := range cands {
		if !registered(cd.c) {
			continue
		}
		md := cd.c.meta
		hard := md.hard.Load()
		want := md.minQuota
		if hard == 0 && cd.w.rejects > 0 {
			want = max(want, m.opt.DefaultQuota)
		}
		if hard >= want {
			continue
		}
		grant := min(want-hard, m.opt.GlobalLimit-m.allocated)
		if grant <= 0 {
			continue
		}
		m.allocated += grant
		cd.c.setLimits(hard+grant, hard+grant)
		m.log.Debug("topping up cache quota", Fields{"cache": md.name, "quota": hard + grant})
	}

	starved := make([]candidate, 0, len(cands))
	for _, cd := range cands {
		if cd.starved && registered(cd.c) {
			starved = append(starved, cd)
		}
	}
	slices.SortStableFunc(starved, func(a, b candidate) int {
		return cmp.Compare(b.w.hitRate(), a.w.hitRate())
	})
	for _, cd := range starved {
		free := m.opt.GlobalLimit - m.allocated
		if free <= 0 {
			break
		}
		md := cd.c.meta
		hard := md.hard.Load()
		step := int64(float64(hard) * (m.opt.GrowFactor - 1))
		step = max(step, MinAdmission)
		grant := min(step, free)
		m.allocated += grant
		cd.c.setLimits(hard+grant, hard+grant)
		m.log.Debug("growing cache quota", Fields{
			"cache": md.name, "from": hard, "to": hard + grant, "hit_rate": cd.w.hitRate(),
		})
	}
	m.metrics.Allocated(m.allocated)
}

// resize starts migrations for tables whose load factor drifted out of band.
func (m *Manager) resize(cands []candidate) {
	for _, cd := range cands {
		c := cd.c
		if c.closed.Load() || c.Migrating() {
			continue
		}
		buckets := c.meta.Buckets()
		lf := c.meta.LoadFactor()
		switch {
		case lf > m.opt.HighLoad && buckets < c.opt.MaxBuckets:
			c.Migrate(buckets * 2)
		case lf < m.opt.LowLoad && buckets > c.opt.MinBuckets && cd.w.accesses() >= m.opt.MinSamples:
			c.Migrate(buckets / 2)
		}
	}
}
