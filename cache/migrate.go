package cache

import (
	"github.com/IvanBrykalov/quotacache/internal/util"
)

// Migrate starts an online resize to newBuckets (rounded to a power of two
// and clamped to [MinBuckets, MaxBuckets]). It installs an empty next
// generation and returns; MigrateStep moves the entries.
//
// It returns false without side effects when a migration is already in
// flight (including a retired generation that has not drained yet), when the
// size would not change, or when the cache is closed. Growing fails the same
// way, with an allocation reject, when the new generation's slot memory
// alone would exceed the cache's hard limit.
func (c *core) Migrate(newBuckets int) bool {
	c.migMu.Lock()
	defer c.migMu.Unlock()

	if c.closed.Load() || c.draining.Load() != nil {
		return false
	}
	cur := c.cur.Load()
	if cur.next.Load() != nil {
		return false
	}
	n := util.ClampBuckets(newBuckets, c.opt.MinBuckets, c.opt.MaxBuckets)
	if n == cur.size() {
		return false
	}
	if n > cur.size() {
		if need, hard := tableBytes(n, cur.slots), c.meta.hard.Load(); need > hard {
			c.log.Debug("migration rejected", Fields{
				"cache": c.opt.Name, "err": (&AllocationError{What: "table", Size: need, Limit: hard}).Error(),
			})
			c.reject(RejectNoMemory)
			return false
		}
	}

	cur.next.Store(newTable(n, cur.slots, c.discarded))
	c.cursor = 0
	c.meta.migrating.Store(true)
	c.opt.Metrics.Migration(MigrationStarted, n)
	c.log.Info("migration started", Fields{"cache": c.opt.Name, "from": cur.size(), "to": n})
	return true
}

// MigrateStep moves one bucket of an in-flight migration and reports
// whether no migration is left in flight afterwards. It is idempotent and
// safe to call repeatedly, concurrently with lookups; the last step swaps
// the current generation.
func (c *core) MigrateStep() bool {
	c.migMu.Lock()
	defer c.migMu.Unlock()

	cur := c.cur.Load()
	next := cur.next.Load()
	if next == nil {
		return true
	}
	if c.cursor < cur.size() {
		c.migrateBucket(cur, next, c.cursor)
		c.cursor++
	}
	if c.cursor < cur.size() {
		return false
	}
	c.complete(cur, next)
	return true
}

// Migrating reports whether a migration is in flight.
func (c *core) Migrating() bool { return c.meta.migrating.Load() }

// migrateBucket moves the live entries and banish state of old bucket i
// into next. Lock order: old bucket, then each new bucket in turn.
func (c *core) migrateBucket(old, next *table, i int) {
	ob := &old.buckets[i]
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if ob.migrated {
		return
	}

	for _, s := range ob.drain() {
		nb := next.bucketFor(s.hash)
		nb.mu.Lock()
		if j := nb.find(s.hash, s.v.Key()); j >= 0 {
			// The new generation wins.
			c.drop(s.v, EvictMigration)
		} else if ev := nb.adopt(s, c.pol); ev != nil {
			c.drop(ev, EvictMigration)
		}
		nb.mu.Unlock()
	}

	if len(ob.banished) > 0 || ob.banishTerm != 0 {
		for _, j := range relatedBuckets(i, old.size(), next.size()) {
			nb := &next.buckets[j]
			nb.mu.Lock()
			inheritBanishes(nb, ob.banished, ob.banishTerm, next.slots, func(h uint64) bool {
				return next.bucketFor(h) == nb
			})
			nb.mu.Unlock()
		}
		ob.banished = nil
		ob.banishTerm = 0
	}
	ob.migrated = true
}

// inheritBanishes merges banish state into dst (locked). Per-key entries
// are kept only where owns says the hash lives; a whole-bucket banish
// carries over as is.
func inheritBanishes(dst *bucket, entries []banishEntry, term uint64, limit int, owns func(uint64) bool) {
	if term > dst.banishTerm {
		dst.banishTerm = term
	}
	for _, e := range entries {
		if owns(e.hash) {
			dst.banish(e.hash, e.term, limit)
		}
	}
}

func (c *core) complete(old, next *table) {
	c.cur.Store(next)
	c.cursor = 0
	c.meta.buckets.Store(int64(next.size()))
	c.draining.Store(old)
	c.opt.Metrics.Migration(MigrationCompleted, next.size())
	c.log.Info("migration completed", Fields{"cache": c.opt.Name, "buckets": next.size()})
	old.retire()
}

// discarded runs once per generation, after a retired generation drained.
func (c *core) discarded(t *table) {
	if c.draining.CompareAndSwap(t, nil) {
		c.meta.migrating.Store(false)
		c.opt.Metrics.Migration(MigrationDiscarded, int(c.meta.buckets.Load()))
	}
}

// abandonMigration discards an in-flight migration's next generation.
func (c *core) abandonMigration() bool {
	c.migMu.Lock()
	defer c.migMu.Unlock()
	return c.abandonLocked()
}

// abandonLocked drops the not-yet-live generation. Entries already moved
// into it are evicted; banish state flows back to the old buckets so that
// transactional guarantees survive. migMu must be held.
func (c *core) abandonLocked() bool {
	cur := c.cur.Load()
	next := cur.next.Load()
	if next == nil {
		return false
	}

	// Route every old bucket back to itself. After each old lock has been
	// taken once, no operation can reach next any more.
	migrated := make([]bool, cur.size())
	for i := range cur.buckets {
		ob := &cur.buckets[i]
		ob.mu.Lock()
		migrated[i] = ob.migrated
		ob.migrated = false
		ob.mu.Unlock()
	}

	for j := range next.buckets {
		nb := &next.buckets[j]
		nb.mu.Lock()
		for _, s := range nb.drain() {
			c.drop(s.v, EvictMigration)
		}
		banished, term := nb.banished, nb.banishTerm
		nb.banished, nb.banishTerm = nil, 0
		nb.mu.Unlock()

		if len(banished) == 0 && term == 0 {
			continue
		}
		for _, i := range relatedBuckets(j, next.size(), cur.size()) {
			if !migrated[i] {
				continue
			}
			ob := &cur.buckets[i]
			ob.mu.Lock()
			inheritBanishes(ob, banished, term, cur.slots, func(h uint64) bool {
				return cur.bucketFor(h) == ob
			})
			ob.mu.Unlock()
		}
	}

	cur.next.Store(nil)
	c.cursor = 0
	c.meta.migrating.Store(false)
	c.opt.Metrics.Migration(MigrationAbandoned, cur.size())
	c.log.Info("migration abandoned", Fields{"cache": c.opt.Name, "buckets": cur.size()})
	return true
}
