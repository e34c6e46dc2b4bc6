package cache

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/quotacache/internal/singleflight"
	"github.com/IvanBrykalov/quotacache/policy"
)

// core is the state shared by every cache policy: the current table
// generation, the migration cursor and the cache's Metadata. Concrete caches
// (PlainCache, TransactionalCache) embed a *core; the Manager tracks cores
// through weak pointers.
type core struct {
	opt  Options
	pol  policy.Policy
	hash func([]byte) uint64
	meta *Metadata
	mgr  *Manager
	log  Logger

	cur      atomic.Pointer[table]
	draining atomic.Pointer[table] // retired generation not yet discarded

	migMu  sync.Mutex // serializes Migrate, MigrateStep and abandon
	cursor int        // next old bucket to migrate; guarded by migMu

	evictCursor atomic.Uint64
	closed      atomic.Bool
	driven      atomic.Bool // a Manager worker is stepping our migration

	txn *termWindow // non-nil for TransactionalCache

	sf singleflight.Group[string, []byte]
}

func newCore(m *Manager, opt Options) (*core, error) {
	if m == nil {
		return nil, invalidf("nil Manager")
	}
	opt, err := opt.withDefaults(m)
	if err != nil {
		return nil, err
	}
	c := &core{
		opt:  opt,
		pol:  opt.Policy,
		hash: opt.Hasher,
		mgr:  m,
		log:  opt.Logger,
		meta: newMetadata(opt),
	}
	c.cur.Store(newTable(opt.InitialBuckets, opt.SlotsPerBucket, c.discarded))
	c.meta.buckets.Store(int64(opt.InitialBuckets))
	return c, nil
}

func (c *core) base() *core { return c }

// Metadata returns the cache's bookkeeping record.
func (c *core) Metadata() *Metadata { return c.meta }

// pin returns the current generation with its hand-off counter raised.
// The re-check guarantees the generation was still current after the
// increment, so a concurrently completing migration cannot discard it
// underneath us.
func (c *core) pin() *table {
	for {
		t := c.cur.Load()
		t.refs.Add(1)
		if c.cur.Load() == t {
			return t
		}
		t.unpin()
	}
}

// Lookup returns a Finding that leases the value stored under key.
// It never blocks beyond the owning bucket's lock.
func (c *core) Lookup(key []byte) *Finding {
	v := c.find(key)
	if v == nil {
		c.meta.misses.Add(1)
		c.opt.Metrics.Miss()
	} else {
		c.meta.hits.Add(1)
		c.opt.Metrics.Hit()
	}
	return leased(v)
}

// find returns the leased value stored under key, or nil.
func (c *core) find(key []byte) *CachedValue {
	if c.closed.Load() || len(key) == 0 || len(key) > MaxKeySize {
		return nil
	}
	h := c.hash(key)
	t := c.pin()
	defer t.unpin()

	b, outer := t.lockFor(h)
	defer unlock(b, outer)
	i := b.find(h, key)
	if i < 0 {
		return nil
	}
	b.touch(i)
	v := b.slots[i].v
	v.Lease()
	return v
}

// Insert stores v, replacing any value with the same key. It returns false
// when v was not admitted; v is then left untouched and may be retried or
// dropped. A value can be inserted only once; insert v.Copy() elsewhere.
func (c *core) Insert(v *CachedValue) bool {
	return c.insert(v) < 0
}

// insert returns -1 on success, otherwise the RejectReason.
func (c *core) insert(v *CachedValue) RejectReason {
	if v == nil {
		return RejectTooLarge
	}
	if v.inserted() {
		panic("quotacache: value has already been inserted into a cache; insert a Copy instead")
	}
	if c.closed.Load() {
		return c.reject(RejectClosed)
	}
	size := v.Size()
	if size > c.admissionLimit() {
		return c.reject(RejectTooLarge)
	}

	key := v.Key()
	h := c.hash(key)
	t := c.pin()
	defer t.unpin()

	b, outer := t.lockFor(h)
	defer unlock(b, outer)

	// Close drains buckets under their locks after setting closed.
	if c.closed.Load() {
		return c.reject(RejectClosed)
	}
	if c.txn != nil {
		if term, open := c.txn.current(); open && b.isBanished(h, term) {
			return c.reject(RejectBanished)
		}
	}

	delta := size
	existing := b.find(h, key)
	if existing >= 0 {
		delta -= b.slots[existing].v.Size()
	}
	if delta > 0 && c.meta.usage.Load()+delta > c.meta.hard.Load() {
		// Make room inside this bucket first; only then give up.
		if existing < 0 && len(b.slots) > 0 {
			c.drop(b.removeAt(c.pol.Victim(b)), EvictCapacity)
		}
		if c.meta.usage.Load()+delta > c.meta.hard.Load() {
			c.mgr.requestRebalance()
			return c.reject(RejectNoMemory)
		}
	}

	v.attach(c)
	replaced, evicted := b.put(h, v, c.pol)
	c.meta.usage.Add(size)
	c.meta.entries.Add(1)
	if replaced != nil {
		c.release(replaced)
	}
	if evicted != nil {
		c.drop(evicted, EvictPolicy)
	}
	usage := c.meta.usage.Load()
	c.opt.Metrics.Size(c.meta.entries.Load(), usage)
	if usage > c.meta.soft.Load() {
		c.mgr.requestRebalance()
	}
	return -1
}

// admissionLimit is the largest value one insert may bring in: a bucket's
// share of the hard limit, never below MinAdmission.
func (c *core) admissionLimit() int64 {
	if c.opt.MaxValueSize > 0 {
		return c.opt.MaxValueSize
	}
	share := c.meta.hard.Load() / c.meta.buckets.Load()
	if share < MinAdmission {
		return MinAdmission
	}
	return share
}

func (c *core) reject(r RejectReason) RejectReason {
	c.meta.rejects.Add(1)
	c.opt.Metrics.Reject(r)
	return r
}

// release detaches a value that left the table without being evicted
// (replaced or removed) and updates the accounting.
func (c *core) release(v *CachedValue) {
	c.meta.usage.Add(-v.Size())
	c.meta.entries.Add(-1)
	v.detach()
}

// drop is release for evictions.
func (c *core) drop(v *CachedValue, reason EvictReason) {
	c.opt.Metrics.Evict(reason)
	if cb := c.opt.OnEvict; cb != nil {
		cb(v.Key(), reason)
	}
	c.release(v)
}

// reclaimed is called exactly once per value, by whichever of detach and
// last Release came second.
func (c *core) reclaimed(v *CachedValue) {
	if cb := c.opt.OnReclaim; cb != nil {
		cb(v)
	}
}

// Remove detaches the value stored under key. Removing an absent key is a
// no-op that returns false.
func (c *core) Remove(key []byte) bool {
	if c.closed.Load() || len(key) == 0 || len(key) > MaxKeySize {
		return false
	}
	h := c.hash(key)
	t := c.pin()
	defer t.unpin()

	b, outer := t.lockFor(h)
	defer unlock(b, outer)
	i := b.find(h, key)
	if i < 0 {
		return false
	}
	c.release(b.removeAt(i))
	c.opt.Metrics.Size(c.meta.entries.Load(), c.meta.usage.Load())
	return true
}

// FreeMemory evicts policy victims, one bucket at a time from a rotating
// start position, until usage is at or below the soft limit or a full sweep
// finds nothing to evict. It reports whether the soft limit was reached.
// Each step holds a single bucket lock, so lookups interleave freely.
func (c *core) FreeMemory() bool {
	if c.closed.Load() {
		return true
	}
	t := c.pin()
	defer t.unpin()

	gens := []*table{t}
	if next := t.next.Load(); next != nil {
		gens = append(gens, next)
	}
	target := c.meta.soft.Load()
	for c.meta.usage.Load() > target {
		progress := false
		for _, g := range gens {
			n := g.size()
			start := int(c.evictCursor.Add(1))
			for k := 0; k < n && c.meta.usage.Load() > target; k++ {
				if c.evictOne(&g.buckets[(start+k)&(n-1)], EvictPressure) {
					progress = true
				}
			}
		}
		if !progress {
			break
		}
	}
	c.opt.Metrics.Size(c.meta.entries.Load(), c.meta.usage.Load())
	return c.meta.usage.Load() <= target
}

func (c *core) evictOne(b *bucket, reason EvictReason) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := c.pol.Victim(b)
	if i < 0 {
		return false
	}
	c.drop(b.removeAt(i), reason)
	return true
}

// Fetch returns the value for key, loading it on a miss. Concurrent misses
// for the same key share one load. When the loaded value is not admitted
// (too large, no quota) the Finding wraps a private, uncached value.
func (c *core) Fetch(ctx context.Context, key []byte, load Loader) (*Finding, error) {
	if f := c.Lookup(key); f.Found() {
		return f, nil
	}
	if load == nil {
		return nil, ErrNoLoader
	}
	payload, err, _ := c.sf.Do(ctx, string(key), func() ([]byte, error) {
		// Another flight may have filled the key just before we led this one.
		if v := c.find(key); v != nil {
			defer v.Release()
			return slices.Clone(v.Value()), nil
		}
		p, err := load(ctx, key)
		if err != nil {
			return nil, err
		}
		v, err := NewCachedValue(key, p)
		if err != nil {
			return nil, err
		}
		c.insert(v)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	if v := c.find(key); v != nil {
		return leased(v), nil
	}
	v, err := NewCachedValue(key, payload)
	if err != nil {
		return nil, err
	}
	return NewFinding(v), nil
}

// Close detaches every resident value, abandons any migration and
// unregisters the cache. Outstanding Findings stay valid until released.
func (c *core) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.migMu.Lock()
	c.abandonLocked()
	t := c.cur.Load()
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.Lock()
		for _, s := range b.drain() {
			c.release(s.v)
		}
		b.mu.Unlock()
	}
	c.migMu.Unlock()

	c.mgr.unregister(c)
	c.log.Debug("cache closed", Fields{"cache": c.opt.Name})
	return nil
}

// setLimits is called by the Manager only.
func (c *core) setLimits(soft, hard int64) {
	c.meta.soft.Store(soft)
	c.meta.hard.Store(hard)
	c.opt.Metrics.Limits(soft, hard)
}
