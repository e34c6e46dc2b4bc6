package cache

import (
	"sync/atomic"

	"github.com/IvanBrykalov/quotacache/internal/util"
)

// slotBytes approximates the fixed memory of one slot, used to cost a
// table generation before allocating it.
const slotBytes = 40

// table is one generation of a cache's hash table.
//
// While a migration is in flight, next points at the successor generation.
// Operations always lock the bucket of the generation they pinned first; if
// that bucket has been migrated they continue, still holding it, in next
// (lock order: old generation before new). At most two generations are
// reachable at once because a new migration cannot start before the
// previous old generation is discarded.
type table struct {
	buckets []bucket
	slots   int
	next    atomic.Pointer[table]

	// Hand-off counter: operations that pinned this generation. A retired
	// generation is discarded when it drains, independent of value leases.
	refs      atomic.Int64
	retired   atomic.Bool
	discarded atomic.Bool

	onDiscard func(*table)
}

func newTable(buckets, slots int, onDiscard func(*table)) *table {
	t := &table{
		buckets:   make([]bucket, buckets),
		slots:     slots,
		onDiscard: onDiscard,
	}
	for i := range t.buckets {
		t.buckets[i].init(slots)
	}
	return t
}

func tableBytes(buckets, slots int) int64 {
	return int64(buckets) * int64(slots) * slotBytes
}

func (t *table) size() int { return len(t.buckets) }

func (t *table) bucketFor(hash uint64) *bucket {
	return &t.buckets[util.BucketIndex(hash, len(t.buckets))]
}

// lockFor locks and returns the bucket that owns hash. outer is the
// migrated old-generation bucket that is still held on the way, or nil.
// Release both with unlock.
func (t *table) lockFor(hash uint64) (b, outer *bucket) {
	b = t.bucketFor(hash)
	b.mu.Lock()
	if !b.migrated {
		return b, nil
	}
	next := t.next.Load()
	nb := next.bucketFor(hash)
	nb.mu.Lock()
	return nb, b
}

func unlock(b, outer *bucket) {
	b.mu.Unlock()
	if outer != nil {
		outer.mu.Unlock()
	}
}

func (t *table) unpin() {
	if t.refs.Add(-1) == 0 && t.retired.Load() {
		t.discard()
	}
}

// retire marks the generation as replaced; it is discarded as soon as no
// operation still pins it.
func (t *table) retire() {
	t.retired.Store(true)
	if t.refs.Load() == 0 {
		t.discard()
	}
}

func (t *table) discard() {
	if !t.discarded.CompareAndSwap(false, true) {
		return
	}
	t.next.Store(nil)
	t.buckets = nil
	if t.onDiscard != nil {
		t.onDiscard(t)
	}
}

// relatedBuckets lists the buckets of a generation with toN buckets that can
// hold keys of bucket i in a generation with fromN buckets.
func relatedBuckets(i, fromN, toN int) []int {
	if toN <= fromN {
		return []int{i & (toN - 1)}
	}
	out := make([]int, 0, toN/fromN)
	for j := i; j < toN; j += fromN {
		out = append(out, j)
	}
	return out
}
