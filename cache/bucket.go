package cache

import (
	"bytes"
	"math"
	"slices"
	"sync"

	"github.com/IvanBrykalov/quotacache/policy"
)

// slot is one resident entry of a bucket.
type slot struct {
	hash   uint64
	v      *CachedValue
	access uint64 // bucket-local clock at last touch
	hits   uint32
	seq    uint64
}

// banishEntry blocks inserts of a key hash during one transaction term.
type banishEntry struct {
	hash uint64
	term uint64
}

// bucket is a fixed-capacity slot group with its own lock. All methods
// require mu to be held.
type bucket struct {
	mu    sync.Mutex
	slots []slot // len = occupied, cap = slots per bucket
	clock uint64
	seq   uint64

	// migrated is set once the bucket's entries moved to the next
	// generation; lookups then resolve there.
	migrated bool

	banished   []banishEntry
	banishTerm uint64 // whole bucket banished for this term (0 = none)
}

func (b *bucket) init(capacity int) {
	b.slots = make([]slot, 0, capacity)
}

func (b *bucket) full() bool { return len(b.slots) == cap(b.slots) }

func (b *bucket) tick() uint64 {
	b.clock++
	return b.clock
}

// find returns the slot index holding key, or -1.
func (b *bucket) find(hash uint64, key []byte) int {
	for i := range b.slots {
		if b.slots[i].hash == hash && bytes.Equal(b.slots[i].v.Key(), key) {
			return i
		}
	}
	return -1
}

// touch records a lookup hit.
func (b *bucket) touch(i int) {
	s := &b.slots[i]
	s.access = b.tick()
	if s.hits < math.MaxUint32 {
		s.hits++
	}
}

// put stores v. It returns the value it replaced (same key) or the policy
// victim it evicted to make room; at most one of them is non-nil.
func (b *bucket) put(hash uint64, v *CachedValue, pol policy.Policy) (replaced, evicted *CachedValue) {
	b.seq++
	s := slot{hash: hash, v: v, access: b.tick(), seq: b.seq}
	if i := b.find(hash, v.Key()); i >= 0 {
		replaced = b.slots[i].v
		b.slots[i] = s
		return replaced, nil
	}
	if b.full() {
		evicted = b.removeAt(pol.Victim(b))
	}
	b.slots = append(b.slots, s)
	return nil, evicted
}

// adopt places a slot moved in from another generation. The slot keeps its
// hit count; recency is re-stamped on this bucket's clock, so callers adopt
// in ascending access order.
func (b *bucket) adopt(s slot, pol policy.Policy) (evicted *CachedValue) {
	if b.full() {
		evicted = b.removeAt(pol.Victim(b))
	}
	b.seq++
	s.access = b.tick()
	s.seq = b.seq
	b.slots = append(b.slots, s)
	return evicted
}

// removeAt drops slot i and returns its value.
func (b *bucket) removeAt(i int) *CachedValue {
	v := b.slots[i].v
	last := len(b.slots) - 1
	b.slots[i] = b.slots[last]
	b.slots[last] = slot{}
	b.slots = b.slots[:last]
	return v
}

// drain empties the bucket, returning its slots ordered from least to most
// recently used.
func (b *bucket) drain() []slot {
	out := slices.Clone(b.slots)
	slices.SortFunc(out, func(x, y slot) int {
		switch {
		case x.access < y.access:
			return -1
		case x.access > y.access:
			return 1
		}
		return 0
	})
	clear(b.slots)
	b.slots = b.slots[:0]
	return out
}

// ---- transactional banishing ----

// banish blocks hash for term. A bucket whose banish list is full is banished
// as a whole for the term.
func (b *bucket) banish(hash, term uint64, limit int) {
	if b.banishTerm == term {
		return
	}
	live := b.banished[:0]
	for _, e := range b.banished {
		if e.term == term {
			if e.hash == hash {
				return
			}
			live = append(live, e)
		}
	}
	b.banished = live
	if len(b.banished) >= limit {
		b.banishTerm = term
		b.banished = b.banished[:0]
		return
	}
	b.banished = append(b.banished, banishEntry{hash: hash, term: term})
}

// isBanished reports whether inserts of hash are blocked during term.
// Only odd terms (a transaction window is open) can block.
func (b *bucket) isBanished(hash, term uint64) bool {
	if term%2 == 0 {
		return false
	}
	if b.banishTerm == term {
		return true
	}
	for _, e := range b.banished {
		if e.term == term && e.hash == hash {
			return true
		}
	}
	return false
}

// ---- policy.Candidates ----

func (b *bucket) Len() int                { return len(b.slots) }
func (b *bucket) LastAccess(i int) uint64 { return b.slots[i].access }
func (b *bucket) Hits(i int) uint32       { return b.slots[i].hits }
func (b *bucket) Leases(i int) int32      { return b.slots[i].v.Leases() }
func (b *bucket) Seq(i int) uint64        { return b.slots[i].seq }

var _ policy.Candidates = (*bucket)(nil)
