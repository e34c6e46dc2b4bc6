package lru

import (
	"testing"
)

// --- test doubles ---

type cand struct {
	access uint64
	hits   uint32
	leases int32
	seq    uint64
}

type fakeBucket []cand

func (b fakeBucket) Len() int                { return len(b) }
func (b fakeBucket) LastAccess(i int) uint64 { return b[i].access }
func (b fakeBucket) Hits(i int) uint32       { return b[i].hits }
func (b fakeBucket) Leases(i int) int32      { return b[i].leases }
func (b fakeBucket) Seq(i int) uint64        { return b[i].seq }

// --- tests ---

// Empty bucket has no victim.
func TestLRU_EmptyBucket(t *testing.T) {
	t.Parallel()

	if got := New().Victim(fakeBucket{}); got != -1 {
		t.Fatalf("empty bucket: want -1, got %d", got)
	}
}

// The oldest access tick loses, regardless of slot position.
func TestLRU_OldestAccessIsVictim(t *testing.T) {
	t.Parallel()

	b := fakeBucket{
		{access: 7, seq: 1},
		{access: 3, seq: 2},
		{access: 9, seq: 3},
	}
	if got := New().Victim(b); got != 1 {
		t.Fatalf("want slot 1 (access=3), got %d", got)
	}
}

// Hits do not matter for pure LRU.
func TestLRU_IgnoresFrequency(t *testing.T) {
	t.Parallel()

	b := fakeBucket{
		{access: 1, hits: 1000, seq: 1},
		{access: 2, hits: 0, seq: 2},
	}
	if got := New().Victim(b); got != 0 {
		t.Fatalf("want slot 0 despite hits, got %d", got)
	}
}

// Equal ticks: fewer leases loses, then older insertion.
func TestLRU_Tiebreak(t *testing.T) {
	t.Parallel()

	b := fakeBucket{
		{access: 5, leases: 3, seq: 1},
		{access: 5, leases: 1, seq: 4},
		{access: 5, leases: 1, seq: 2},
	}
	if got := New().Victim(b); got != 2 {
		t.Fatalf("want slot 2 (fewest leases, oldest), got %d", got)
	}
}
