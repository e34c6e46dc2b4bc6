// Package policy defines how a bucket picks its eviction victim.
//
// Eviction in quotacache is bucket-local: a bucket holds a handful of slots
// and, when full (or when the cache is asked to free memory), evicts the one
// slot its Policy ranks lowest. Cost per decision is O(slots per bucket)
// regardless of table size; this approximates LRU, it is not a global LRU.
package policy

// Candidates exposes the ranking inputs of the occupied slots of one bucket.
// Indices run from 0 to Len()-1. All methods are called under the bucket lock.
type Candidates interface {
	Len() int
	// LastAccess is a bucket-local logical clock value; larger is more recent.
	LastAccess(i int) uint64
	// Hits counts lookups since insertion (saturating).
	Hits(i int) uint32
	// Leases is the number of outstanding reader leases on the value.
	Leases(i int) int32
	// Seq is the insertion sequence number; smaller is older.
	Seq(i int) uint64
}

// Policy selects a victim among Candidates. It returns -1 when Len() == 0.
// Implementations must be deterministic and stateless: one Policy value is
// shared by every bucket of every table generation.
type Policy interface {
	Victim(c Candidates) int
	Name() string
}

// Tiebreak orders two candidates that the primary ranking considers equal:
// fewer outstanding leases goes first, then the older insertion.
// It reports whether i should be evicted before j.
func Tiebreak(c Candidates, i, j int) bool {
	if li, lj := c.Leases(i), c.Leases(j); li != lj {
		return li < lj
	}
	return c.Seq(i) < c.Seq(j)
}
