// Package lru implements strict least-recently-used ranking within a bucket.
package lru

import "github.com/IvanBrykalov/quotacache/policy"

type lru struct{}

// New returns the LRU policy: the slot with the oldest access tick is the
// victim; ties go to the fewest leases, then the oldest insertion.
func New() policy.Policy { return lru{} }

func (lru) Name() string { return "lru" }

// Victim scans the bucket once.
func (lru) Victim(c policy.Candidates) int {
	victim := -1
	for i := 0; i < c.Len(); i++ {
		if victim < 0 {
			victim = i
			continue
		}
		ai, av := c.LastAccess(i), c.LastAccess(victim)
		if ai < av || (ai == av && policy.Tiebreak(c, i, victim)) {
			victim = i
		}
	}
	return victim
}
