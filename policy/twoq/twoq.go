// Package twoq implements a bucket-local 2Q ranking.
package twoq

import "github.com/IvanBrykalov/quotacache/policy"

// twoQ splits the slots of a bucket into two classes, mirroring 2Q's
// A1in/Am queues without any queue state of its own:
//
//   - probation: entries looked up fewer than promoteAfter times since insert
//   - protected: entries that earned promotion
//
// The victim is the least recently used probation entry; protected entries
// are evicted only when the whole bucket is protected. This resists scans:
// a one-pass sweep over cold keys churns probation slots and leaves the hot
// working set in place.
type twoQ struct {
	promoteAfter uint32
}

// New returns a 2Q policy. promoteAfter is the number of hits an entry
// needs to move from probation to protected (values < 1 become 1).
func New(promoteAfter uint32) policy.Policy {
	if promoteAfter < 1 {
		promoteAfter = 1
	}
	return twoQ{promoteAfter: promoteAfter}
}

func (twoQ) Name() string { return "2q" }

func (p twoQ) protected(c policy.Candidates, i int) bool {
	return c.Hits(i) >= p.promoteAfter
}

// Victim prefers probation over protected, then LRU, then the shared tiebreak.
func (p twoQ) Victim(c policy.Candidates) int {
	victim := -1
	for i := 0; i < c.Len(); i++ {
		if victim < 0 {
			victim = i
			continue
		}
		pi, pv := p.protected(c, i), p.protected(c, victim)
		if pi != pv {
			if !pi {
				victim = i
			}
			continue
		}
		ai, av := c.LastAccess(i), c.LastAccess(victim)
		if ai < av || (ai == av && policy.Tiebreak(c, i, victim)) {
			victim = i
		}
	}
	return victim
}
