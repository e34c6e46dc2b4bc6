package util

import "runtime"

// ReasonableWorkerCount picks a default size for background worker pools.
// Heuristic: GOMAXPROCS/2, clamped to [1..16]. Background work (eviction,
// migration steps) competes with foreground lookups, so it gets at most
// half the Ps.
func ReasonableWorkerCount() int {
	n := runtime.GOMAXPROCS(0) / 2
	if n < 1 {
		n = 1
	}
	if n > 16 {
		n = 16
	}
	return n
}
