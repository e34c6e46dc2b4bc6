// Package util contains internal helpers (hashing, sizing, padding).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import "github.com/cespare/xxhash/v2"

// HashKey hashes a cache key with 64-bit xxhash.
// The full hash is stored per slot so tables can be re-bucketed during
// migration without rehashing the keys.
func HashKey(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// BucketIndex maps a 64-bit hash onto a power-of-two bucket count.
// The low bits feed the index; callers keep bucket counts as powers of two.
func BucketIndex(hash uint64, buckets int) int {
	if buckets <= 1 {
		return 0
	}
	return int(hash & uint64(buckets-1))
}
