package cache

import "context"

// Cache is the contract shared by every cache policy.
// All methods are safe for concurrent use by multiple goroutines; "not
// found" and "rejected" are ordinary results, never errors.
//
// Operations lock only the bucket that owns the key (two buckets while a
// migration is in flight), so unrelated keys never contend.
type Cache interface {
	// Lookup returns a Finding that leases the value under key.
	// It always returns a non-nil Finding; Found distinguishes hit from miss.
	Lookup(key []byte) *Finding

	// Insert stores v, replacing any value with the same key, and reports
	// whether v was admitted. On success the cache owns v's table reference.
	Insert(v *CachedValue) bool

	// Remove detaches the value under key and reports whether one existed.
	Remove(key []byte) bool

	// FreeMemory evicts until usage is at or below the soft limit or the
	// table is empty. Called by the Manager under pressure.
	FreeMemory() bool

	// Migrate starts an online resize to newBuckets; false if one is
	// already in flight or nothing would change.
	Migrate(newBuckets int) bool

	// MigrateStep advances an in-flight migration by one bucket and reports
	// whether no migration is left in flight.
	MigrateStep() bool

	// Fetch returns the value under key, loading it on a miss. Concurrent
	// misses for one key share a single load.
	Fetch(ctx context.Context, key []byte, load Loader) (*Finding, error)

	// Metadata returns the cache's bookkeeping record.
	Metadata() *Metadata

	// Close detaches all values and unregisters from the Manager.
	Close() error

	base() *core
}

// Loader produces the payload for key on a Fetch miss.
type Loader func(ctx context.Context, key []byte) ([]byte, error)
