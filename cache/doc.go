// Package cache is the in-process caching engine of quotacache: many
// independent, size-bounded caches of byte blobs (index lookups, edge
// adjacency lists, document bodies) sharing one memory budget.
//
// Design
//
//   - Values: a CachedValue is an immutable key/payload record with an
//     atomic lease count. The table's reference and reader leases are two
//     independent owners; whichever lets go last reclaims the value, exactly
//     once, in either order.
//
//   - Findings: Lookup returns a *Finding that holds one lease until
//     Release. Readers can keep using a value after it was evicted.
//
//   - Tables: a power-of-two array of buckets, each a fixed group of slots
//     behind its own mutex. There is no cache-wide lock. Eviction is
//     bucket-local (policy package; LRU by default, 2Q available), so every
//     operation costs O(slots per bucket) regardless of table size.
//
//   - Migration: Migrate installs a next table generation; MigrateStep moves
//     one bucket at a time under that bucket's lock while lookups continue.
//     Keys in migrated buckets resolve in the new generation; keys not yet
//     moved are still found in the old one. The old generation is discarded
//     when its hand-off counter drains.
//
//   - Manager: owns the global budget. Caches register on construction and
//     get a quota (hard limit) plus a soft limit that FreeMemory evicts down
//     to. Rebalance shrinks caches with poor hit rates, grows starved ones,
//     frees memory and resizes tables whose load factor drifted. Start runs
//     it in the background together with migration stepping.
//
//   - Policies: PlainCache (last insert wins) and TransactionalCache (writers
//     banish keys so stale reads cannot be reinserted while a transaction is
//     open) share the same table and metadata.
//
// Basic usage
//
//	m, _ := cache.NewManager(cache.ManagerOptions{GlobalLimit: 256 << 20})
//	m.Start()
//	defer m.Close()
//
//	docs, err := cache.NewPlainCache(m, cache.Options{Name: "documents"})
//	if err != nil {
//	    return err // e.g. ErrBudgetExhausted
//	}
//	defer docs.Close()
//
//	v, _ := cache.NewCachedValue([]byte("doc/42"), body)
//	docs.Insert(v)
//
//	f := docs.Lookup([]byte("doc/42"))
//	defer f.Release()
//	if f.Found() {
//	    _ = f.Value().Value() // read-only until Release
//	}
//
// Thread-safety
//
// All exported methods are safe for concurrent use. Concurrent operations
// on one key are serialized by its bucket lock in arrival order; operations
// on different buckets are unordered. Build with -tags invariants to turn
// lease accounting errors into panics.
package cache
