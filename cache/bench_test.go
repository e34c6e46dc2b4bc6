package cache

import (
	"math/rand"
	"strconv"
	"sync/atomic"
	"testing"
)

// benchmarkMix exercises a read/write mix against a warm cache.
// It uses parallel workers (RunParallel spawns GOMAXPROCS goroutines).
// Writes allocate a fresh CachedValue each time, which is fine for an
// end-to-end benchmark.
func benchmarkMix(b *testing.B, readsPct int, migrate bool) {
	m := newTestManager(b, ManagerOptions{GlobalLimit: 1 << 30, DefaultQuota: 1 << 28})
	c := newTestCache(b, m, Options{InitialBuckets: 1 << 14})

	keyMask := (1 << 16) - 1 // hot keyspace (power of two for fast &-mask)
	keys := make([][]byte, keyMask+1)
	for i := range keys {
		keys[i] = []byte("k:" + strconv.Itoa(i))
	}
	// Preload half the keyspace to get a realistic hit-rate.
	for i := 0; i < len(keys)/2; i++ {
		c.Insert(mustValue(b, string(keys[i]), "v"))
	}
	payload := []byte("v")

	// Report per-op allocations for a rough idea where costs go.
	b.ReportAllocs()
	b.ResetTimer()

	var seed int64 = 1
	if migrate {
		// Grow and shrink continuously while the workers run.
		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			n := 1 << 15
			for {
				select {
				case <-stop:
					return
				default:
				}
				if c.MigrateStep() && c.Migrate(n) {
					n ^= 1<<15 | 1<<14
				}
			}
		}()
		b.Cleanup(func() { close(stop); <-done })
	}

	b.RunParallel(func(pb *testing.PB) {
		// Independent RNG stream for each worker.
		r := rand.New(rand.NewSource(atomic.AddInt64(&seed, 1)))
		i := 0
		for pb.Next() {
			k := keys[i&keyMask]
			if r.Intn(100) < readsPct {
				c.Lookup(k).Release()
			} else {
				v, _ := NewCachedValue(k, payload)
				c.Insert(v)
			}
			i++
		}
	})
}

func BenchmarkCache_90r10w(b *testing.B) { benchmarkMix(b, 90, false) }
func BenchmarkCache_50r50w(b *testing.B) { benchmarkMix(b, 50, false) }

// The same mixes while the table migrates back and forth between two sizes.
func BenchmarkCache_Migrating_90r10w(b *testing.B) { benchmarkMix(b, 90, true) }
func BenchmarkCache_Migrating_50r50w(b *testing.B) { benchmarkMix(b, 50, true) }

// BenchmarkRebalance measures one Manager pass over many idle caches.
func BenchmarkRebalance(b *testing.B) {
	m := newTestManager(b, ManagerOptions{GlobalLimit: 1 << 30, DefaultQuota: 1 << 20})
	for i := 0; i < 256; i++ {
		newTestCache(b, m, Options{Name: "c" + strconv.Itoa(i), InitialBuckets: 16})
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := m.Rebalance(b.Context()); err != nil {
			b.Fatal(err)
		}
	}
}
