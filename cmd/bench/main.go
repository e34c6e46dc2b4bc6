// Command bench runs a synthetic multi-cache workload under one Manager and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/quotacache/cache"
	qczap "github.com/IvanBrykalov/quotacache/log/zap"
	pmet "github.com/IvanBrykalov/quotacache/metrics/prom"
	"github.com/IvanBrykalov/quotacache/policy/twoq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// ---- Flags ----
	var (
		limit    = flag.Int64("limit", 256<<20, "global memory budget (bytes)")
		caches   = flag.Int("caches", 4, "number of caches sharing the budget")
		buckets  = flag.Int("buckets", 1024, "initial buckets per cache")
		policy   = flag.String("policy", "lru", "eviction policy: lru | 2q")
		interval = flag.Duration("rebalance", 250*time.Millisecond, "rebalance interval")
		steps    = flag.Float64("steps", 0, "migration steps per second (0 = unlimited)")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")

		keys    = flag.Int("keys", 1_000_000, "keyspace size per cache")
		valSize = flag.Int("value", 256, "payload size (bytes)")
		zipfS   = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV   = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		verbose = flag.Bool("v", false, "debug logging")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	// ---- Logging ----
	zl, err := zap.NewProduction()
	if *verbose {
		zl, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("zap: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := qczap.ZapLogger{L: zl}

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	// ---- Build manager and caches ----
	m, err := cache.NewManager(cache.ManagerOptions{
		GlobalLimit:             *limit,
		DefaultQuota:            *limit / int64(2*(*caches)),
		RebalanceInterval:       *interval,
		MigrationStepsPerSecond: *steps,
		Logger:                  logger,
		Metrics:                 pmet.NewManager(nil, "quotacache", *limit),
	})
	if err != nil {
		log.Fatalf("manager: %v", err)
	}
	defer func() { _ = m.Close() }()

	cs := make([]cache.Cache, *caches)
	for i := range cs {
		name := "c" + strconv.Itoa(i)
		opt := cache.Options{
			Name:           name,
			InitialBuckets: *buckets,
			Logger:         logger,
			Metrics:        pmet.New(nil, "quotacache", "bench", prometheus.Labels{"cache": name}),
		}
		switch *policy {
		case "lru":
			// nil => LRU by default
		case "2q":
			opt.Policy = twoq.New(1)
		default:
			log.Fatalf("unknown policy: %q (use lru or 2q)", *policy)
		}
		c, err := cache.NewPlainCache(m, opt)
		if err != nil {
			log.Fatalf("cache %s: %v", name, err)
		}
		defer func() { _ = c.Close() }()
		cs[i] = c
	}
	m.Start()

	// ---- Snapshot flags for goroutines ----
	readPctVal := *readPct
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	payload := make([]byte, *valSize)
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	// ---- Load generation ----
	var reads, writes, hits, misses, rejects, total uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, keysMax)

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				atomic.AddUint64(&total, 1)
				// Caches get skewed traffic too: c0 is the hottest.
				c := cs[int(localR.ExpFloat64())%len(cs)]
				key := []byte("k:" + strconv.FormatUint(localZipf.Uint64(), 10))
				if int(localR.Int31n(100)) < readPctVal {
					atomic.AddUint64(&reads, 1)
					f := c.Lookup(key)
					if f.Found() {
						atomic.AddUint64(&hits, 1)
					} else {
						atomic.AddUint64(&misses, 1)
					}
					f.Release()
					continue
				}
				atomic.AddUint64(&writes, 1)
				v, err := cache.NewCachedValue(key, payload)
				if err != nil || !c.Insert(v) {
					atomic.AddUint64(&rejects, 1)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	ops := atomic.LoadUint64(&total)
	readsN := atomic.LoadUint64(&reads)
	writesN := atomic.LoadUint64(&writes)
	hitsN := atomic.LoadUint64(&hits)
	missesN := atomic.LoadUint64(&misses)

	hitRate := 0.0
	if readsN > 0 {
		hitRate = float64(hitsN) / float64(readsN) * 100
	}

	fmt.Printf("policy=%s caches=%d limit=%d workers=%d keys=%d dur=%v seed=%d\n",
		*policy, *caches, *limit, workersN, *keys, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d  rejects=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, writesN, atomic.LoadUint64(&rejects))
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%\n", hitsN, missesN, hitRate)

	s := m.Stats()
	fmt.Printf("allocated=%d/%d\n", s.Allocated, s.GlobalLimit)
	for _, c := range s.Caches {
		fmt.Printf("  %-4s usage=%d soft=%d hard=%d entries=%d buckets=%d migrating=%v\n",
			c.Name, c.Usage, c.SoftLimit, c.HardLimit, c.Entries, c.Buckets, c.Migrating)
	}
}
