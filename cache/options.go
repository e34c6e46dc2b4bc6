package cache

import (
	"time"

	"github.com/IvanBrykalov/quotacache/internal/util"
	"github.com/IvanBrykalov/quotacache/policy"
	"github.com/IvanBrykalov/quotacache/policy/lru"
)

const (
	// DefaultBuckets is the initial table size when Options.InitialBuckets is 0.
	DefaultBuckets = 64
	// DefaultMinBuckets bounds shrinking migrations.
	DefaultMinBuckets = 16
	// DefaultMaxBuckets bounds growing migrations.
	DefaultMaxBuckets = 1 << 20
	// DefaultSlotsPerBucket is the bucket capacity when Options.SlotsPerBucket is 0.
	DefaultSlotsPerBucket = 8
	// MinAdmission is the smallest per-bucket admission threshold; values up
	// to this size are admitted whatever the quota split says.
	MinAdmission = 4 << 10
)

// Options configures one cache. Zero values are safe;
// defaults are applied by the constructors:
//   - nil Policy          => LRU within each bucket
//   - nil Hasher          => xxhash
//   - InitialBuckets <= 0 => DefaultBuckets (rounded up to a power of two)
//   - nil Metrics/Logger  => no-ops
type Options struct {
	// Name identifies the cache in logs, metrics and Manager stats.
	Name string

	// Table geometry. Bucket counts are powers of two.
	InitialBuckets int
	MinBuckets     int
	MaxBuckets     int
	SlotsPerBucket int

	// MinQuota is the quota this cache must be granted to register and the
	// floor rebalancing never goes below. 0 => ManagerOptions.MinQuota.
	MinQuota int64
	// AllowZeroQuota registers the cache with no quota instead of failing
	// with ErrBudgetExhausted. Inserts are rejected until rebalancing
	// grants it room.
	AllowZeroQuota bool

	// MaxValueSize overrides the per-bucket admission threshold
	// (max(hard limit / buckets, MinAdmission)) when > 0.
	MaxValueSize int64

	// Policy ranks eviction victims inside a bucket.
	Policy policy.Policy
	// Hasher overrides key hashing (tests use it to pin keys to buckets).
	Hasher func(key []byte) uint64

	// Observability. Both callbacks may run under a bucket lock; keep them
	// lightweight and never call back into the cache.
	Metrics   Metrics
	Logger    Logger
	OnEvict   func(key []byte, reason EvictReason)
	OnReclaim func(v *CachedValue)
}

func (o Options) withDefaults(m *Manager) (Options, error) {
	if o.Policy == nil {
		o.Policy = lru.New()
	}
	if o.Hasher == nil {
		o.Hasher = util.HashKey
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	if o.Logger == nil {
		o.Logger = m.log
	}
	if o.SlotsPerBucket <= 0 {
		o.SlotsPerBucket = DefaultSlotsPerBucket
	}
	if o.MinBuckets <= 0 {
		o.MinBuckets = DefaultMinBuckets
	}
	if o.MaxBuckets <= 0 {
		o.MaxBuckets = DefaultMaxBuckets
	}
	o.MinBuckets = int(util.NextPow2(uint64(o.MinBuckets)))
	o.MaxBuckets = int(util.NextPow2(uint64(o.MaxBuckets)))
	if o.MinBuckets > o.MaxBuckets {
		return o, invalidf("MinBuckets %d > MaxBuckets %d", o.MinBuckets, o.MaxBuckets)
	}
	if o.InitialBuckets <= 0 {
		o.InitialBuckets = DefaultBuckets
	}
	o.InitialBuckets = util.ClampBuckets(o.InitialBuckets, 1, o.MaxBuckets)
	if o.MinQuota <= 0 {
		o.MinQuota = m.opt.MinQuota
	}
	if o.MaxValueSize < 0 {
		return o, invalidf("negative MaxValueSize %d", o.MaxValueSize)
	}
	return o, nil
}

// ManagerOptions configures the process-wide Manager.
// Only GlobalLimit is required; everything else has a default.
type ManagerOptions struct {
	// GlobalLimit is the hard cap on the sum of all caches' quotas (bytes).
	GlobalLimit int64
	// DefaultQuota is granted to a newly registered cache, bounded by the
	// unallocated budget. 0 => GlobalLimit/16.
	DefaultQuota int64
	// MinQuota is the default per-cache minimum (Options.MinQuota overrides).
	MinQuota int64

	// RebalanceInterval paces the background loop started by Start.
	// 0 => 1s.
	RebalanceInterval time.Duration
	// Workers bounds concurrent FreeMemory calls during a rebalance.
	// 0 => util.ReasonableWorkerCount().
	Workers int
	// MaxMigrations bounds caches migrating concurrently in the background.
	// 0 => Workers.
	MaxMigrations int64
	// MigrationStepsPerSecond paces background migration steps across all
	// caches. 0 => unlimited.
	MigrationStepsPerSecond float64
	// AbandonMigrationsOnClose discards in-flight migrations on Close
	// instead of draining them.
	AbandonMigrationsOnClose bool

	// Rebalancing thresholds.
	HighHitRate  float64 // grow starved caches at or above this rate; 0 => 0.6
	LowHitRate   float64 // shrink caches below this rate; 0 => 0.2
	MinSamples   uint64  // accesses needed before hit rate counts; 0 => 64
	GrowFactor   float64 // quota multiplier for growth; 0 => 1.25
	ShrinkFactor float64 // quota multiplier for shrinking; 0 => 0.75
	HighLoad     float64 // entries per slot that triggers doubling; 0 => 0.75
	LowLoad      float64 // entries per slot that triggers halving; 0 => 0.125

	Logger  Logger
	Metrics ManagerMetrics
}

func (o ManagerOptions) withDefaults() (ManagerOptions, error) {
	if o.GlobalLimit <= 0 {
		return o, invalidf("GlobalLimit must be > 0, got %d", o.GlobalLimit)
	}
	if o.MinQuota < 0 || o.MinQuota > o.GlobalLimit {
		return o, invalidf("MinQuota %d outside [0, GlobalLimit]", o.MinQuota)
	}
	if o.DefaultQuota <= 0 {
		o.DefaultQuota = o.GlobalLimit / 16
	}
	if o.DefaultQuota < o.MinQuota {
		o.DefaultQuota = o.MinQuota
	}
	if o.RebalanceInterval <= 0 {
		o.RebalanceInterval = time.Second
	}
	if o.Workers <= 0 {
		o.Workers = util.ReasonableWorkerCount()
	}
	if o.MaxMigrations <= 0 {
		o.MaxMigrations = int64(o.Workers)
	}
	if o.MigrationStepsPerSecond < 0 {
		return o, invalidf("negative MigrationStepsPerSecond %v", o.MigrationStepsPerSecond)
	}
	if o.HighHitRate <= 0 {
		o.HighHitRate = 0.6
	}
	if o.LowHitRate <= 0 {
		o.LowHitRate = 0.2
	}
	if o.LowHitRate > o.HighHitRate {
		return o, invalidf("LowHitRate %v > HighHitRate %v", o.LowHitRate, o.HighHitRate)
	}
	if o.MinSamples == 0 {
		o.MinSamples = 64
	}
	if o.GrowFactor <= 1 {
		o.GrowFactor = 1.25
	}
	if o.ShrinkFactor <= 0 || o.ShrinkFactor >= 1 {
		o.ShrinkFactor = 0.75
	}
	if o.HighLoad <= 0 {
		o.HighLoad = 0.75
	}
	if o.LowLoad <= 0 {
		o.LowLoad = 0.125
	}
	if o.LowLoad >= o.HighLoad {
		return o, invalidf("LowLoad %v >= HighLoad %v", o.LowLoad, o.HighLoad)
	}
	if o.Logger == nil {
		o.Logger = NopLogger{}
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	return o, nil
}
