package cache

import "time"

// EvictReason explains why a resident entry was dropped by the cache.
type EvictReason int

const (
	// EvictPolicy: the bucket was full and its policy picked a victim.
	EvictPolicy EvictReason = iota
	// EvictCapacity: an insert would have exceeded the hard limit.
	EvictCapacity
	// EvictPressure: FreeMemory was bringing usage down to the soft limit.
	EvictPressure
	// EvictMigration: a shrinking migration overflowed a bucket, or a
	// migration was abandoned and its new generation discarded.
	EvictMigration
)

func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictPressure:
		return "pressure"
	case EvictMigration:
		return "migration"
	default:
		return "policy"
	}
}

// RejectReason explains why Insert returned false.
type RejectReason int

const (
	// RejectTooLarge: the value exceeds the per-bucket admission threshold.
	RejectTooLarge RejectReason = iota
	// RejectNoMemory: the cache's hard limit leaves no room (allocation failure).
	RejectNoMemory
	// RejectBanished: a transaction banished the key for the current term.
	RejectBanished
	// RejectClosed: the cache was closed.
	RejectClosed
)

func (r RejectReason) String() string {
	switch r {
	case RejectNoMemory:
		return "no_memory"
	case RejectBanished:
		return "banished"
	case RejectClosed:
		return "closed"
	default:
		return "too_large"
	}
}

// MigrationPhase marks the lifecycle of a table migration.
type MigrationPhase int

const (
	MigrationStarted MigrationPhase = iota
	MigrationCompleted
	MigrationAbandoned
	// MigrationDiscarded: the old generation drained and was released.
	MigrationDiscarded
)

func (p MigrationPhase) String() string {
	switch p {
	case MigrationCompleted:
		return "completed"
	case MigrationAbandoned:
		return "abandoned"
	case MigrationDiscarded:
		return "discarded"
	default:
		return "started"
	}
}

// Metrics exposes cache-level observability hooks.
// Calls happen on hot paths (some under a bucket lock); keep them cheap.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Reject(reason RejectReason)
	Size(entries int64, bytes int64)
	Limits(soft, hard int64)
	Migration(phase MigrationPhase, buckets int)
}

// ManagerMetrics exposes Manager-level observability hooks.
type ManagerMetrics interface {
	Allocated(bytes int64)
	Caches(n int)
	Rebalanced(took time.Duration)
}

// NoopMetrics is the default Metrics and ManagerMetrics implementation.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                          {}
func (NoopMetrics) Miss()                         {}
func (NoopMetrics) Evict(EvictReason)             {}
func (NoopMetrics) Reject(RejectReason)           {}
func (NoopMetrics) Size(int64, int64)             {}
func (NoopMetrics) Limits(int64, int64)           {}
func (NoopMetrics) Migration(MigrationPhase, int) {}
func (NoopMetrics) Allocated(int64)               {}
func (NoopMetrics) Caches(int)                    {}
func (NoopMetrics) Rebalanced(time.Duration)      {}

// Ensure NoopMetrics implements both interfaces at compile time.
var (
	_ Metrics        = NoopMetrics{}
	_ ManagerMetrics = NoopMetrics{}
)
