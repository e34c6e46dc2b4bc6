package cache

import (
	"sync/atomic"

	"github.com/IvanBrykalov/quotacache/internal/invariants"
)

const (
	// MaxKeySize bounds keys; index and document keys fit comfortably.
	MaxKeySize = 64
	// MaxValueSize is the absolute ceiling for key+payload. Caches apply a
	// much lower per-bucket admission threshold on insert.
	MaxValueSize = 1 << 30
	// ValueOverhead is the fixed per-entry cost charged on top of key and
	// payload bytes (value header plus slot bookkeeping).
	ValueOverhead = 48
)

const (
	stateInserted uint32 = 1 << iota
	stateDetached
	stateReclaimed
)

// CachedValue is an immutable key/payload record shared between the table
// slot that stores it and every reader holding a lease.
//
// It has two owners. The table's reference is counted as one lease, taken
// when the value is inserted and dropped exactly once when it is detached
// (evicted, replaced, removed). Readers add their own leases through
// Finding. Whichever event brings the count to zero reclaims the value; the
// order does not matter and reclamation happens exactly once.
//
// Key and Value return views into an internal buffer: treat them as
// read-only and do not retain them past the lease.
type CachedValue struct {
	buf     []byte // key followed by payload
	keySize int
	size    int64

	refs  atomic.Int32
	state atomic.Uint32

	owner *core // set on insert; receives the reclaim notification
}

// NewCachedValue copies key and payload into a new value.
// It fails with *AllocationError when the key is empty or longer than
// MaxKeySize, or when key+payload exceed MaxValueSize.
func NewCachedValue(key, payload []byte) (*CachedValue, error) {
	if len(key) == 0 || len(key) > MaxKeySize {
		return nil, &AllocationError{What: "key", Size: int64(len(key)), Limit: MaxKeySize}
	}
	if n := int64(len(key)) + int64(len(payload)); n > MaxValueSize {
		return nil, &AllocationError{What: "value", Size: n, Limit: MaxValueSize}
	}
	return newValue(key, payload), nil
}

func newValue(key, payload []byte) *CachedValue {
	buf := make([]byte, len(key)+len(payload))
	copy(buf, key)
	copy(buf[len(key):], payload)
	return &CachedValue{
		buf:     buf,
		keySize: len(key),
		size:    int64(len(buf)) + ValueOverhead,
	}
}

// Key returns the key bytes.
func (v *CachedValue) Key() []byte { return v.buf[:v.keySize:v.keySize] }

// Value returns the payload bytes.
func (v *CachedValue) Value() []byte { return v.buf[v.keySize:] }

// Size is the number of bytes charged to a cache for this value.
func (v *CachedValue) Size() int64 { return v.size }

// Leases returns the number of outstanding reader leases
// (the table's own reference is not included).
func (v *CachedValue) Leases() int32 {
	n := v.refs.Load()
	if s := v.state.Load(); s&stateInserted != 0 && s&stateDetached == 0 {
		n--
	}
	return n
}

// Lease takes a reader lease. Every Lease must be paired with one Release.
func (v *CachedValue) Lease() {
	n := v.refs.Add(1)
	if invariants.Enabled && n == 1 && v.state.Load()&stateReclaimed != 0 {
		panic("quotacache: lease on a reclaimed value")
	}
}

// Release drops a reader lease. The value is reclaimed if this was the last
// reference and the value has already left its table.
func (v *CachedValue) Release() {
	n := v.refs.Add(-1)
	switch {
	case n < 0:
		if invariants.Enabled {
			panic("quotacache: negative lease count")
		}
	case n == 0 && v.state.Load()&stateInserted != 0:
		v.reclaim()
	}
}

// Copy returns an independent value with the same key and payload.
// The copy has no leases and belongs to no cache, so it can be inserted.
func (v *CachedValue) Copy() *CachedValue {
	return newValue(v.Key(), v.Value())
}

// Reclaimed reports whether the value has been released by every owner.
func (v *CachedValue) Reclaimed() bool { return v.state.Load()&stateReclaimed != 0 }

func (v *CachedValue) inserted() bool { return v.state.Load()&stateInserted != 0 }

// setState sets bit and reports whether this call was the one that set it.
func (v *CachedValue) setState(bit uint32) bool {
	return v.state.Or(bit)&bit == 0
}

// attach hands the table's reference to the value. Called under the bucket
// lock once the insert is certain to succeed.
func (v *CachedValue) attach(owner *core) {
	if !v.setState(stateInserted) {
		panic("quotacache: value has already been inserted into a cache; insert a Copy instead")
	}
	v.owner = owner
	v.refs.Add(1)
}

// detach drops the table's reference. Idempotent.
func (v *CachedValue) detach() {
	if v.setState(stateDetached) {
		v.Release()
	}
}

func (v *CachedValue) reclaim() {
	if !v.setState(stateReclaimed) {
		if invariants.Enabled {
			panic("quotacache: value reclaimed twice")
		}
		return
	}
	if v.owner != nil {
		v.owner.reclaimed(v)
	}
	v.buf = nil
}
