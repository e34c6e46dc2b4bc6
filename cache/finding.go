package cache

import "sync/atomic"

// Finding is the result of a lookup. It holds at most one lease on the
// value it found and never owns the value's table residency.
//
// Go has no destructors: callers must Release a Finding, typically with
// defer, and must not use Value() after that.
//
//	f := c.Lookup(key)
//	defer f.Release()
//	if f.Found() {
//	    use(f.Value().Value())
//	}
type Finding struct {
	v        *CachedValue
	released atomic.Bool
}

// NewFinding leases v (when non-nil) and wraps it.
func NewFinding(v *CachedValue) *Finding {
	if v != nil {
		v.Lease()
	}
	return &Finding{v: v}
}

// leased wraps a value whose lease was already taken under a bucket lock.
func leased(v *CachedValue) *Finding { return &Finding{v: v} }

// Found reports a hit.
func (f *Finding) Found() bool { return f.v != nil && !f.released.Load() }

// Value returns the leased value, or nil on a miss or after Release.
func (f *Finding) Value() *CachedValue {
	if f.released.Load() {
		return nil
	}
	return f.v
}

// Copy returns a deep copy that outlives the Finding, or nil on a miss.
func (f *Finding) Copy() *CachedValue {
	if v := f.Value(); v != nil {
		return v.Copy()
	}
	return nil
}

// Release drops the lease. Safe to call more than once.
func (f *Finding) Release() {
	if f.v != nil && f.released.CompareAndSwap(false, true) {
		f.v.Release()
	}
}
