package cache

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestManager builds a Manager that tests drive by hand (no Start).
func newTestManager(t testing.TB, opt ManagerOptions) *Manager {
	t.Helper()
	if opt.GlobalLimit == 0 {
		opt.GlobalLimit = 1 << 24
	}
	if opt.DefaultQuota == 0 {
		opt.DefaultQuota = 1 << 20
	}
	m, err := NewManager(opt)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func newTestCache(t testing.TB, m *Manager, opt Options) *PlainCache {
	t.Helper()
	c, err := NewPlainCache(m, opt)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func mustValue(t testing.TB, k, v string) *CachedValue {
	t.Helper()
	cv, err := NewCachedValue([]byte(k), []byte(v))
	require.NoError(t, err)
	return cv
}

// get returns a copy of the payload stored under k.
func get(c Cache, k string) (string, bool) {
	f := c.Lookup([]byte(k))
	defer f.Release()
	if !f.Found() {
		return "", false
	}
	return string(f.Value().Value()), true
}

// constHash pins every key to bucket 0.
func constHash([]byte) uint64 { return 0 }

// numHash maps the key "17" to hash 17; other keys hash to 0.
func numHash(k []byte) uint64 {
	n, err := strconv.ParseUint(string(k), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// bucketLen counts the entries in bucket i of the current generation.
func bucketLen(c *core, i int) int {
	t := c.pin()
	defer t.unpin()
	b := &t.buckets[i]
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Len()
}

// residentBytes sums the sizes of every value reachable in the table.
func residentBytes(c *core) (entries, bytes int64) {
	t := c.pin()
	defer t.unpin()
	gens := []*table{t}
	if n := t.next.Load(); n != nil {
		gens = append(gens, n)
	}
	for _, g := range gens {
		for i := range g.buckets {
			b := &g.buckets[i]
			b.mu.Lock()
			for _, s := range b.slots {
				entries++
				bytes += s.v.Size()
			}
			b.mu.Unlock()
		}
	}
	return entries, bytes
}
