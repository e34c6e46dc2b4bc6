package prom

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/quotacache/cache"
)

func TestAdapter(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	a := New(reg, "qc", "test", prometheus.Labels{"cache": "docs"})

	a.Hit()
	a.Hit()
	a.Miss()
	a.Evict(cache.EvictPressure)
	a.Reject(cache.RejectBanished)
	a.Size(3, 300)
	a.Limits(100, 200)
	a.Migration(cache.MigrationStarted, 128)

	assert.Equal(t, 2.0, testutil.ToFloat64(a.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.evicts.WithLabelValues("pressure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.rejects.WithLabelValues("banished")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.migrations.WithLabelValues("started")))
	assert.Equal(t, 300.0, testutil.ToFloat64(a.sizeBytes))
	assert.Equal(t, 200.0, testutil.ToFloat64(a.hardLimit))
	assert.Equal(t, 128.0, testutil.ToFloat64(a.buckets))

	err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP qc_test_misses_total Cache misses
# TYPE qc_test_misses_total counter
qc_test_misses_total{cache="docs"} 1
`), "qc_test_misses_total")
	require.NoError(t, err)
}

func TestAdapters_WiredIntoCache(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	ma := NewManager(reg, "qc", 1<<20)
	m, err := cache.NewManager(cache.ManagerOptions{GlobalLimit: 1 << 20, DefaultQuota: 1 << 16, Metrics: ma})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	ca := New(reg, "qc", "cache", prometheus.Labels{"cache": "c"})
	c, err := cache.NewPlainCache(m, cache.Options{Name: "c", Metrics: ca})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	v, err := cache.NewCachedValue([]byte("k"), []byte("v"))
	require.NoError(t, err)
	require.True(t, c.Insert(v))
	c.Lookup([]byte("k")).Release()
	c.Lookup([]byte("absent")).Release()
	require.NoError(t, m.Rebalance(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(ca.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(ca.misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(ca.sizeEnt))
	assert.Equal(t, float64(1<<16), testutil.ToFloat64(ca.hardLimit))
	assert.Equal(t, float64(1<<16), testutil.ToFloat64(ma.allocated))
	assert.Equal(t, 1.0, testutil.ToFloat64(ma.caches))
	assert.Equal(t, 1, testutil.CollectAndCount(ma.rebalance))
}
