package cache

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedValue_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewCachedValue(nil, []byte("x"))
	var ae *AllocationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "key", ae.What)

	_, err = NewCachedValue([]byte(strings.Repeat("k", MaxKeySize+1)), nil)
	require.ErrorIs(t, err, ErrAllocation)

	v, err := NewCachedValue([]byte(strings.Repeat("k", MaxKeySize)), []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, int64(MaxKeySize+len("payload")+ValueOverhead), v.Size())
}

func TestCachedValue_CopiesInput(t *testing.T) {
	t.Parallel()

	key, payload := []byte("k"), []byte("abc")
	v, err := NewCachedValue(key, payload)
	require.NoError(t, err)
	payload[0] = 'z'
	key[0] = 'q'
	assert.Equal(t, "k", string(v.Key()))
	assert.Equal(t, "abc", string(v.Value()))
}

// Detach first, last lease second.
func TestCachedValue_ReclaimDetachThenRelease(t *testing.T) {
	t.Parallel()

	v := mustValue(t, "a", "1")
	v.attach(nil)
	v.Lease()
	assert.Equal(t, int32(1), v.Leases())

	v.detach()
	assert.False(t, v.Reclaimed(), "a reader still holds a lease")
	assert.Equal(t, int32(1), v.Leases())

	v.Release()
	assert.True(t, v.Reclaimed())
	assert.Equal(t, int32(0), v.Leases())
}

// Last lease first, detach second.
func TestCachedValue_ReclaimReleaseThenDetach(t *testing.T) {
	t.Parallel()

	v := mustValue(t, "a", "1")
	v.attach(nil)
	v.Lease()
	v.Release()
	assert.False(t, v.Reclaimed(), "the table still references the value")

	v.detach()
	assert.True(t, v.Reclaimed())

	// A second detach must not release again.
	v.detach()
	assert.Equal(t, int32(0), v.refs.Load())
}

func TestCachedValue_NeverInsertedIsNotReclaimed(t *testing.T) {
	t.Parallel()

	v := mustValue(t, "a", "1")
	v.Lease()
	v.Release()
	assert.False(t, v.Reclaimed())
	assert.Equal(t, "1", string(v.Value()))
}

func TestCachedValue_DoubleInsertPanics(t *testing.T) {
	t.Parallel()

	v := mustValue(t, "a", "1")
	v.attach(nil)
	assert.Panics(t, func() { v.attach(nil) })
}

func TestCachedValue_Copy(t *testing.T) {
	t.Parallel()

	v := mustValue(t, "a", "payload")
	v.attach(nil)
	v.Lease()

	cp := v.Copy()
	assert.True(t, bytes.Equal(v.Key(), cp.Key()))
	assert.True(t, bytes.Equal(v.Value(), cp.Value()))
	assert.Equal(t, int32(1), v.Leases(), "copy must not touch the original's leases")
	assert.Equal(t, int32(0), cp.Leases())
	assert.False(t, cp.inserted())

	v.Release()
	v.detach()
	require.True(t, v.Reclaimed())
	assert.Equal(t, "payload", string(cp.Value()), "copy outlives the original")
}

func TestFinding(t *testing.T) {
	t.Parallel()

	miss := NewFinding(nil)
	assert.False(t, miss.Found())
	assert.Nil(t, miss.Value())
	assert.Nil(t, miss.Copy())
	miss.Release()

	v := mustValue(t, "a", "1")
	v.attach(nil)
	f := NewFinding(v)
	require.True(t, f.Found())
	assert.Equal(t, int32(1), v.Leases())
	assert.Equal(t, "1", string(f.Copy().Value()))

	f.Release()
	f.Release() // idempotent
	assert.False(t, f.Found())
	assert.Nil(t, f.Value())
	assert.Equal(t, int32(0), v.Leases())
	assert.False(t, v.Reclaimed())
}

func TestAllocationError(t *testing.T) {
	t.Parallel()

	err := error(&AllocationError{What: "table", Size: 10, Limit: 5})
	assert.True(t, errors.Is(err, ErrAllocation))
	assert.Contains(t, err.Error(), "table of 10 bytes")
}
