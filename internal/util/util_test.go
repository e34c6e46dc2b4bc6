package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextPow2(t *testing.T) {
	t.Parallel()

	cases := map[uint64]uint64{0: 1, 1: 1, 2: 2, 3: 4, 5: 8, 64: 64, 65: 128}
	for in, want := range cases {
		assert.Equal(t, want, NextPow2(in), "NextPow2(%d)", in)
	}
	assert.Equal(t, uint64(1<<63), NextPow2(1<<63+1))
}

func TestClampBuckets(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 16, ClampBuckets(3, 16, 1024))
	assert.Equal(t, 32, ClampBuckets(17, 16, 1024))
	assert.Equal(t, 1024, ClampBuckets(5000, 16, 1024))
	assert.Equal(t, 8192, ClampBuckets(5000, 16, 0))
}

func TestBucketIndexUsesLowBits(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, BucketIndex(12345, 1))
	assert.Equal(t, 5, BucketIndex(0xF5, 16))
	assert.Equal(t, 0xF5&63, BucketIndex(0xF5, 64))
}

func TestHashKeyStable(t *testing.T) {
	t.Parallel()

	a := HashKey([]byte("edge/1234"))
	b := HashKey([]byte("edge/1234"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, HashKey([]byte("edge/1235")))
}
