package zap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/IvanBrykalov/quotacache/cache"
)

func TestZapLogger(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.DebugLevel)
	l := ZapLogger{L: zap.New(core)}

	l.Info("migration started", cache.Fields{"cache": "docs", "to": 128})
	l.Error("rebalance failed", cache.Fields{"err": errors.New("boom")})
	l.Debug("quiet", nil)

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "docs", entries[0].ContextMap()["cache"])
	assert.Equal(t, int64(128), entries[0].ContextMap()["to"])
	assert.Equal(t, "boom", entries[1].ContextMap()["err"])
	assert.Empty(t, entries[2].Context)
}
