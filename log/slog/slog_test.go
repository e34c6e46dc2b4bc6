package slog

import (
	"bytes"
	"encoding/json"
	stdslog "log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/quotacache/cache"
)

func TestLogger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := Logger{L: stdslog.New(stdslog.NewJSONHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelInfo}))}

	l.Debug("dropped", cache.Fields{"cache": "docs"})
	assert.Zero(t, buf.Len())

	l.Info("migration completed", cache.Fields{"cache": "docs", "buckets": 256})
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "INFO", rec["level"])
	assert.Equal(t, "migration completed", rec["msg"])
	assert.Equal(t, "docs", rec["cache"])
	assert.Equal(t, 256.0, rec["buckets"])
}
