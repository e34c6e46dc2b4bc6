package logrus

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/quotacache/cache"
)

func TestLogrusLogger(t *testing.T) {
	t.Parallel()
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := LogrusLogger{E: logrus.NewEntry(base).WithField("component", "cache")}

	l.Warn("cache registration refused", cache.Fields{"cache": "edges", "unallocated": int64(10)})
	l.Debug("cache registered", nil)

	require.Len(t, hook.AllEntries(), 2)
	e := hook.AllEntries()[0]
	assert.Equal(t, logrus.WarnLevel, e.Level)
	assert.Equal(t, "cache registration refused", e.Message)
	assert.Equal(t, "edges", e.Data["cache"])
	assert.Equal(t, "cache", e.Data["component"])
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
}
