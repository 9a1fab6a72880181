package obalog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo)

	l.Debug("should not appear")
	require.Empty(t, buf.String())

	l.Info("should appear")
	require.NotEmpty(t, buf.String())
}

func TestLogEmitsJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.Debug("split child", "depth", 2, "key", uint64(42))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "split child", entry["msg"])
	require.Equal(t, "debug", entry["level"])
	require.Equal(t, float64(2), entry["depth"])
	require.Equal(t, float64(42), entry["key"])
}

func TestWithFieldsIsInheritedAndIsolated(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, LevelDebug)
	shard := base.WithFields("shard", 3)

	shard.Info("shard ready")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, float64(3), entry["shard"])

	buf.Reset()
	base.Info("base unaffected")
	entry = nil
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, hasShard := entry["shard"]
	require.False(t, hasShard, "WithFields must not mutate the parent logger")
}

func TestNewNopDiscardsEverything(t *testing.T) {
	nop := NewNop()
	// Must not panic, and WithFields must return another no-op logger.
	nop.Debug("x")
	nop.Info("y")
	nop.Warn("z")
	nop.Error("w")
	require.NotNil(t, nop.WithFields("a", 1))
}

func TestLevelString(t *testing.T) {
	require.Equal(t, "debug", LevelDebug.String())
	require.Equal(t, "info", LevelInfo.String())
	require.Equal(t, "warn", LevelWarn.String())
	require.Equal(t, "error", LevelError.String())
}
