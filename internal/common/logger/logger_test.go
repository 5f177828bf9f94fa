package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestComponentFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := Component(NewZapAdapter(zap.New(core)), "ingest").
		WithError(errors.New("boom"))

	log.Warn("Chunk rejected", map[string]interface{}{"sessionId": "s1"})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Chunk rejected", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "ingest", fields["component"])
	assert.Equal(t, "s1", fields["sessionId"])
	assert.Equal(t, "boom", fields["error"])
}

func TestNewWithOutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l := NewWithOutput("info", "json", path)
	l.Debug("hidden")
	l.Info("written")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written")
	assert.NotContains(t, string(data), "hidden")
}
