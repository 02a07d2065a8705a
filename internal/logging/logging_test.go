package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, zapcore.WarnLevel, Level(false, false))
	assert.Equal(t, zapcore.DebugLevel, Level(true, false))
	assert.Equal(t, zapcore.ErrorLevel, Level(false, true))
	assert.Equal(t, zapcore.ErrorLevel, Level(true, true))
}

func TestNew(t *testing.T) {
	t.Parallel()

	logger, err := New(true, false)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = New(false, true)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNewWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWriter(&buf, zapcore.InfoLevel)
	logger.Debug("hidden")
	logger.Info("graph built", zap.Int("nodes", 3))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "graph built")
	assert.Contains(t, out, "nodes")
}
