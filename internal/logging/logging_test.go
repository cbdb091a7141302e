package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	debugLogger, err := New(true)
	require.NoError(t, err)
	require.True(t, debugLogger.Core().Enabled(zapcore.DebugLevel))

	prodLogger, err := New(false)
	require.NoError(t, err)
	require.False(t, prodLogger.Core().Enabled(zapcore.DebugLevel))
	require.True(t, prodLogger.Core().Enabled(zapcore.InfoLevel))
}

func TestOrNop(t *testing.T) {
	require.NotNil(t, OrNop(nil))
}
