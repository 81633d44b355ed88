package log

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestUseRoutesLeveledLines(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := L()
	Use(zap.New(core))
	defer global.Store(prev)

	Debugf("event=test action=debug n=%d", 1)
	Infof("event=test action=info")
	Warnf("event=test action=warn")
	Errorf("event=test action=error error=%v", "boom")
	Exceptionf("event=test action=exception")

	entries := logs.All()
	require.Len(t, entries, 5)
	require.Equal(t, "event=test action=debug n=1", entries[0].Message)
	require.Equal(t, zapcore.InfoLevel, entries[1].Level)
	require.Equal(t, zapcore.WarnLevel, entries[2].Level)
	require.Equal(t, "event=test action=error error=boom", entries[3].Message)
	require.Equal(t, zapcore.ErrorLevel, entries[4].Level)
	require.Contains(t, entries[4].ContextMap(), "stack")
}

func TestNewLoggerFromEnvJSON(t *testing.T) {
	t.Setenv(envLogFormat, "json")
	t.Setenv(envLogLevel, "warn")

	logger, err := newLoggerFromEnv()
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}
