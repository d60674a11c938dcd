package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFields(t *testing.T) {
	got := fields("a", 1, 2, "skipped", "b", "x", "dangling")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Key)
	assert.Equal(t, "b", got[1].Key)
}

func TestLevelsAndError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Use(zap.New(core))
	t.Cleanup(func() { Use(nil) })

	Info("hello", "source", "work")
	Debug("details", "n", 3)
	Error("boom", errors.New("bad"), "source", "home")

	entries := logs.All()
	require.Len(t, entries, 3)

	assert.Equal(t, "hello", entries[0].Message)
	assert.Equal(t, "work", entries[0].ContextMap()["source"])

	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	ctx := entries[2].ContextMap()
	assert.Equal(t, "bad", ctx["error"])
	assert.Equal(t, "home", ctx["source"])
}

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel(LevelInfo) })

	SetLevel(LevelError)
	assert.False(t, level.Enabled(zapcore.InfoLevel))
	SetLevel(LevelDebug)
	assert.True(t, level.Enabled(zapcore.DebugLevel))
}
