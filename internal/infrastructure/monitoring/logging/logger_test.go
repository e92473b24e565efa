package logging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved(level zapcore.Level) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return NewLoggerFromCore(core), logs
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		l, err := NewLogger(LogConfig{Level: "info", Format: format, ServiceName: "constructops"})
		require.NoError(t, err)
		assert.NotNil(t, l)
	}
}

func TestNewLogger_BadOutputPath(t *testing.T) {
	_, err := NewLogger(LogConfig{OutputPaths: []string{"/nonexistent-dir/sub/app.log"}})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestZapLogger_TypedFields(t *testing.T) {
	l, logs := newObserved(zapcore.DebugLevel)

	l.Info("request handled",
		String("path", "/api/v1/projects"),
		Int("status", 200),
		Int64("rows", 12),
		Float64("ratio", 0.5),
		Bool("slow", false),
		Duration("duration", 15*time.Millisecond),
		Strings("roles", []string{"admin"}),
		Err(errors.New("boom")),
	)

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "/api/v1/projects", ctx["path"])
	assert.EqualValues(t, 200, ctx["status"])
	assert.EqualValues(t, 12, ctx["rows"])
	assert.Equal(t, false, ctx["slow"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestZapLogger_LevelFiltering(t *testing.T) {
	l, logs := newObserved(zapcore.WarnLevel)
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")
	assert.Equal(t, 2, logs.Len())
}

func TestZapLogger_WithAndNamed(t *testing.T) {
	l, logs := newObserved(zapcore.InfoLevel)
	child := l.Named("guard").With(String("request_id", "r-1"))
	child.Info("hello")
	l.Info("parent")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "guard", entries[0].LoggerName)
	assert.Equal(t, "r-1", entries[0].ContextMap()["request_id"])
	assert.NotContains(t, entries[1].ContextMap(), "request_id")
}

func TestErr_Nil(t *testing.T) {
	f := Err(nil)
	assert.Equal(t, "error", f.Key)
	assert.Equal(t, "<nil>", f.Value)
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Debug("msg")
	l.Info("msg")
	l.Warn("msg")
	l.Error("msg")
	assert.NotNil(t, l.With(String("k", "v")))
	assert.NotNil(t, l.Named("x"))
}

func TestDefault(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	l, _ := newObserved(zapcore.InfoLevel)
	SetDefault(nil)
	assert.Equal(t, prev, Default())
	SetDefault(l)
	assert.Equal(t, l, Default())
}

func TestContextRoundTrip(t *testing.T) {
	l, logs := newObserved(zapcore.InfoLevel)
	ctx := IntoContext(context.Background(), l.With(String("request_id", "abc")))
	FromContext(ctx).Info("scoped")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "abc", logs.All()[0].ContextMap()["request_id"])
	assert.Equal(t, Default(), FromContext(context.Background()))
}
