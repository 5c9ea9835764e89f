package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/phrazzld/personasim/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWithWriter(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	tests := []struct {
		name       string
		level      string
		debugShown bool
		infoShown  bool
	}{
		{name: "debug", level: "debug", debugShown: true, infoShown: true},
		{name: "info", level: "INFO", debugShown: false, infoShown: true},
		{name: "error", level: "error", debugShown: false, infoShown: false},
		{name: "unknown falls back to info", level: "chatty", debugShown: false, infoShown: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := &TestLogBuffer{}
			l, err := SetupWithWriter(config.ServerConfig{LogLevel: tc.level}, buf)
			require.NoError(t, err)
			require.NotNil(t, l)

			l.Debug("debug line")
			l.Info("info line")

			assert.Equal(t, tc.debugShown, contains(buf, "debug line"))
			assert.Equal(t, tc.infoShown, contains(buf, "info line"))
			assert.Same(t, l, slog.Default())
		})
	}
}

func TestContextPropagation(t *testing.T) {
	t.Parallel()

	buf, l := NewTestLogger(t)
	fallback := Discard()

	ctx := WithLogger(context.Background(), l.With("request_id", "abc"))
	FromContextOrDefault(ctx, fallback).Info("from context")

	AssertLogContains(t, buf, `"request_id":"abc"`)
	assert.Same(t, fallback, FromContextOrDefault(context.Background(), fallback))
	assert.NotNil(t, FromContext(context.Background()))
	assert.NotNil(t, FromContextOrDefault(context.Background(), nil))
}

func TestEntries(t *testing.T) {
	t.Parallel()

	buf, l := NewTestLogger(t)
	l.Info("first", "component", "test")
	l.Warn("second")

	entries, err := buf.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0]["msg"])
	assert.Equal(t, "test", entries[0]["component"])
	assert.Equal(t, "WARN", entries[1]["level"])
}

func contains(buf *TestLogBuffer, s string) bool {
	entries, err := buf.Entries()
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e["msg"] == s {
			return true
		}
	}
	return false
}
