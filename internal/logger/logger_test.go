package logger

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":  zapcore.DebugLevel,
		" INFO ": zapcore.InfoLevel,
		"warn":   zapcore.WarnLevel,
		"error":  zapcore.ErrorLevel,
		"panic":  zapcore.PanicLevel,
		"fatal":  zapcore.FatalLevel,
		"dpanic": zapcore.DPanicLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("unknown")
	require.False(t, ok)
}

// TestContextHelpers checks that named loggers travel through the context.
func TestContextHelpers(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	l := NewWithWriter(&buf, false, zapcore.DebugLevel)
	ctx := ToContext(context.Background(), l)
	ctx = WithName(ctx, "controller")
	ctx = WithKV(ctx, "channel", 7)

	InfoKV(ctx, "Scanning", "attempt", 1)

	out := buf.String()
	require.Contains(t, out, "controller")
	require.Contains(t, out, "Scanning")
	require.Contains(t, out, `"channel": 7`)
	require.Contains(t, out, `"attempt": 1`)
}

// TestFromContext_FallsBackToGlobal ensures a bare context yields the global logger.
func TestFromContext_FallsBackToGlobal(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))
}

// TestNewWithFile writes through the rotating file core.
func TestNewWithFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "arms.log")

	l, err := NewWithFile(zapcore.InfoLevel, FileOptions{Path: path, MaxSizeMB: 1})
	require.NoError(t, err)

	l.Infow("Transmitting audio", "files", 2)
	_ = l.Sync()

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), "Transmitting audio")
}
