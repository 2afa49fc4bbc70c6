package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel(" error "))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	SetLevel("error")
	require.False(t, L.Enabled(context.Background(), slog.LevelWarn))
	require.True(t, L.Enabled(context.Background(), slog.LevelError))

	SetLevel("debug")
	require.True(t, L.Enabled(context.Background(), slog.LevelDebug))
}
