package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerFromContext_AddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&buf, slog.LevelInfo)

	ctx := WithCorrelationID(context.Background(), "corr-1")
	require.Equal(t, "corr-1", CorrelationID(ctx))
	LoggerFromContext(ctx, base).Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "hello", line["msg"])
	require.Equal(t, "corr-1", line["correlation_id"])
}

func TestLoggerFromContext_WithoutID(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&buf, slog.LevelWarn)
	require.Same(t, base, LoggerFromContext(context.Background(), base))

	base.Info("dropped")
	require.Zero(t, buf.Len())
	require.Empty(t, CorrelationID(context.Background()))
}
