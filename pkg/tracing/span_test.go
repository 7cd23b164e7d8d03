package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestFanOut_EmitsPerSourceGroups(t *testing.T) {
	buf := captureLogs(t)

	ctx, fo := StartFanOut(context.Background(), "req-1", "sparse attention")
	StartFetch(ctx, "web").Finish("success", 4)
	StartFetch(ctx, "preprint").Finish("timeout", 0)
	fo.Finish(4, true)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "req-1", rec["request_id"])
	assert.Equal(t, "sparse attention", rec["query"])
	assert.Equal(t, float64(4), rec["results"])
	assert.Equal(t, true, rec["truncated"])

	web, ok := rec["web"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "success", web["status"])
	assert.Equal(t, float64(4), web["count"])

	preprint, ok := rec["preprint"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "timeout", preprint["status"])
	assert.Equal(t, float64(0), preprint["count"])
}

func TestFanOut_UnfinishedFetchEmitsEmptyStatus(t *testing.T) {
	buf := captureLogs(t)

	ctx, fo := StartFanOut(context.Background(), "req-2", "q")
	StartFetch(ctx, "biomed")
	fo.Finish(0, true)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	biomed, ok := rec["biomed"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "", biomed["status"])
	assert.Equal(t, float64(0), biomed["duration_ms"])
}

func TestStartFetch_WithoutFanOutIsDetached(t *testing.T) {
	fe := StartFetch(context.Background(), "web")
	require.NotNil(t, fe)
	assert.NotPanics(t, func() { fe.Finish("success", 1) })
}

func TestFanOutFromContext(t *testing.T) {
	ctx, fo := StartFanOut(context.Background(), "req-3", "q")
	assert.Same(t, fo, FanOutFromContext(ctx))
	assert.Nil(t, FanOutFromContext(context.Background()))
}
