package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}

func TestWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))
	ctx = WithAttrs(ctx, "saga_id", "money-transfer-REF1")

	FromContext(ctx).Info("advanced")

	assert.Contains(t, buf.String(), "saga_id=money-transfer-REF1")
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))
}

func TestInitJSONOutsideDevelopment(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := Init(Options{Service: "saga-worker", Level: "info", AppEnv: "production", Output: &buf})
	logger.Info("started")

	assert.Contains(t, buf.String(), `"service":"saga-worker"`)
	assert.Contains(t, buf.String(), `"msg":"started"`)
}
