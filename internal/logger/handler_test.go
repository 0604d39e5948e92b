package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"kbingest/internal/middleware"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextHandler_Handle(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := middleware.WithCorrelationID(context.Background(), "test-correlation-id")
	ctx = middleware.WithRunID(ctx, "run-42")

	logger.InfoContext(ctx, "test message")

	var logMap map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logMap))
	assert.Equal(t, "test-correlation-id", logMap["correlation_id"])
	assert.Equal(t, "run-42", logMap["run_id"])
}

func TestContextHandler_WithAttrsKeepsContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewJSONHandler(&buf, nil))).With("component", "pipeline")

	ctx := middleware.WithCorrelationID(context.Background(), "cid")
	logger.InfoContext(ctx, "hello")

	var logMap map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logMap))
	assert.Equal(t, "cid", logMap["correlation_id"])
	assert.Equal(t, "pipeline", logMap["component"])
	assert.NotContains(t, logMap, "run_id")
}
