package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"idempotency/internal/config"
)

func TestLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, Level(config.Config{Env: "development"}))
	require.Equal(t, slog.LevelInfo, Level(config.Config{Env: "production"}))
	require.Equal(t, slog.LevelWarn, Level(config.Config{LogLevel: "warning"}))
	require.Equal(t, slog.LevelError, Level(config.Config{LogLevel: "error"}))
	require.Equal(t, slog.LevelInfo, Level(config.Config{LogLevel: "verbose"}))
}

func TestNewHandler_ProductionDefaultsToJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, config.Config{Env: "production"}))

	logger.Info("payment processed", "token", "abc")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "payment processed", entry["msg"])
	require.Equal(t, "abc", entry["token"])
}

func TestNewHandler_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, config.Config{LogLevel: "warn", LogFormat: "text"}))

	logger.Info("hidden")
	require.Empty(t, buf.String())

	logger.Warn("shown")
	require.Contains(t, buf.String(), "shown")
}
