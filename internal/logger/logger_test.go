package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLevel(" DEBUG "))
	require.Equal(t, slog.LevelWarn, parseLevel("warn"))
	require.Equal(t, slog.LevelError, parseLevel("error"))
	require.Equal(t, slog.LevelInfo, parseLevel(""))
	require.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "api", "info", "json")
	log.Debug("hidden")
	log.Info("analysis finished", slog.String("ticker", "ACME"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "api", entry["service"])
	require.Equal(t, "ACME", entry["ticker"])
	require.Equal(t, "analysis finished", entry["msg"])
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "worker", "", "")
	log.Info("worker started")
	require.Contains(t, buf.String(), "service=worker")
	require.Contains(t, buf.String(), `msg="worker started"`)
}
