package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	var buf bytes.Buffer
	logger, closer := Setup("paygated", "test", Options{Output: &buf})
	defer closer.Close()

	logger.Info("ready", slog.String("apiKey", "secret"), slog.String("component", "rpc"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "ready", line["message"])
	require.Equal(t, "paygated", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, RedactedValue, line["apiKey"])
	require.Equal(t, "rpc", line["component"])
	require.Contains(t, line, "timestamp")
}

func TestSetupHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := Setup("paygated", "", Options{Output: &buf, Level: "warn"})
	defer closer.Close()

	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.Contains(t, buf.String(), "kept")
}

func TestSetupWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paygated.log")
	var buf bytes.Buffer
	logger, closer := Setup("paygated", "", Options{Output: &buf, File: path})
	logger.Info("persisted")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "persisted")
}
