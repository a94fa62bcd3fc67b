package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"console", &Config{Level: "debug", Format: "console", Output: "stdout"}},
		{"json to stderr", &Config{Level: "warn", Format: "json", Output: "stderr"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.cfg)
			require.NoError(t, err)
			assert.NotNil(t, log)
		})
	}
}

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")
	log, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	log.Debug("Dispatch unit not claimable, skipping")
	log.Info("Dispatch unit succeeded", zap.String("channel_type", "telegram"))
	require.NoError(t, Sync(log))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "Dispatch unit succeeded", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "telegram", entry["channel_type"])
	assert.Contains(t, entry, "time")
}

func TestNew_UnwritableFileFails(t *testing.T) {
	_, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "worker.log")})
	assert.ErrorContains(t, err, "open log file")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"verbose", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestNew_AttachesServiceFieldsAndExtraCores(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)

	log, err := New(&Config{
		Level:       "info",
		Format:      "json",
		Output:      "stderr",
		Service:     "leadflow-backend",
		Environment: "staging",
		Component:   "worker",
	}, core)
	require.NoError(t, err)

	log.Info("unit dispatched")

	entries := recorded.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "leadflow-backend", fields["service"])
	assert.Equal(t, "staging", fields["env"])
	assert.Equal(t, "worker", fields["component"])
}

func TestNew_ConsoleOmitsDisabledLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.log")
	log, err := New(&Config{Level: "warn", Format: "console", Output: path, Component: "migrate"})
	require.NoError(t, err)

	log.Info("Running migrations")
	log.Warn("Forcing migration version", zap.Int("version", 20260301093000))
	require.NoError(t, Sync(log))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "Running migrations")
	assert.Contains(t, string(raw), "Forcing migration version")
	assert.Contains(t, string(raw), `"component": "migrate"`)
}

func TestSync_IgnoresStdout(t *testing.T) {
	log, err := New(&Config{Output: "stdout"})
	require.NoError(t, err)
	assert.NoError(t, Sync(log))
}
