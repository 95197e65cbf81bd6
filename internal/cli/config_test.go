package cli

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "cache-first", cfg.FetchPolicy)
	assert.Empty(t, cfg.Journal)
	assert.Empty(t, cfg.OTelEndpoint)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("RESTCACHE_JOURNAL", "/tmp/restcache.db")
	t.Setenv("RESTCACHE_FORMAT", "json")
	t.Setenv("RESTCACHE_LOG_LEVEL", "debug")
	t.Setenv("RESTCACHE_FETCH_POLICY", "network-only")
	t.Setenv("RESTCACHE_OTEL_ENDPOINT", "http://localhost:4318")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, Config{
		Journal:      "/tmp/restcache.db",
		Format:       "json",
		LogLevel:     "debug",
		FetchPolicy:  "network-only",
		OTelEndpoint: "http://localhost:4318",
	}, cfg)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"log level", "RESTCACHE_LOG_LEVEL", "loud"},
		{"fetch policy", "RESTCACHE_FETCH_POLICY", "sometimes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestNewLogger_Levels(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger(buf, Config{LogLevel: "error"}, false)
	logger.Warn("hidden")
	logger.Error("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	logger = newLogger(buf, Config{LogLevel: "error"}, true)
	assert.True(t, logger.Enabled(t.Context(), slog.LevelDebug))
}
