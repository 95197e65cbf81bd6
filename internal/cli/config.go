package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/roach88/restcache/internal/fetch"
)

// Config is the environment layer of the CLI. Flags win over env.
type Config struct {
	Journal      string `env:"RESTCACHE_JOURNAL"`
	Format       string `env:"RESTCACHE_FORMAT"       envDefault:"text"`
	LogLevel     string `env:"RESTCACHE_LOG_LEVEL"    envDefault:"warn"`
	FetchPolicy  string `env:"RESTCACHE_FETCH_POLICY" envDefault:"cache-first"`
	OTelEndpoint string `env:"RESTCACHE_OTEL_ENDPOINT"`
}

// LoadConfig parses the RESTCACHE_* environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return Config{}, err
	}
	if _, err := fetch.ParsePolicy(cfg.FetchPolicy); err != nil {
		return Config{}, fmt.Errorf("RESTCACHE_FETCH_POLICY: %w", err)
	}
	return cfg, nil
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return 0, fmt.Errorf("RESTCACHE_LOG_LEVEL: %w", err)
	}
	return l, nil
}

// newLogger builds the stderr logger: Debug when verbose, otherwise the
// configured level.
func newLogger(w io.Writer, cfg Config, verbose bool) *slog.Logger {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelWarn
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
