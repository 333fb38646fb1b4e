// Package config loads rxwatch configuration.
//
// Sources are layered: defaults, then an optional YAML file, then a .env
// file, then RXWATCH_* environment variables. Later sources win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/rxwatch/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RXWATCH_"

// Load builds the configuration. path may be empty, in which case only
// defaults and environment apply. envFile may be empty to skip .env loading.
func Load(path, envFile string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
			}
			slog.Debug("env file not found, relying on process environment", "path", envFile)
		}
	}

	applyEnv(cfg, os.LookupEnv)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *domain.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides cfg from the environment. Unparsable values are logged
// and ignored.
func applyEnv(cfg *domain.Config, lookup lookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				slog.Warn("ignoring invalid integer env override", "key", EnvPrefix+key, "value", v)
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				slog.Warn("ignoring invalid float env override", "key", EnvPrefix+key, "value", v)
				return
			}
			*dst = f
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				slog.Warn("ignoring invalid duration env override", "key", EnvPrefix+key, "value", v)
				return
			}
			*dst = d
		}
	}

	str("HOST", &cfg.Server.Host)
	num("PORT", &cfg.Server.Port)
	num("READ_TIMEOUT", &cfg.Server.ReadTimeout)
	num("WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	if v, ok := lookup(EnvPrefix + "ALLOWED_ORIGINS"); ok && v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	str("UPSTREAM_URL", &cfg.Upstream.BaseURL)
	dur("UPSTREAM_TIMEOUT", &cfg.Upstream.Timeout)
	float("UPSTREAM_RATE_LIMIT", &cfg.Upstream.RateLimit)
	num("UPSTREAM_RATE_BURST", &cfg.Upstream.RateBurst)

	num("DASHBOARD_TOP_N", &cfg.Views.DashboardTopN)
	num("OVERVIEW_TOP_N", &cfg.Views.OverviewTopN)
	num("TREND_SIZE", &cfg.Views.TrendSize)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	if v, ok := lookup(EnvPrefix + "DEBUG"); ok && v == "true" {
		cfg.Logging.Level = "debug"
	}

	if v, ok := lookup(EnvPrefix + "TRACING"); ok && v != "" {
		cfg.Tracing.Enabled = v == "true" || v == "1"
	}
	str("SERVICE_NAME", &cfg.Tracing.ServiceName)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that cfg is usable.
func Validate(cfg *domain.Config) error {
	var errs []error
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", cfg.Server.Port))
	}
	if cfg.Upstream.BaseURL == "" {
		errs = append(errs, errors.New("upstream base URL is required"))
	}
	if cfg.Upstream.RateLimit < 0 {
		errs = append(errs, errors.New("upstream rate limit must not be negative"))
	}
	if cfg.Views.DashboardTopN < 0 || cfg.Views.OverviewTopN < 0 || cfg.Views.TrendSize < 0 {
		errs = append(errs, errors.New("view sizes must not be negative"))
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", cfg.Logging.Format))
	}
	if _, err := ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger builds the process logger described by cfg.
func NewLogger(cfg domain.LoggingConfig) *slog.Logger {
	level, _ := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
