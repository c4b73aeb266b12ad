// Package config assembles pipeline configuration from the environment.
//
// Credentials never live at package level. Load returns an explicit Config
// value that callers pass to constructors, so tests can build configs
// without touching the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names read by Load.
const (
	EnvToken        = "SPOTIFY_TOKEN"
	EnvAPIHost      = "SPOTIFY_API_HOST"
	EnvStorageKind  = "STORAGE_KIND"
	EnvStorageDSN   = "STORAGE_DSN"
	EnvDataDir      = "DATA_DIR"
	EnvMaxAttempts  = "FETCH_MAX_ATTEMPTS"
	EnvMetrics      = "METRICS_BACKEND"
	EnvMetricsFlush = "METRICS_FLUSH_INTERVAL"
)

// Config carries everything the pipeline constructors need.
type Config struct {
	// Token is the API bearer token. Required.
	Token string

	// APIHost overrides the API base URL. Empty means the production host.
	APIHost string

	// StorageKind selects a registered backend ("sqlite", "postgres").
	StorageKind string

	// StorageDSN is backend-specific: a file path for sqlite, a conninfo
	// string for postgres.
	StorageDSN string

	// DataDir is where raw snapshots are written, under DataDir/raw.
	DataDir string

	// MaxAttempts bounds retries per rate-limited fetch batch.
	MaxAttempts int

	// Metrics selects the metrics backend: "none" or "datadog".
	Metrics string

	// MetricsFlush is the buffered-metrics flush interval.
	MetricsFlush time.Duration
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Issue is one validation finding. Warnings do not block a run.
type Issue struct {
	Severity Severity
	Field    string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s: %s", i.Severity, i.Field, i.Message)
}

// Load reads Config from the environment, first merging envFile if it
// exists. A missing env file is not an error so production deployments
// can rely on real environment variables alone.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
			}
		}
	}

	cfg := Config{
		Token:        os.Getenv(EnvToken),
		APIHost:      os.Getenv(EnvAPIHost),
		StorageKind:  envOr(EnvStorageKind, "sqlite"),
		StorageDSN:   envOr(EnvStorageDSN, "data/processed/spotify.db"),
		DataDir:      envOr(EnvDataDir, "data"),
		Metrics:      envOr(EnvMetrics, "none"),
		MetricsFlush: 15 * time.Second,
	}

	if v := os.Getenv(EnvMaxAttempts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("config: %s=%q is not a positive integer", EnvMaxAttempts, v)
		}
		cfg.MaxAttempts = n
	}

	if v := os.Getenv(EnvMetricsFlush); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("config: %s=%q is not a positive duration", EnvMetricsFlush, v)
		}
		cfg.MetricsFlush = d
	}

	return cfg, nil
}

// Validate reports configuration problems without stopping at the first
// one, so a misconfigured run surfaces every finding at once.
func (c Config) Validate() []Issue {
	var issues []Issue

	if c.Token == "" {
		issues = append(issues, Issue{SeverityError, EnvToken, "missing bearer token"})
	}
	if c.StorageKind == "" {
		issues = append(issues, Issue{SeverityError, EnvStorageKind, "missing storage kind"})
	}
	if c.StorageDSN == "" {
		issues = append(issues, Issue{SeverityError, EnvStorageDSN, "missing storage DSN"})
	}
	switch c.Metrics {
	case "", "none", "datadog":
	default:
		issues = append(issues, Issue{SeverityError, EnvMetrics, fmt.Sprintf("unknown metrics backend %q", c.Metrics)})
	}
	if c.Metrics == "datadog" && os.Getenv("DD_API_KEY") == "" {
		issues = append(issues, Issue{SeverityWarn, "DD_API_KEY", "datadog metrics enabled but no API key in environment"})
	}

	return issues
}

// HasErrors reports whether any issue is severity error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
