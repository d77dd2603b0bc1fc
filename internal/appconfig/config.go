// Package config loads orchestrator server configuration. Sources, in
// priority order: environment variables > optional YAML file > defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all orchestrator server configuration.
type Config struct {
	// DataDir is where the job-ledger SQLite database lives (default
	// "/var/lib/cascade").
	DataDir string `yaml:"data_dir"`

	// Workspace is the default workspace this process serves.
	Workspace string `yaml:"workspace"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// DefaultClaimTTLMs is the configured claim lease TTL. orchestratord does
	// not pass it to the job tools; a claim that omits lease_ttl_ms is
	// clamped to the store's 1000 ms minimum.
	DefaultClaimTTLMs int64 `yaml:"default_claim_ttl_ms"`

	// DefaultLeaseTTLMs is the configured runner heartbeat lease TTL.
	// orchestratord does not pass it to the runner tools; a heartbeat that
	// omits lease_ttl_ms is clamped to the registry's 1000 ms minimum.
	DefaultLeaseTTLMs int64 `yaml:"default_lease_ttl_ms"`

	// DigestSchedules maps workspace -> standard cron expression for the
	// digest scheduler. Empty disables digests entirely.
	DigestSchedules map[string]string `yaml:"digest_schedules,omitempty"`

	// MetricsAddr, if set, serves Prometheus metrics on this address.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	// OTLPEndpoint configures OTel trace export; empty disables tracing.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		DataDir:           "/var/lib/cascade",
		Workspace:         "default",
		LogLevel:          "info",
		DefaultClaimTTLMs: 60000,
		DefaultLeaseTTLMs: 30000,
	}
}

// Load reads configuration from an optional YAML file, then overlays
// environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("CASCADE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CASCADE_WORKSPACE"); v != "" {
		cfg.Workspace = v
	}
	if v := os.Getenv("CASCADE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CASCADE_DEFAULT_CLAIM_TTL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.DefaultClaimTTLMs = n
		}
	}
	if v := os.Getenv("CASCADE_DEFAULT_LEASE_TTL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.DefaultLeaseTTLMs = n
		}
	}
	if v := os.Getenv("CASCADE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("CASCADE_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := os.Getenv("CASCADE_DIGEST_SCHEDULES"); v != "" {
		cfg.DigestSchedules = parseDigestSchedules(v)
	}

	return cfg, nil
}

// parseDigestSchedules parses "ws1=0 */4 * * *,ws2=@hourly" into a map.
func parseDigestSchedules(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		ws, expr, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(ws)] = strings.TrimSpace(expr)
	}
	return out
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() Config {
	cfg, _ := Load("")
	return cfg
}

// Save writes configuration to a YAML file.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// HasMetrics reports whether a metrics listen address is configured.
func (c Config) HasMetrics() bool {
	return c.MetricsAddr != ""
}

// HasTracing reports whether an OTLP endpoint is configured.
func (c Config) HasTracing() bool {
	return c.OTLPEndpoint != ""
}
