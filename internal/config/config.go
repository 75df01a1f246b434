/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Event bus backends that receive downstream notifications.
const (
	EventBusRedis = "redis"
	EventBusNATS  = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string
	InstanceID  string

	// Playout loop
	PollInterval         time.Duration
	DeadAirThreshold     time.Duration
	DefaultAssetDuration time.Duration

	// Queue replenishment
	QueueTarget   time.Duration
	QueueInterval time.Duration

	// Blackout generation
	BlackoutHorizon time.Duration
	BlackoutRefresh time.Duration

	// Redis cache
	CacheEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Downstream publication
	EventBuses []string
	NATSURL    string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"GRIMNIR_ENV", "RLM_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"GRIMNIR_HTTP_BIND", "RLM_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"GRIMNIR_HTTP_PORT", "RLM_HTTP_PORT"}, 8080),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"GRIMNIR_DB_BACKEND", "RLM_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:       getEnvAny([]string{"GRIMNIR_DB_DSN", "RLM_DB_DSN"}, ""),
		InstanceID:  getEnvAny([]string{"GRIMNIR_INSTANCE_ID", "RLM_INSTANCE_ID"}, ""),

		PollInterval:         getEnvDurationAny([]string{"GRIMNIR_POLL_INTERVAL"}, 3*time.Second),
		DeadAirThreshold:     time.Duration(getEnvIntAny([]string{"GRIMNIR_DEAD_AIR_THRESHOLD_SECONDS"}, 30)) * time.Second,
		DefaultAssetDuration: time.Duration(getEnvIntAny([]string{"GRIMNIR_DEFAULT_ASSET_DURATION_SECONDS"}, 180)) * time.Second,

		QueueTarget:   time.Duration(getEnvIntAny([]string{"GRIMNIR_QUEUE_TARGET_HOURS"}, 24)) * time.Hour,
		QueueInterval: getEnvDurationAny([]string{"GRIMNIR_QUEUE_INTERVAL"}, 3*time.Second),

		BlackoutHorizon: time.Duration(getEnvIntAny([]string{"GRIMNIR_BLACKOUT_HORIZON_DAYS"}, 30)) * 24 * time.Hour,
		BlackoutRefresh: getEnvDurationAny([]string{"GRIMNIR_BLACKOUT_REFRESH"}, time.Minute),

		CacheEnabled:  getEnvBoolAny([]string{"GRIMNIR_CACHE_ENABLED"}, false),
		RedisAddr:     getEnvAny([]string{"GRIMNIR_REDIS_ADDR", "RLM_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"GRIMNIR_REDIS_PASSWORD", "RLM_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"GRIMNIR_REDIS_DB", "RLM_REDIS_DB"}, 0),

		EventBuses: getEnvListAny([]string{"GRIMNIR_EVENT_BUS"}),
		NATSURL:    getEnvAny([]string{"GRIMNIR_NATS_URL"}, "nats://127.0.0.1:4222"),

		TracingEnabled:    getEnvBoolAny([]string{"GRIMNIR_TRACING_ENABLED", "RLM_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"GRIMNIR_OTLP_ENDPOINT", "RLM_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"GRIMNIR_TRACING_SAMPLE_RATE", "RLM_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("GRIMNIR_DB_DSN or RLM_DB_DSN must be provided")
	}

	for _, bus := range cfg.EventBuses {
		if bus != EventBusRedis && bus != EventBusNATS {
			return nil, fmt.Errorf("unsupported event bus %q", bus)
		}
	}

	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("GRIMNIR_POLL_INTERVAL must be positive")
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":         "use GRIMNIR_ENV (or RLM_ENV)",
		"TRACING_ENABLED":     "use GRIMNIR_TRACING_ENABLED (or RLM_TRACING_ENABLED)",
		"OTLP_ENDPOINT":       "use GRIMNIR_OTLP_ENDPOINT (or RLM_OTLP_ENDPOINT)",
		"TRACING_SAMPLE_RATE": "use GRIMNIR_TRACING_SAMPLE_RATE (or RLM_TRACING_SAMPLE_RATE)",
		"DEAD_AIR_THRESHOLD":  "use GRIMNIR_DEAD_AIR_THRESHOLD_SECONDS",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// UsesEventBus reports whether the named downstream backend is enabled.
func (c *Config) UsesEventBus(name string) bool {
	if c == nil {
		return false
	}
	for _, bus := range c.EventBuses {
		if bus == name {
			return true
		}
	}
	return false
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go durations ("3s") or plain seconds ("3").
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}

// getEnvListAny splits the first set value on commas.
func getEnvListAny(keys []string) []string {
	raw := getEnvAny(keys, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
