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

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string
	MetricsBind   string

	// Timezone is the IANA name of the installation timezone. Slot grids,
	// day and week windows are computed in it.
	Timezone string

	// Redis-backed policy cache
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	PolicyCacheTTL time.Duration

	// NATS fan-out of reservation notifications (disabled when empty)
	NATSURL           string
	NATSSubjectPrefix string

	// Alert webhook for booking rejections (disabled when empty)
	AlertWebhookURL    string
	AlertWebhookSecret string
	AlertWebhookCodes  []string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// NotifyTimeout bounds each fire-and-forget notification.
	NotifyTimeout time.Duration

	// SeedFile is loaded by `slotbook seed` when --file is not given.
	SeedFile string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny([]string{"SLOTBOOK_ENV"}, "development"),
		HTTPBind:      getEnvAny([]string{"SLOTBOOK_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"SLOTBOOK_HTTP_PORT"}, 8080),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"SLOTBOOK_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:         getEnvAny([]string{"SLOTBOOK_DB_DSN", "DATABASE_URL"}, ""),
		JWTSigningKey: getEnvAny([]string{"SLOTBOOK_JWT_SIGNING_KEY"}, ""),
		MetricsBind:   getEnvAny([]string{"SLOTBOOK_METRICS_BIND"}, "127.0.0.1:9000"),
		Timezone:      getEnvAny([]string{"SLOTBOOK_TIMEZONE", "TZ"}, "America/Chicago"),

		RedisAddr:      getEnvAny([]string{"SLOTBOOK_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:  getEnvAny([]string{"SLOTBOOK_REDIS_PASSWORD"}, ""),
		RedisDB:        getEnvIntAny([]string{"SLOTBOOK_REDIS_DB"}, 0),
		PolicyCacheTTL: time.Duration(getEnvIntAny([]string{"SLOTBOOK_POLICY_CACHE_TTL_SECONDS"}, 300)) * time.Second,

		NATSURL:           getEnvAny([]string{"SLOTBOOK_NATS_URL"}, ""),
		NATSSubjectPrefix: getEnvAny([]string{"SLOTBOOK_NATS_SUBJECT_PREFIX"}, "slotbook.reservations"),

		AlertWebhookURL:    getEnvAny([]string{"SLOTBOOK_ALERT_WEBHOOK_URL"}, ""),
		AlertWebhookSecret: getEnvAny([]string{"SLOTBOOK_ALERT_WEBHOOK_SECRET"}, ""),
		AlertWebhookCodes:  getEnvListAny([]string{"SLOTBOOK_ALERT_WEBHOOK_CODES"}),

		TracingEnabled:    getEnvBoolAny([]string{"SLOTBOOK_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"SLOTBOOK_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"SLOTBOOK_TRACING_SAMPLE_RATE"}, 1.0),

		NotifyTimeout: time.Duration(getEnvIntAny([]string{"SLOTBOOK_NOTIFY_TIMEOUT_SECONDS"}, 10)) * time.Second,
		SeedFile:      getEnvAny([]string{"SLOTBOOK_SEED_FILE"}, ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("SLOTBOOK_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("SLOTBOOK_JWT_SIGNING_KEY must be provided")
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("SLOTBOOK_TIMEZONE %q: %w", cfg.Timezone, err)
	}

	if cfg.PolicyCacheTTL < 0 {
		return nil, fmt.Errorf("SLOTBOOK_POLICY_CACHE_TTL_SECONDS must not be negative")
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if cfg.DBBackend == DatabaseSQLite {
			return nil, fmt.Errorf("sqlite backend is not supported in production")
		}
		if cfg.AlertWebhookURL != "" && cfg.AlertWebhookSecret == "" {
			return nil, fmt.Errorf("SLOTBOOK_ALERT_WEBHOOK_SECRET is required when the alert webhook is enabled in production")
		}
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"JWT_SIGNING_KEY":  "use SLOTBOOK_JWT_SIGNING_KEY",
		"TRACING_ENABLED":  "use SLOTBOOK_TRACING_ENABLED",
		"OTLP_ENDPOINT":    "use SLOTBOOK_OTLP_ENDPOINT",
		"BOOKING_TIMEZONE": "use SLOTBOOK_TIMEZONE",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// HTTPAddr returns the bind address of the API server.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
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

// getEnvListAny returns the comma separated values of the first set key.
func getEnvListAny(keys []string) []string {
	raw := getEnvAny(keys, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
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
