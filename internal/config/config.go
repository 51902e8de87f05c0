// AuditRelay - Resilient Audit Event Shipping
// Copyright 2026 AuditRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/auditrelay/auditrelay

// Package config holds the daemon configuration, loaded in layers:
// built-in defaults, then an optional YAML file, then environment
// variables. ENV > file > defaults.
package config

import (
	"fmt"
	"time"
)

// Config holds all daemon configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Fallback  FallbackConfig  `koanf:"fallback"`
	Shipper   ShipperConfig   `koanf:"shipper"`
	Enrich    EnrichConfig    `koanf:"enrich"`
	Retention RetentionConfig `koanf:"retention"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// CORSOrigins lists allowed cross-origin callers for admin UIs.
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitReqs requests per RateLimitWindow per client IP. Zero
	// disables rate limiting.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// StoreConfig selects and configures the remote record store.
type StoreConfig struct {
	// Backend is one of "memory", "duckdb", "postgres".
	Backend string `koanf:"backend"`

	// DSN is the Postgres connection string when Backend is "postgres".
	DSN string `koanf:"dsn"`

	// Path is the DuckDB database file when Backend is "duckdb".
	// Empty means in-memory.
	Path string `koanf:"path"`

	// MemoryMaxRecords caps the in-memory backend.
	MemoryMaxRecords int `koanf:"memory_max_records"`
}

// FallbackConfig configures the local fallback store used when shipment
// to the remote store fails.
type FallbackConfig struct {
	// Backend is one of "badger", "memory", "none".
	Backend string `koanf:"backend"`

	// Path is the on-disk directory for the Badger backend.
	Path string `koanf:"path"`

	// Cap is the maximum number of retained entries.
	Cap int `koanf:"cap"`

	// SyncWrites forces fsync on every fallback write.
	SyncWrites bool `koanf:"sync_writes"`
}

// ShipperConfig configures the shipping pipeline bounds.
type ShipperConfig struct {
	MaxQueue     int           `koanf:"max_queue"`
	MaxRetries   int           `koanf:"max_retries"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
	FlushTimeout time.Duration `koanf:"flush_timeout"`

	// FlushInterval is how often the background flusher kicks the queue,
	// catching records whose triggering flush lost a race.
	FlushInterval time.Duration `koanf:"flush_interval"`
}

// EnrichConfig configures client metadata enrichment.
type EnrichConfig struct {
	// Mode is one of "request", "http", "none". "request" extracts
	// metadata from inbound API requests; "http" also resolves the
	// process's public IP from an IP-echo endpoint.
	Mode string `koanf:"mode"`

	// Endpoint is the IP-echo URL for "http" mode.
	Endpoint string `koanf:"endpoint"`

	Timeout time.Duration `koanf:"timeout"`
}

// RetentionConfig configures periodic pruning of old records.
type RetentionConfig struct {
	Enabled bool `koanf:"enabled"`

	// Days is the retention horizon; records older than this are pruned.
	Days int `koanf:"days"`

	// Interval is how often the pruning pass runs.
	Interval time.Duration `koanf:"interval"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Validate checks cross-field constraints after loading.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	switch c.Store.Backend {
	case "memory", "duckdb":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}

	switch c.Fallback.Backend {
	case "memory", "none":
	case "badger":
		if c.Fallback.Path == "" {
			return fmt.Errorf("fallback.path is required for the badger backend")
		}
	default:
		return fmt.Errorf("unknown fallback.backend %q", c.Fallback.Backend)
	}
	if c.Fallback.Cap < 0 {
		return fmt.Errorf("fallback.cap must not be negative")
	}

	if c.Shipper.MaxQueue <= 0 {
		return fmt.Errorf("shipper.max_queue must be positive")
	}
	if c.Shipper.MaxRetries <= 0 {
		return fmt.Errorf("shipper.max_retries must be positive")
	}
	if c.Shipper.RetryBackoff <= 0 {
		return fmt.Errorf("shipper.retry_backoff must be positive")
	}

	switch c.Enrich.Mode {
	case "request", "none":
	case "http":
		if c.Enrich.Endpoint == "" {
			return fmt.Errorf("enrich.endpoint is required for http mode")
		}
	default:
		return fmt.Errorf("unknown enrich.mode %q", c.Enrich.Mode)
	}

	if c.Retention.Enabled {
		if c.Retention.Days <= 0 {
			return fmt.Errorf("retention.days must be positive when retention is enabled")
		}
		if c.Retention.Interval <= 0 {
			return fmt.Errorf("retention.interval must be positive when retention is enabled")
		}
	}

	return nil
}
