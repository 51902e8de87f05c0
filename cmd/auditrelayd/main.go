// AuditRelay - Resilient Audit Event Shipping
// Copyright 2026 AuditRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/auditrelay/auditrelay

// Package main is the entry point for the AuditRelay daemon.
//
// AuditRelay receives audit events over HTTP, queues them in memory, and
// ships them to a remote store in batches. Failed shipments are retried
// with growing backoff and mirrored to a local fallback store so records
// survive a remote outage.
//
// # Startup order
//
//  1. Configuration: Koanf v2 layered loading (defaults, YAML file, env)
//  2. Logging: zerolog, configured from the logging section
//  3. Remote store: memory, DuckDB, or Postgres per store.backend
//  4. Fallback store: BadgerDB (degrading to no-op when the disk is unusable)
//  5. Supervision tree: flush kicker, optional retention, HTTP API
//
// # Configuration
//
// Environment variables use the AUDITRELAY_ prefix with a double underscore
// between section and key:
//
//	export AUDITRELAY_STORE__BACKEND=postgres
//	export AUDITRELAY_STORE__DSN=postgres://audit:audit@db:5432/audit
//	export AUDITRELAY_SERVER__PORT=8470
//	./auditrelayd
//
// # Signal handling
//
// SIGINT and SIGTERM shut the daemon down gracefully: the HTTP listener
// drains, the supervision tree stops, and a final synchronous flush attempts
// to deliver anything still queued.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/auditrelay/auditrelay/internal/api"
	"github.com/auditrelay/auditrelay/internal/audit"
	"github.com/auditrelay/auditrelay/internal/config"
	"github.com/auditrelay/auditrelay/internal/enrich"
	"github.com/auditrelay/auditrelay/internal/fallback"
	"github.com/auditrelay/auditrelay/internal/logging"
	"github.com/auditrelay/auditrelay/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Daemon failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.Info().
		Str("store", cfg.Store.Backend).
		Str("fallback", cfg.Fallback.Backend).
		Msg("AuditRelay starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open remote store: %w", err)
	}
	defer closeStore()

	fb := openFallback(cfg)
	defer fb.Close() //nolint:errcheck

	svc := audit.New(store, fb, newEnricher(cfg), audit.ShipperConfig{
		MaxQueue:     cfg.Shipper.MaxQueue,
		MaxRetries:   cfg.Shipper.MaxRetries,
		RetryBackoff: cfg.Shipper.RetryBackoff,
		FlushTimeout: cfg.Shipper.FlushTimeout,
	})

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddShippingService(supervisor.NewFlushService(svc.Shipper, cfg.Shipper.FlushInterval))
	if cfg.Retention.Enabled {
		tree.AddShippingService(supervisor.NewRetentionService(svc.Reader, cfg.Retention.Days, cfg.Retention.Interval))
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := api.NewServer(svc, cfg.Server)
	tree.AddAPIService(supervisor.NewHTTPService(addr, srv.Routes(), cfg.Server.Timeout))

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervision tree: %w", err)
	}

	// Final delivery attempt for anything still queued.
	if err := svc.Close(); err != nil {
		logging.Warn().Err(err).Msg("Final flush did not complete")
	}

	logging.Info().Msg("AuditRelay stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (audit.Store, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		return audit.NewMemoryStore(cfg.Store.MemoryMaxRecords), func() {}, nil

	case "duckdb":
		store, err := audit.OpenDuckDB(ctx, cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		if err := store.CreateTable(ctx); err != nil {
			store.Close() //nolint:errcheck
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	case "postgres":
		store, err := audit.OpenPG(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := store.CreateSchema(ctx); err != nil {
			store.Close() //nolint:errcheck
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func openFallback(cfg *config.Config) fallback.Store {
	switch cfg.Fallback.Backend {
	case "badger":
		return fallback.OpenOrNoop(fallback.Config{
			Path:       cfg.Fallback.Path,
			Cap:        cfg.Fallback.Cap,
			SyncWrites: cfg.Fallback.SyncWrites,
		})
	case "memory":
		return fallback.NewMemory(cfg.Fallback.Cap)
	default:
		return fallback.Noop{}
	}
}

func newEnricher(cfg *config.Config) enrich.Enricher {
	switch cfg.Enrich.Mode {
	case "http":
		return enrich.NewHTTP(enrich.HTTPConfig{
			Endpoint:  cfg.Enrich.Endpoint,
			Timeout:   cfg.Enrich.Timeout,
			UserAgent: "auditrelay/" + buildVersion,
		})
	default:
		// "request" mode relies on per-request metadata supplied by the
		// API layer; no ambient provider is needed.
		return nil
	}
}

// buildVersion is set at build time via -ldflags.
var buildVersion = "dev"
