// AuditRelay - Resilient Audit Event Shipping
// Copyright 2026 AuditRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/auditrelay/auditrelay

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/auditrelay/auditrelay/internal/audit"
	"github.com/auditrelay/auditrelay/internal/logging"
)

// FlushService periodically kicks the shipper's queue. Flushes are normally
// triggered per record; this catches records left behind when a trigger lost
// the single-flight race, and drains the queue after process hiccups.
type FlushService struct {
	shipper  *audit.Shipper
	interval time.Duration
}

// NewFlushService creates the periodic flush kicker.
func NewFlushService(shipper *audit.Shipper, interval time.Duration) *FlushService {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &FlushService{shipper: shipper, interval: interval}
}

// Serve implements suture.Service.
func (s *FlushService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.shipper.Flush()
		}
	}
}

func (s *FlushService) String() string { return "flush-kicker" }

// RetentionService prunes remote records older than the retention horizon.
type RetentionService struct {
	reader   *audit.Reader
	days     int
	interval time.Duration
}

// NewRetentionService creates the periodic pruning service.
func NewRetentionService(reader *audit.Reader, days int, interval time.Duration) *RetentionService {
	return &RetentionService{reader: reader, days: days, interval: interval}
}

// Serve implements suture.Service. A pass runs immediately on start, then
// on every interval tick.
func (s *RetentionService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.prune(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.prune(ctx)
		}
	}
}

func (s *RetentionService) prune(ctx context.Context) {
	result := s.reader.PruneOlderThan(ctx, s.days)
	if !result.Success {
		logging.Warn().Int("days", s.days).Msg("Retention pass failed")
	}
}

func (s *RetentionService) String() string { return "retention" }

// HTTPService runs the API listener under supervision.
type HTTPService struct {
	server *http.Server
}

// NewHTTPService wraps an http.Server as a supervised service.
func NewHTTPService(addr string, handler http.Handler, timeout time.Duration) *HTTPService {
	return &HTTPService{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       timeout,
			WriteTimeout:      timeout,
		},
	}
}

// Serve implements suture.Service. On context cancellation the listener is
// shut down gracefully, bounded by a fresh timeout.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	logging.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("HTTP shutdown did not complete cleanly")
		}
		return ctx.Err()
	}
}

func (s *HTTPService) String() string { return "http-api" }
