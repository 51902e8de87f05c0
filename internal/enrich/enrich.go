// AuditRelay - Resilient Audit Event Shipping
// Copyright 2026 AuditRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/auditrelay/auditrelay

// Package enrich supplies best-effort client network metadata (IP address,
// user agent) at record-build time. Enrichment failures are expected and
// must never block record construction.
package enrich

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Info is the enrichment result. Zero fields mean "unknown".
type Info struct {
	IP        string
	UserAgent string
}

// Enricher supplies client metadata for a record under construction.
// Implementations should honor ctx cancellation; callers treat any error
// as "use defaults".
type Enricher interface {
	Enrich(ctx context.Context) (Info, error)
}

// Static returns fixed enrichment values. Useful for server-side deployments
// where the process identity is the client, and for tests.
type Static struct {
	IP        string
	UserAgent string
}

// Enrich implements Enricher.
func (s Static) Enrich(_ context.Context) (Info, error) {
	return Info{IP: s.IP, UserAgent: s.UserAgent}, nil
}

// FromRequest extracts client metadata from an inbound HTTP request,
// honoring X-Forwarded-For and X-Real-IP set by reverse proxies.
func FromRequest(r *http.Request) Info {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First hop is the originating client.
		ip = strings.TrimSpace(strings.Split(xff, ",")[0])
	} else if xri := r.Header.Get("X-Real-IP"); xri != "" {
		ip = xri
	}

	return Info{
		IP:        ip,
		UserAgent: r.UserAgent(),
	}
}

// HTTPConfig configures the HTTP enricher.
type HTTPConfig struct {
	// Endpoint is an IP-echo URL returning the caller's public address as
	// plain text.
	Endpoint string

	// Timeout bounds each lookup. Default: 2s.
	Timeout time.Duration

	// UserAgent is reported for records enriched by this provider.
	UserAgent string
}

// HTTP resolves the public IP of the running process from an IP-echo
// endpoint. Lookups run behind a circuit breaker so a failing endpoint is
// not hammered on every record build.
type HTTP struct {
	cfg     HTTPConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[string]
}

// NewHTTP creates an HTTP enricher.
func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "enrich-ip-lookup",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &HTTP{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
	}
}

// Enrich implements Enricher.
func (h *HTTP) Enrich(ctx context.Context) (Info, error) {
	ip, err := h.breaker.Execute(func() (string, error) {
		return h.lookup(ctx)
	})
	if err != nil {
		return Info{}, err
	}

	return Info{IP: ip, UserAgent: h.cfg.UserAgent}, nil
}

func (h *HTTP) lookup(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.Endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build lookup request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ip lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip lookup: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", fmt.Errorf("read lookup response: %w", err)
	}

	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("ip lookup: malformed address %q", ip)
	}

	return ip, nil
}
