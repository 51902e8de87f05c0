// AuditRelay - Resilient Audit Event Shipping
// Copyright 2026 AuditRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/auditrelay/auditrelay

// Package api exposes the audit service over HTTP using the Chi router.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/auditrelay/auditrelay/internal/audit"
	"github.com/auditrelay/auditrelay/internal/config"
	"github.com/auditrelay/auditrelay/internal/middleware"
)

// Server holds the HTTP handlers over one audit service.
type Server struct {
	svc      *audit.Service
	cfg      config.ServerConfig
	validate *validator.Validate
}

// NewServer creates the API server.
func NewServer(svc *audit.Service, cfg config.ServerConfig) *Server {
	return &Server{
		svc:      svc,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes assembles the router with the global middleware stack.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Prometheus)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/audit", func(r chi.Router) {
		if s.cfg.RateLimitReqs > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimitReqs, s.cfg.RateLimitWindow))
		}

		r.Post("/events", s.CreateEvent)
		r.Get("/events", s.ListEvents)
		r.Get("/export", s.ExportEvents)
		r.Delete("/events", s.PruneEvents)

		r.Get("/fallback", s.ListFallback)
		r.Delete("/fallback", s.ClearFallback)
	})

	return r
}
