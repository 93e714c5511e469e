// SPDX-License-Identifier: MIT

// Package api is the caller-facing HTTP surface of the daemon: search,
// document retrieval, PDF downloads and job lookup, backed by the resilient
// upstream client.
package api

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mwrenn/ppubsd/internal/cache"
	"github.com/mwrenn/ppubsd/internal/config"
	"github.com/mwrenn/ppubsd/internal/log"
	"github.com/mwrenn/ppubsd/internal/ppubs"
)

// JobReader looks up persisted print jobs.
type JobReader interface {
	Get(ctx context.Context, id string) (*ppubs.PrintJob, error)
}

// Server routes gateway requests to the upstream client.
type Server struct {
	cfg    config.AppConfig
	client *ppubs.Client
	cache  cache.Cache
	jobs   JobReader
	logger zerolog.Logger
	router chi.Router
}

// NewServer assembles the router. jobs may be nil when job history is
// disabled; cache must not be nil (use cache.NoOp).
func NewServer(cfg config.AppConfig, client *ppubs.Client, store cache.Cache, jobs JobReader) *Server {
	s := &Server{
		cfg:    cfg,
		client: client,
		cache:  store,
		jobs:   jobs,
		logger: log.WithComponent("api"),
	}
	s.routes()
	return s
}

// Handler returns the assembled HTTP handler.
func (s *Server) Handler() chi.Router {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.cfg.RequestsPerMin > 0 {
			r.Use(rateLimit(s.cfg.RequestsPerMin))
		}
		r.Post("/search", s.handleSearch)
		r.Get("/documents/{guid}", s.handleDocument)
		r.Post("/documents/{guid}/pdf", s.handleDownloadPDF)
		r.Get("/jobs/{id}", s.handleJob)
	})

	s.router = r
}
