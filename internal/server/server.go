// Package server exposes the gateway over HTTP: the five compute operations,
// a health endpoint, Prometheus metrics and the recent-usage journal.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/gateway"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/monitoring"
)

// Server is the HTTP surface in front of a gateway.
type Server struct {
	gw      *gateway.Gateway
	journal *monitoring.Journal
	reg     *prometheus.Registry
}

// New builds the HTTP layer. journal may be nil.
func New(gw *gateway.Gateway, journal *monitoring.Journal, reg *prometheus.Registry) *Server {
	return &Server{gw: gw, journal: journal, reg: reg}
}

// Handler assembles the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(120 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	r.Get("/usage/recent", s.handleUsageRecent)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/generate-text", s.handleGenerateText)
		r.Post("/embed", s.handleEmbed)
		r.Post("/search", s.handleSearch)
		r.Post("/sentiment", s.handleSentiment)
		r.Post("/query", s.handleQuery)
	})
	return r
}
