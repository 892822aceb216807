// Package api exposes the lead engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fintech-crm/lead-engine/internal/filter"
	"github.com/fintech-crm/lead-engine/internal/metrics"
	"github.com/fintech-crm/lead-engine/internal/model"
	"github.com/fintech-crm/lead-engine/internal/resilience"
	"github.com/fintech-crm/lead-engine/internal/syncer"
)

// LeadReader builds combined lead pages.
type LeadReader interface {
	GetCombinedLeads(ctx context.Context, p filter.Params, page, pageSize int) (model.CombinedLeads, error)
}

// SyncRunner triggers a source sync.
type SyncRunner interface {
	Run(ctx context.Context, opts syncer.RunOpts) ([]syncer.Outcome, error)
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config tunes the HTTP surface.
type Config struct {
	RequestTimeout time.Duration
	SyncTimeout    time.Duration
	MaxPageSize    int
	CORSOrigins    []string
}

type server struct {
	cfg      Config
	leads    LeadReader
	sync     SyncRunner
	db       Pinger
	breakers *resilience.Breakers
	started  time.Time
}

// NewRouter wires the routes. sync, db and breakers may be nil.
func NewRouter(cfg Config, leads LeadReader, sync SyncRunner, db Pinger, breakers *resilience.Breakers) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 10 * time.Minute
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	s := &server{cfg: cfg, leads: leads, sync: sync, db: db, breakers: breakers, started: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/users/combined", s.combined)
		r.Post("/leads/sync", s.triggerSync)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
