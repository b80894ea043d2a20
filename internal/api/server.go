package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/repricer/internal/domain"
	"github.com/opensource-finance/repricer/internal/feed"
	"github.com/opensource-finance/repricer/internal/rules"
)

// Deps are the components the API serves.
// Cache, Bus, Feed and Invalidator are optional.
type Deps struct {
	Repo   domain.Repository
	Cache  domain.Cache
	Bus    domain.EventBus
	Engine *rules.Engine

	// Feed serves competitor prices for reads; defaults to Repo.
	Feed domain.CompetitorFeed

	// Invalidator drops cached competitor prices after writes.
	Invalidator feed.Invalidator
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg *domain.Config, deps Deps, version string) *Server {
	handler := NewHandler(deps, cfg.Engine.RunTimeout, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints (no seller required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, promhttp.Handler())
	}

	router.Route("/", func(r chi.Router) {
		r.Use(SellerMiddleware(cfg.DefaultSellerID))

		// Rule lifecycle
		r.Get("/rules", handler.ListRules)
		r.Post("/rules", handler.CreateRule)
		r.Get("/rules/{id}", handler.GetRule)
		r.Put("/rules/{id}", handler.UpdateRule)
		r.Delete("/rules/{id}", handler.DeleteRule)
		r.Put("/rules/{id}/status", handler.SetRuleStatus)

		// Evaluation
		r.Post("/simulate", handler.SimulateDraft)
		r.Post("/rules/{id}/simulate", handler.SimulateRule)
		r.Post("/rules/{id}/execute", handler.ExecuteRule)
		r.Post("/runs", handler.RunAll)

		// Execution history
		r.Get("/logs", handler.ListLogs)
		r.Get("/logs/{id}", handler.GetLog)

		// Catalog
		r.Get("/products", handler.ListProducts)
		r.Post("/products", handler.SaveProduct)
		r.Get("/products/{sku}", handler.GetProduct)

		// Competitor prices
		r.Post("/competitor-prices", handler.SaveCompetitorPrices)
		r.Delete("/competitor-prices", handler.ClearCompetitorPrices)
		r.Get("/competitor-prices/template", handler.CompetitorTemplate)
		r.Post("/competitor-prices/import", handler.ImportCompetitorPrices)
		r.Get("/competitor-prices/{sku}", handler.GetCompetitorPrices)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg.Server,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
