package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/notenetra/creditscore/internal/domain"
	"github.com/notenetra/creditscore/internal/metrics"
	"github.com/notenetra/creditscore/internal/service"
)

// Server is the scoring HTTP API.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer wires the routes. repo, cache and bus back the readiness check
// only and may be nil.
func NewServer(cfg domain.ServerConfig, svc *service.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Server {
	handler := NewHandler(svc, repo, cache, bus, version)
	router := chi.NewRouter()

	router.Use(
		Recover,
		CORS(cfg.CORSOrigins),
		Trace,
		AccessLog,
		middleware.RealIP,
		middleware.Compress(5, "application/json"),
	)

	// health checks and scraping stay outside tenancy
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", metrics.Handler())

	router.Group(func(r chi.Router) {
		r.Use(RequireTenant, LimitBody(cfg.MaxBodyBytes))

		r.Post("/score", handler.Score)
		r.Get("/config/scoring", handler.GetScoringConfig)

		r.Route("/merchants/{id}", func(r chi.Router) {
			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", handler.ListTransactions)
				r.Post("/", handler.AppendTransactions)
			})
			r.Route("/score", func(r chi.Router) {
				r.Get("/", handler.GetScore)
				r.Get("/history", handler.GetHistory)
				r.Post("/history", handler.RecordScore)
			})
		})

		r.Route("/insights/rules", func(r chi.Router) {
			r.Get("/", handler.ListInsightRules)
			r.Post("/", handler.CreateInsightRule)
			r.Post("/reload", handler.ReloadInsightRules)
		})
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Addr is the listen address from the configuration.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the routes to tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler exposes the handlers to tests.
func (s *Server) Handler() *Handler {
	return s.handler
}
