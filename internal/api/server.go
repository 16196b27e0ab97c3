// Package api provides the HTTP admin surface of the Tandem server:
// user configuration, record creation with immediate sync, and
// reconciliation control. The surface is built with huma on top of chi
// and is meant for operators and trusted bots, not end users.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tandemapp/tandem-server/internal/config"
	"github.com/tandemapp/tandem-server/internal/extract"
	"github.com/tandemapp/tandem-server/internal/records"
	"github.com/tandemapp/tandem-server/internal/store"
	"github.com/tandemapp/tandem-server/internal/sync"
	"github.com/tandemapp/tandem-server/internal/validation"
)

// apiVersion is reported in the OpenAPI document.
const apiVersion = "1.0.0"

// Server holds dependencies for HTTP handlers.
type Server struct {
	registry *store.Store
	opener   *records.Opener
	engine   *sync.Engine
	parser   *extract.Parser
	validate *validation.Validator
	router   *chi.Mux
	api      huma.API
	logger   *slog.Logger

	// syncTimeout bounds the synchronous sync a relevance toggle or a
	// forced single sync performs before the handler answers.
	syncTimeout time.Duration

	writeLimiter *RateLimiter
}

// NewServer creates the HTTP server with all routes configured.
func NewServer(cfg *config.Config, registry *store.Store, opener *records.Opener, engine *sync.Engine, logger *slog.Logger) *Server {
	s := &Server{
		registry:     registry,
		opener:       opener,
		engine:       engine,
		parser:       extract.New(),
		validate:     validation.New(),
		router:       chi.NewRouter(),
		logger:       logger,
		syncTimeout:  cfg.Sync.Timeout,
		writeLimiter: NewRateLimiter(120, time.Minute, 30),
	}

	s.setupMiddleware(cfg.Server.AllowedOrigins)

	humaConfig := huma.DefaultConfig(cfg.Server.Name, apiVersion)
	humaConfig.Transformers = append(humaConfig.Transformers, EnvelopeTransformer)
	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.registerHealthRoutes()
	s.registerUserRoutes()
	s.registerRecordRoutes()
	s.registerSyncRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases server-owned resources: the write limiter's cleanup
// goroutine.
func (s *Server) Close() {
	s.writeLimiter.Stop()
}

// setupMiddleware configures the middleware stack.
func (s *Server) setupMiddleware(allowedOrigins []string) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(recoverPanics(s.logger))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	s.router.Use(RateLimitMiddleware(s.writeLimiter, s.logger))
}
