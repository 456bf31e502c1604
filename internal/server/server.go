package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/time/rate"

	"price-advisor/internal/config"
	"price-advisor/internal/engine"
	"price-advisor/internal/service"
	"price-advisor/internal/storage"
)

// Advisor is the subset of service.Advisor the HTTP API needs.
type Advisor interface {
	Analyze(ctx context.Context, query string) (*service.Report, error)
	AnalyzeBatch(ctx context.Context, ids []string) (engine.BatchResult, error)
	ListAvailable(ctx context.Context, limit int) ([]storage.ItemSummary, error)
}

// Server serves the recommendation API.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	advisor  Advisor
	validate *validator.Validate
	cfg      config.ServerConfig
	logger   zerolog.Logger
}

// New builds the router. gatherer backs /metrics and may be nil.
func New(cfg config.ServerConfig, advisor Advisor, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		advisor:  advisor,
		validate: newValidator(),
		cfg:      cfg,
		logger:   logger.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes(gatherer)

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(hlog.NewHandler(s.logger))
	s.router.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", size).
			Dur("duration", duration).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	}))
	s.router.Use(middleware.Recoverer)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	if s.cfg.RateLimitRPS > 0 {
		s.router.Use(rateLimit(rate.NewLimiter(rate.Limit(s.cfg.RateLimitRPS), s.cfg.RateLimitBurst), s.logger))
	}
	if s.cfg.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.Get("/healthz", s.handleHealth)
	if gatherer != nil {
		s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Route("/api/buy-analysis", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/batch", s.handleBatch)
		r.Get("/{name}", s.handleAnalyze)
	})
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func rateLimit(limiter *rate.Limiter, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.Warn().Str("path", r.URL.Path).Str("remote_addr", r.RemoteAddr).Msg("rate limit exceeded")
				w.Header().Set("Retry-After", "1")
				writeError(w, r, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
