// Package http serves the water scarcity prediction API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rainguard/monitoring"
)

// ServerConfig configures the listener and the middleware chain.
type ServerConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	AllowedOrigins []string
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		RequestTimeout: 10 * time.Second,
		MaxBodyBytes:   1 << 20,
		AllowedOrigins: []string{"*"},
	}
}

// Server is the HTTP front end of the prediction service.
type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

// NewServer builds the router. gatherer backs /metrics and may be nil to
// leave the endpoint out.
func NewServer(config ServerConfig, handlers *Handlers, metrics *monitoring.Metrics, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      NewRouter(config, handlers, metrics, gatherer, logger),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  120 * time.Second,
		},
		config: config,
		logger: logger,
	}
}

// NewRouter wires the middleware chain and every route. The websocket and
// metrics routes skip the timeout and gzip layers, which cannot hijack or
// stream.
func NewRouter(config ServerConfig, handlers *Handlers, metrics *monitoring.Metrics, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		RecoveryMiddleware(logger),
		LoggerMiddleware(logger, metrics, clockwork.NewRealClock()),
		SecurityHeadersMiddleware,
		CORSMiddleware(config.AllowedOrigins),
	)

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/api/ws/predict", handlers.WebsocketHandler(config.AllowedOrigins))

	r.Group(func(r chi.Router) {
		r.Use(
			TimeoutMiddleware(config.RequestTimeout),
			GzipMiddleware,
			RequestSizeMiddleware(config.MaxBodyBytes),
		)
		handlers.RegisterRoutes(r)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Handler returns the routed handler behind the server.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening",
		zap.String("addr", s.server.Addr),
		zap.String("websocket", "/api/ws/predict"))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
