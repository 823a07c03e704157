// Package http serves delay predictions from a loaded model bundle.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"flightdelay/artifact"
	"flightdelay/flight"
	"flightdelay/logging"
	"flightdelay/schema"
)

// Predictor is the read-only view of a model bundle the handlers need. *artifact.Bundle
// satisfies it.
type Predictor interface {
	Version() string
	Metadata() artifact.Metadata
	Schema() *schema.Schema
	Predict(records []flight.Record) ([]int, error)
	PredictProba(records []flight.Record) ([]float64, error)
}

type Server struct {
	server    *http.Server
	config    ServerConfig
	predictor Predictor
	cache     *predictionCache
	metrics   *Metrics
	logger    *zap.Logger
}

type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	AllowedOrigins []string
	MaxBodyBytes   int64
	// CacheSize bounds the per-record prediction cache; zero disables it.
	CacheSize int
	// LogPredictions records every served prediction in the sqlite log.
	LogPredictions bool
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		Timeout:        10 * time.Second,
		AllowedOrigins: []string{"*"},
		MaxBodyBytes:   1 << 20,
		CacheSize:      4096,
	}
}

// NewServer wires the routes and middleware around predictor.
func NewServer(config ServerConfig, predictor Predictor) (*Server, error) {
	if predictor == nil {
		return nil, errors.New("predictor is required")
	}
	cache, err := newPredictionCache(config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create prediction cache: %w", err)
	}

	s := &Server{
		config:    config,
		predictor: predictor,
		cache:     cache,
		metrics:   NewMetrics(),
		logger:    logging.Named("http"),
	}
	meta := predictor.Metadata()
	s.metrics.SetModel(meta.Version, meta.ClassifierKind, meta.SchemaVersion)

	mux := http.NewServeMux()
	s.RegisterHandlers(mux)

	middlewares := []Middleware{
		RecoveryMiddleware(s.logger),
		LoggerMiddleware(s.logger),
		SecurityHeadersMiddleware,
		CORSMiddleware(config.AllowedOrigins),
	}
	if config.Timeout > 0 {
		middlewares = append(middlewares, TimeoutMiddleware(config.Timeout))
	}
	if config.MaxBodyBytes > 0 {
		middlewares = append(middlewares, RequestSizeMiddleware(config.MaxBodyBytes))
	}
	middlewares = append(middlewares, s.metrics.Middleware)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           Chain(middlewares...)(mux),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if config.Timeout > 0 {
		s.server.ReadTimeout = config.Timeout
		s.server.WriteTimeout = config.Timeout + time.Second
	}
	return s, nil
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start blocks serving until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.String("addr", s.server.Addr),
		zap.String("model_version", s.predictor.Version()),
	)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests for up to five seconds.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func (s *Server) Addr() string {
	return s.server.Addr
}
