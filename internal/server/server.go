// Package server exposes a Detector over HTTP with gin.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ridwanabdusalam/cleanlab/internal/application"
	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
)

const serviceName = "trustscore"

// Engine is the evaluation surface the server needs.
// *application.Detector implements it.
type Engine interface {
	Submit(ctx context.Context, req domain.EvaluationRequest) (domain.TrustScore, error)
	BatchEvaluate(ctx context.Context, reqs []domain.EvaluationRequest) []domain.EvaluationResult
	StreamEvaluate(ctx context.Context, req domain.EvaluationRequest) <-chan domain.StreamEvent
	ScoringFunctions() map[string]string
	Health() application.Health
}

var _ Engine = (*application.Detector)(nil)

// Config controls the HTTP server.
type Config struct {
	Addr string
	// ShutdownGrace bounds how long Run waits for in-flight requests.
	ShutdownGrace time.Duration
	// MaxBatch caps the number of requests in one batch call.
	MaxBatch int
	// RatePerMinute limits /v1 requests per client address. Zero disables
	// the limit.
	RatePerMinute int
	// RateBurst is the per-client burst. Zero means RatePerMinute.
	RateBurst int
}

// DefaultMaxBatch is the largest accepted batch body.
const DefaultMaxBatch = 1000

// Server serves the evaluation API.
type Server struct {
	engine   Engine
	config   Config
	gatherer prometheus.Gatherer
	tracer   trace.TracerProvider
	logger   *slog.Logger
	router   *gin.Engine
}

// Option customizes a Server.
type Option func(*Server)

// WithGatherer exposes g on /metrics. Without it the route is not mounted.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// WithTracerProvider traces requests with tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option { return func(s *Server) { s.tracer = tp } }

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// New builds the router.
func New(engine Engine, config Config, opts ...Option) *Server {
	if config.MaxBatch <= 0 {
		config.MaxBatch = DefaultMaxBatch
	}
	s := &Server{engine: engine, config: config, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), securityHeaders())

	var otelOpts []otelgin.Option
	if s.tracer != nil {
		otelOpts = append(otelOpts, otelgin.WithTracerProvider(s.tracer))
	}
	r.Use(otelgin.Middleware(serviceName, otelOpts...))
	r.Use(requestLogger(s.logger))

	r.GET("/health", s.handleHealth)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1")
	if s.config.RatePerMinute > 0 {
		v1.Use(newClientLimiter(s.config.RatePerMinute, s.config.RateBurst).middleware())
	}
	v1.POST("/evaluate", s.handleEvaluate)
	v1.POST("/evaluate/batch", s.handleBatch)
	v1.POST("/evaluate/stream", s.handleStream)
	v1.GET("/scoring-functions", s.handleScoringFunctions)
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", s.config.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownGrace)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func requestLogger(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
