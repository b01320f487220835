// Package api serves aggregated series and forecasts over HTTP. It is
// read-only: it never triggers a collection.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/metrics"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/models"
)

const (
	DefaultTimeout      = 60 * time.Second
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"

	maxLookbackDays = 3650
	maxHorizonHours = 24 * 90
)

// Service builds series and forecasts on request.
type Service interface {
	Series(ctx context.Context, symbol string, lookbackDays int) (*models.Series, error)
	Forecast(ctx context.Context, symbol string, horizonHours int) (*models.Forecast, error)
}

// History answers questions about previous runs.
type History interface {
	RecentCollections(ctx context.Context, limit int) ([]models.CollectionReport, error)
	RecentForecasts(ctx context.Context, symbol string, limit int) ([]models.ForecastSummary, error)
}

// Metrics counts requests and reports the process metrics snapshot.
type Metrics interface {
	ObserveRequest(route string, status int)
	GetSnapshot() metrics.MetricsSnapshot
}

// Handler holds the HTTP handlers and their dependencies.
type Handler struct {
	service Service
	history History
	metrics Metrics
	version string
	timeout time.Duration
	step    time.Duration
	logger  *slog.Logger
}

// NewHandler creates a handler. history may be nil.
func NewHandler(service Service, history History, version string, timeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Handler{
		service: service,
		history: history,
		version: version,
		timeout: timeout,
		step:    time.Hour,
		logger:  logger.With("component", "api"),
	}
}

// WithMetrics enables request counting and GET /metrics.
func (h *Handler) WithMetrics(m Metrics) *Handler {
	h.metrics = m
	return h
}

// WithStep sets the bar spacing used to count missing bars in a series.
func (h *Handler) WithStep(step time.Duration) *Handler {
	if step > 0 {
		h.step = step
	}
	return h
}

// SetupRoutes configures all routes.
func (h *Handler) SetupRoutes() *gin.Engine {
	router := gin.New()

	router.Use(requestIDMiddleware())
	router.Use(loggerMiddleware(h.logger))
	if h.metrics != nil {
		router.Use(metricsMiddleware(h.metrics))
	}
	router.Use(gin.Recovery())
	router.Use(timeoutMiddleware(h.timeout))

	router.GET("/health", h.HealthCheck)
	router.GET("/series/:symbol", h.GetSeries)
	router.GET("/forecast/:symbol", h.GetForecast)
	router.GET("/forecast/:symbol/history", h.GetForecastHistory)
	router.GET("/runs", h.GetRuns)
	if h.metrics != nil {
		router.GET("/metrics", h.GetMetrics)
	}

	return router
}

// Server wraps the gin engine in an http.Server with graceful shutdown.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a server listening on port.
func NewServer(h *Handler, port int) *Server {
	gin.SetMode(gin.ReleaseMode)
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           h.SetupRoutes(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: h.logger,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
