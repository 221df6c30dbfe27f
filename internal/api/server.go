// Package api exposes strategy management, backtests and the signal journal
// over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	handler "github.com/newthinker/tradecore/internal/api/handler/api"
	"github.com/newthinker/tradecore/internal/api/middleware"
	"github.com/newthinker/tradecore/internal/api/response"
	"github.com/newthinker/tradecore/internal/app"
	"github.com/newthinker/tradecore/internal/metrics"
)

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux
	app        *app.App
}

// Config holds server configuration
type Config struct {
	Host        string
	Port        int
	APIKey      string
	MetricsPath string
}

// NewServer creates a new HTTP server serving a
func NewServer(cfg Config, a *app.App, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	s := &Server{
		logger: logger,
		mux:    mux,
		app:    a,
	}
	s.setupRoutes(cfg.MetricsPath)

	open := []string{"/health"}
	if cfg.MetricsPath != "" {
		open = append(open, cfg.MetricsPath)
	}
	var h http.Handler = mux
	h = middleware.APIKeyAuth(cfg.APIKey, open...)(h)
	h = metrics.LoggingMiddleware(logger)(h)
	h = metrics.HTTPMiddleware(a.Metrics())(h)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(metricsPath string) {
	strategies := handler.NewStrategiesHandler(s.app.Manager(), s.app.Engine())
	catalog := handler.NewCatalogHandler(s.app.Catalog())
	backtests := handler.NewBacktestHandler(s.app)
	signals := handler.NewSignalsHandler(s.app.Signals())
	orders := handler.NewOrdersHandler(s.app.Executor())

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /stats", s.handleStats)

	s.mux.HandleFunc("GET /catalog", catalog.List)
	s.mux.HandleFunc("GET /catalog/{type}", catalog.Get)

	s.mux.HandleFunc("GET /strategies", strategies.List)
	s.mux.HandleFunc("POST /strategies", strategies.Create)
	s.mux.HandleFunc("GET /strategies/{id}", strategies.Get)
	s.mux.HandleFunc("DELETE /strategies/{id}", strategies.Delete)
	s.mux.HandleFunc("POST /strategies/{id}/start", strategies.Start)
	s.mux.HandleFunc("POST /strategies/{id}/stop", strategies.Stop)
	s.mux.HandleFunc("POST /strategies/{id}/clone", strategies.Clone)
	s.mux.HandleFunc("PUT /strategies/{id}/config", strategies.UpdateConfig)
	s.mux.HandleFunc("GET /strategies/{id}/risk", strategies.GetRisk)
	s.mux.HandleFunc("PUT /strategies/{id}/risk", strategies.UpdateRisk)

	s.mux.HandleFunc("GET /backtests", backtests.List)
	s.mux.HandleFunc("POST /backtests", backtests.Create)
	s.mux.HandleFunc("GET /backtests/{id}", backtests.GetStatus)
	s.mux.HandleFunc("GET /backtests/{id}/report", backtests.GetReport)

	s.mux.HandleFunc("GET /signals", signals.List)
	s.mux.HandleFunc("GET /signals/{id}", signals.GetByID)

	s.mux.HandleFunc("GET /account", orders.Account)
	s.mux.HandleFunc("GET /orders", orders.List)
	s.mux.HandleFunc("GET /orders/{id}", orders.Get)
	s.mux.HandleFunc("DELETE /orders/{id}", orders.Cancel)
	s.mux.HandleFunc("GET /orders/pending", orders.Pending)
	s.mux.HandleFunc("POST /orders/pending/{id}/confirm", orders.Confirm)
	s.mux.HandleFunc("DELETE /orders/pending/{id}", orders.Reject)

	if metricsPath != "" {
		s.mux.Handle("GET "+metricsPath, promhttp.HandlerFor(s.app.Metrics(), promhttp.HandlerOpts{}))
	}
	if hub := s.app.Hub(); hub != nil {
		s.mux.Handle("GET /ws", hub)
	}
}

// Handler returns the fully wrapped request handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, s.app.GetStats())
}
