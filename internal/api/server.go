// Package api exposes the admission controller over HTTP: order submission
// and lifecycle endpoints, position and risk introspection, Prometheus
// metrics, and a WebSocket feed of lifecycle transitions.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ordergate/internal/config"
	"ordergate/internal/engine"
)

const shutdownTimeout = 10 * time.Second

// Server hosts the HTTP API.
type Server struct {
	log    *slog.Logger
	engine *engine.Engine
	hub    *Hub
	http   *http.Server
}

// NewServer builds the router and wires the handlers. The Prometheus
// registry backs the /metrics endpoint.
func NewServer(cfg *config.Config, log *slog.Logger, eng *engine.Engine, hub *Hub, reg *prometheus.Registry) *Server {
	s := &Server{
		log:    log,
		engine: eng,
		hub:    hub,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/orders", s.handleSubmitOrder)
	mux.HandleFunc("GET /api/v1/orders", s.handleListOrders)
	mux.HandleFunc("GET /api/v1/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("POST /api/v1/orders/{id}/execute", s.handleExecuteOrder)
	mux.HandleFunc("POST /api/v1/orders/{id}/cancel", s.handleCancelOrder)
	mux.HandleFunc("GET /api/v1/positions", s.handleListPositions)
	mux.HandleFunc("GET /api/v1/positions/{symbol}", s.handleGetPosition)
	mux.HandleFunc("GET /api/v1/risk/summary", s.handleRiskSummary)
	mux.HandleFunc("POST /api/v1/marks", s.handleUpdateMark)
	mux.HandleFunc("POST /api/v1/pnl", s.handleRecordPnL)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /ws", s.hub.handleWebSocket)

	s.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: s.logRequests(mux),
	}
	return s
}

// Handler returns the server's HTTP handler. Intended for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe starts the listener and the WebSocket hub and blocks until
// the context is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()
	s.log.Info("http server listening", "addr", s.http.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// logRequests is the access-log middleware.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("http request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
