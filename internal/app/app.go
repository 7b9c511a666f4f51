package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"worknode/features/heartbeat"
	"worknode/features/job"
	"worknode/features/stats"
	"worknode/internal/config"
	"worknode/internal/metrics"
	"worknode/internal/middleware"
)

// Readiness reports nil while the node is consuming.
type Readiness interface {
	Ready() error
}

type App struct {
	Handler http.Handler
	port    int
}

// New builds the operator HTTP surface: health, metrics, stats and the
// failed-job ledger.
func New(cfg *config.Config, db *sql.DB, pub job.EventPublisher, ready Readiness, m *metrics.Metrics, node stats.Node, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}

	// Feature: Job
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, pub, logger)
	jobHandler := job.NewHandler(jobService)

	// Feature: Heartbeat
	heartbeatRepo := heartbeat.NewPostgresRepo(db)
	heartbeatHandler := heartbeat.NewHandler(heartbeatRepo)

	// Feature: Stats
	statsHandler := stats.NewHandler(jobRepo, heartbeatRepo, node)

	// Routes
	mux := http.NewServeMux()

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(http.HandlerFunc(jobHandler.List)))
	mux.Handle("GET /jobs/{id}", middleware.CorrelationID(http.HandlerFunc(jobHandler.Get)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(http.HandlerFunc(jobHandler.Retry)))
	mux.Handle("DELETE /jobs/{id}", middleware.CorrelationID(http.HandlerFunc(jobHandler.Delete)))

	mux.Handle("GET /heartbeats/{component}", middleware.CorrelationID(http.HandlerFunc(heartbeatHandler.Latest)))
	mux.Handle("GET /stats", middleware.CorrelationID(http.HandlerFunc(statsHandler.GetStats)))

	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
	mux.HandleFunc("GET /health", health(ready))

	return &App{Handler: mux, port: cfg.ServerPort}
}

func health(ready Readiness) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]string{"status": "ok"}
		if err := ready.Ready(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			resp = map[string]string{"status": "unavailable", "reason": err.Error()}
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.ErrorContext(r.Context(), "failed to encode health response", "error", err)
		}
	}
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
