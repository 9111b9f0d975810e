// Package status serves the sender's health and delivery counters over HTTP.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"flatnotify/internal/delivery"
)

// StatsSource reports delivery outcome counters.
type StatsSource interface {
	Stats() delivery.Stats
}

// HealthCheck returns an error while the service cannot do its work.
type HealthCheck func() error

type statsResponse struct {
	delivery.Stats
	Healthy bool   `json:"healthy"`
	Uptime  string `json:"uptime"`
}

type handler struct {
	stats   StatsSource
	health  HealthCheck
	started time.Time
	log     *slog.Logger
}

// NewRouter returns the routes of the status endpoint.
func NewRouter(stats StatsSource, health HealthCheck, log *slog.Logger) *mux.Router {
	h := &handler{stats: stats, health: health, started: time.Now(), log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.handleStats).Methods(http.MethodGet)
	return r
}

func (h *handler) check() error {
	if h.health == nil {
		return nil
	}
	return h.health()
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if err := h.check(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (h *handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{
		Stats:   h.stats.Stats(),
		Healthy: h.check() == nil,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("encode stats", "error", err)
	}
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("status endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	return nil
}
