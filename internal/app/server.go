package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calebhsu/signalmesh/internal/domain"
)

// serveOps runs the operator HTTP listener: health, Prometheus metrics, and a
// small read-only JSON API over the live engine state.
func (a *App) serveOps(ctx context.Context, deps *Dependencies) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/status", a.handleStatus(deps))
	mux.HandleFunc("/api/missions", a.handleMissions(deps))
	mux.HandleFunc("/api/targets", a.handleTargets(deps))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.logger.InfoContext(ctx, "ops server listening", slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: ops server: %w", err)
	}
	return nil
}

func (a *App) handleStatus(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"mode":            a.cfg.Mode,
			"tickers":         len(deps.Cache.SnapshotAll()),
			"active_missions": len(deps.Dispatcher.Active()),
			"open_positions":  len(deps.Positions.Active()),
			"time":            time.Now().UTC(),
		})
	}
}

func (a *App) handleMissions(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") == "completed" {
			limit := 50
			if v := r.URL.Query().Get("limit"); v != "" {
				if n, err := strconv.Atoi(v); err == nil && n > 0 {
					limit = n
				}
			}
			writeJSON(w, deps.Dispatcher.History(limit))
			return
		}
		writeJSON(w, deps.Dispatcher.Active())
	}
}

func (a *App) handleTargets(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		direction := domain.Direction(r.URL.Query().Get("direction"))
		if direction == "" {
			direction = domain.DirectionTrend
		}
		targets, err := deps.Scanner.Targets(direction)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, targets)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
