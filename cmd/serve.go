package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/covid-cli/internal/catalog"
	"github.com/sells-group/covid-cli/internal/monitoring"
	"github.com/sells-group/covid-cli/internal/reconcile"
	"github.com/sells-group/covid-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve reconciled snapshots over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		reg, err := cfg.Registry()
		if err != nil {
			return err
		}

		snaps, err := initSnapshotStore(ctx, cfg, reg)
		if err != nil {
			return err
		}
		defer snaps.Close() //nolint:errcheck

		runs, err := initRunLog(ctx, cfg)
		if err != nil {
			return err
		}
		var collector *monitoring.Collector
		if runs != nil {
			defer runs.Close() //nolint:errcheck
			collector = monitoring.NewCollector(runs)
		}

		api := &snapshotAPI{
			snaps:     snaps,
			codec:     store.Codec{Registry: reg, Country: cfg.Store.Country},
			collector: collector,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(api, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// snapshotAPI serves stored snapshots and the run summary.
type snapshotAPI struct {
	snaps     store.SnapshotStore
	codec     store.Codec
	collector *monitoring.Collector // nil when the run log is disabled
}

// buildRouter mounts the API routes behind request logging and CORS.
func buildRouter(api *snapshotAPI, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/snapshots/{dataset}/{date}", api.handleSnapshot)
	r.Get("/runs/summary", api.handleRunSummary)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// handleSnapshot handles GET /snapshots/{dataset}/{date}?geometry=&level=.
func (a *snapshotAPI) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	day, err := time.Parse(reconcile.DayLayout, chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	geometry := catalog.GeometryPoint
	if g := r.URL.Query().Get("geometry"); g != "" {
		if geometry, err = catalog.ParseGeometry(g); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	key := store.Key{Dataset: chi.URLParam(r, "dataset"), Geometry: geometry, Date: day}
	snap, err := a.snaps.Load(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no snapshot for "+key.Dataset+" on "+key.Day())
		return
	}
	if err != nil {
		zap.L().Error("serve: load snapshot", zap.String("day", key.Day()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}

	units := snap.Units
	if l := r.URL.Query().Get("level"); l != "" {
		level, err := catalog.ParseLevel(l)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		units = snap.Level(level)
	}

	data, err := a.codec.Encode(units)
	if err != nil {
		zap.L().Error("serve: encode snapshot", zap.String("day", key.Day()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to encode snapshot")
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleRunSummary handles GET /runs/summary?dataset=.
func (a *snapshotAPI) handleRunSummary(w http.ResponseWriter, r *http.Request) {
	if a.collector == nil {
		writeError(w, http.StatusServiceUnavailable, "run log disabled")
		return
	}
	sum, err := a.collector.Collect(r.Context(), r.URL.Query().Get("dataset"), 0)
	if err != nil {
		zap.L().Error("serve: collect run summary", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to collect run summary")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
