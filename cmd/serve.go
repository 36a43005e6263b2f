package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CdubVentures/spec-harvester-sub015/internal/evidence"
	"github.com/CdubVentures/spec-harvester-sub015/internal/storage"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only status API",
	Long:  "Exposes queue status, evidence inventory, search, replay manifests, and the monthly billing ledger over HTTP for dashboards. All endpoints are read-only.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(e),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("status API listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

func newRouter(e *env) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/queue/{category}", func(w http.ResponseWriter, r *http.Request) {
		state, err := e.Queue.Load(r.Context(), chi.URLParam(r, "category"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, buildStatusReport(state))
	})

	r.Get("/api/inventory/{category}/{product}", func(w http.ResponseWriter, r *http.Request) {
		inv, err := e.Index.Inventory(r.Context(), chi.URLParam(r, "category"), chi.URLParam(r, "product"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, inv)
	})

	r.Get("/api/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		hits, err := e.Index.Search(r.Context(), evidence.SearchQuery{
			Category:  q.Get("category"),
			ProductID: q.Get("product"),
			FieldKey:  q.Get("field"),
			UnitHint:  q.Get("unit"),
			Terms:     q.Get("q"),
			Limit:     limit,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if hits == nil {
			hits = []evidence.SearchHit{}
		}
		writeJSON(w, http.StatusOK, hits)
	})

	r.Get("/api/replay/{category}/{product}/{run}", func(w http.ResponseWriter, r *http.Request) {
		manifest, err := e.Replay.Reconstruct(r.Context(),
			chi.URLParam(r, "category"),
			chi.URLParam(r, "product"),
			chi.URLParam(r, "run"),
		)
		if err != nil {
			// A run without a usable event log is a client-side miss.
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, manifest)
	})

	r.Get("/api/billing", func(w http.ResponseWriter, r *http.Request) {
		doc, err := e.Ledger.Month(r.Context(), time.Now().UTC())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	})

	r.Get("/api/bundle/{category}/{brand}/{model}", func(w http.ResponseWriter, r *http.Request) {
		key := fmt.Sprintf("final/%s/%s/%s/summary.json",
			chi.URLParam(r, "category"),
			chi.URLParam(r, "brand"),
			chi.URLParam(r, "model"),
		)
		data, err := e.Store.Read(r.Context(), key)
		if storage.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
