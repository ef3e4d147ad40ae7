// Package api exposes the operational HTTP surface: health, metrics, and
// read-only run lookups.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/storepulse/appscraper/internal/scrape"
)

// Server is the ops HTTP server.
type Server struct {
	store  scrape.Store
	logger *zap.Logger
}

// NewServer constructs the ops server.
func NewServer(store scrape.Store, logger *zap.Logger) *Server {
	return &Server{store: store, logger: logger.Named("api")}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/runs/{id}", s.handleGetRun)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, scrape.ErrNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		s.logger.Error("get run", zap.String("run_id", id), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(run); err != nil {
		s.logger.Error("encode run", zap.Error(err))
	}
}
