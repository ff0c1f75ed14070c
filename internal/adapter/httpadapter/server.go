package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/landslide-rainfall-etl/internal/pipeline"
)

// RunReporter is the view of the pipeline driver the server exposes.
type RunReporter interface {
	sharedobs.ReadinessChecker
	LastRun() (pipeline.RunSummary, bool)
}

// Server serves liveness, readiness, the last run summary and Prometheus
// metrics while a batch run is in progress.
type Server struct {
	httpServer *http.Server
	runs       RunReporter
	logger     *slog.Logger
}

// NewServer registers /healthz, /readyz, /runs/last and /metrics on addr.
func NewServer(addr string, runs RunReporter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		runs:   runs,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(runs))
	mux.HandleFunc("GET /runs/last", s.lastRun)
	mux.Handle("GET /metrics", promhttp.Handler())
	return s
}

// Start blocks serving until Shutdown, then returns http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Info("status server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains open connections until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) lastRun(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	summary, ok := s.runs.LastRun()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "no pipeline run has completed"})
		return
	}
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		s.logger.Error("encode run summary", "error", err)
	}
}
