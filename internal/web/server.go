// Package web serves the run history API and the latest HTML report.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jandubois/dchealth/internal/collector"
	"github.com/jandubois/dchealth/internal/config"
	"github.com/jandubois/dchealth/internal/db"
	"github.com/jandubois/dchealth/internal/report"
)

// RunStore reads recorded runs.
type RunStore interface {
	LatestRun(ctx context.Context) (*collector.Run, error)
	GetRun(ctx context.Context, id string) (*collector.Run, error)
	ListRuns(ctx context.Context, limit int) ([]db.RunSummary, error)
}

// Trigger queues an immediate check.
type Trigger interface {
	TriggerImmediate() bool
}

// Server is the web backend.
type Server struct {
	store   RunStore
	trigger Trigger
	config  *config.WebConfig
	report  report.Options
	server  *http.Server
	logger  *slog.Logger
}

// NewServer creates a new web server. trigger may be nil, in which case
// POST /api/runs is refused.
func NewServer(store RunStore, trigger Trigger, cfg *config.WebConfig, reportOpts report.Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:   store,
		trigger: trigger,
		config:  cfg,
		report:  reportOpts,
		logger:  logger,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run starts the web server.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down web server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check (no auth)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.Handle("GET /api/runs", s.requireAuth(http.HandlerFunc(s.handleListRuns)))
	mux.Handle("POST /api/runs", s.requireAuth(http.HandlerFunc(s.handleTriggerRun)))
	mux.Handle("GET /api/runs/latest", s.requireAuth(http.HandlerFunc(s.handleLatestRun)))
	mux.Handle("GET /api/runs/{id}", s.requireAuth(http.HandlerFunc(s.handleGetRun)))
	mux.Handle("GET /report", s.requireAuth(http.HandlerFunc(s.handleLatestReport)))
	mux.Handle("GET /report/{id}", s.requireAuth(http.HandlerFunc(s.handleReport)))

	return mux
}
