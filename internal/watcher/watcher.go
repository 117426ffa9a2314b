// Package watcher runs the check pipeline: discover, collect, report,
// record and notify. It runs once for the CLI or on an interval for the
// server.
package watcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jandubois/dchealth/internal/collector"
	"github.com/jandubois/dchealth/internal/config"
	"github.com/jandubois/dchealth/internal/health"
	"github.com/jandubois/dchealth/internal/report"
)

// Version is set at build time via -ldflags "-X github.com/jandubois/dchealth/internal/watcher.Version=..."
var Version = "dev"

// ErrRunning is returned when a check is requested while one is running.
var ErrRunning = errors.New("a check is already running")

// Discoverer lists the domain controllers to check.
type Discoverer interface {
	Discover(ctx context.Context, cfg config.DiscoveryConfig) ([]health.Identity, error)
}

// Collector probes and classifies domain controllers.
type Collector interface {
	Collect(ctx context.Context, ids []health.Identity) (*collector.Run, error)
}

// Outcome is the result of one pipeline run.
type Outcome struct {
	Run      *collector.Run
	Paths    []string
	Notified bool
}

// Options wires the watcher.
type Options struct {
	Config     *config.Config
	Discoverer Discoverer
	Collector  Collector
	Writer     *ResultWriter
	Report     report.Options
	// ReportURL is linked from notifications when the web server runs.
	ReportURL string
	Logger    *slog.Logger
}

// Watcher runs checks. Runs never overlap.
type Watcher struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	last    *Outcome
}

// New creates a new Watcher instance.
func New(opts Options) *Watcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Writer == nil {
		opts.Writer = NewResultWriter(nil, nil, 0, logger)
	}
	return &Watcher{opts: opts, logger: logger}
}

// RunOnce runs the full pipeline. It returns ErrRunning without doing
// anything if another run is in progress.
func (w *Watcher) RunOnce(ctx context.Context) (*Outcome, error) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil, ErrRunning
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	out, err := w.run(ctx)
	if err != nil {
		return out, err
	}

	w.mu.Lock()
	w.last = out
	w.mu.Unlock()
	return out, nil
}

// Running reports whether a check is in progress.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Last returns the outcome of the last successful run, nil if none.
func (w *Watcher) Last() *Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *Watcher) run(ctx context.Context) (*Outcome, error) {
	cfg := w.opts.Config

	ids, err := w.opts.Discoverer.Discover(ctx, cfg.Discovery)
	if err != nil {
		return nil, fmt.Errorf("discover domain controllers: %w", err)
	}
	if len(ids) == 0 {
		w.logger.Warn("no domain controllers found")
	}

	run, err := w.opts.Collector.Collect(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}
	out := &Outcome{Run: run}

	var html bytes.Buffer
	if err := report.RenderHTML(&html, run, w.opts.Report); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	if len(cfg.Report.Formats) > 0 && cfg.Report.OutputDir != "" {
		paths, err := report.WriteFile(cfg.Report.OutputDir, cfg.Report.Formats, run, w.opts.Report)
		out.Paths = paths
		if err != nil {
			w.logger.Error("failed to write report", "error", err)
		} else {
			w.logger.Info("report written", "paths", paths)
		}
	}

	out.Notified, err = w.opts.Writer.WriteRun(ctx, run, html.Bytes(), w.opts.ReportURL)
	if err != nil {
		return out, fmt.Errorf("record run: %w", err)
	}
	return out, nil
}
