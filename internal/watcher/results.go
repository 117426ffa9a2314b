package watcher

import (
	"context"
	"log/slog"

	"github.com/jandubois/dchealth/internal/collector"
	"github.com/jandubois/dchealth/internal/health"
)

// History is the run store used by the result writer.
type History interface {
	PreviousStates(ctx context.Context, hostnames []string) (map[string]health.State, error)
	RecordRun(ctx context.Context, run *collector.Run) error
	Prune(ctx context.Context, keep int) (int64, error)
}

// Notifier delivers a finished run.
type Notifier interface {
	Notify(ctx context.Context, run *collector.Run, previous map[string]health.State, html []byte, url string) (bool, error)
}

// ResultWriter persists runs and triggers notifications on state changes.
// Either dependency may be nil.
type ResultWriter struct {
	history  History
	notifier Notifier
	keepRuns int
	logger   *slog.Logger
}

// NewResultWriter creates a result writer.
func NewResultWriter(history History, notifier Notifier, keepRuns int, logger *slog.Logger) *ResultWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultWriter{history: history, notifier: notifier, keepRuns: keepRuns, logger: logger}
}

// WriteRun records run and sends notifications. The previous states are
// read before the run is stored. Storage and delivery failures are logged;
// only a failed insert is returned.
func (w *ResultWriter) WriteRun(ctx context.Context, run *collector.Run, html []byte, url string) (notified bool, err error) {
	var previous map[string]health.State
	if w.history != nil {
		previous, err = w.history.PreviousStates(ctx, run.Hostnames())
		if err != nil {
			w.logger.Warn("failed to load previous states", "error", err)
			previous = nil
		}

		if err := w.history.RecordRun(ctx, run); err != nil {
			w.logger.Error("failed to record run", "run", run.ID, "error", err)
			return false, err
		}

		if deleted, err := w.history.Prune(ctx, w.keepRuns); err != nil {
			w.logger.Warn("failed to prune history", "error", err)
		} else if deleted > 0 {
			w.logger.Debug("pruned history", "deleted", deleted)
		}
	}

	if changes := run.Changes(previous); previous != nil && len(changes) > 0 {
		w.logger.Info("state change detected", "run", run.ID, "changes", len(changes))
	}

	if w.notifier == nil {
		return false, nil
	}
	notified, err = w.notifier.Notify(ctx, run, previous, html, url)
	if err != nil {
		w.logger.Error("notification failed", "run", run.ID, "error", err)
	}
	return notified, nil
}
