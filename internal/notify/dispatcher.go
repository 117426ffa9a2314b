package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jandubois/dchealth/internal/collector"
	"github.com/jandubois/dchealth/internal/config"
	"github.com/jandubois/dchealth/internal/health"
)

// Dispatcher decides whether a run is worth reporting and sends it to
// every configured channel.
type Dispatcher struct {
	channels     []Channel
	onlyOnChange bool
	minState     health.State
	logger       *slog.Logger
}

// NewDispatcher creates the channels named in cfg.
func NewDispatcher(cfg config.NotifyConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		onlyOnChange: cfg.OnlyOnChange,
		minState:     health.State(cfg.MinState),
		logger:       logger,
	}
	if cfg.SMTP != nil {
		d.channels = append(d.channels, NewSMTPChannel(*cfg.SMTP))
	}
	if cfg.Ntfy != nil {
		d.channels = append(d.channels, NewNtfyChannel(*cfg.Ntfy))
	}
	if cfg.Pushover != nil {
		d.channels = append(d.channels, NewPushoverChannel(*cfg.Pushover))
	}
	logger.Info("loaded notification channels", "count", len(d.channels))
	return d
}

// AddChannel registers an extra channel.
func (d *Dispatcher) AddChannel(ch Channel) {
	d.channels = append(d.channels, ch)
}

// Channels returns the number of configured channels.
func (d *Dispatcher) Channels() int {
	return len(d.channels)
}

// ShouldNotify reports whether a run with the given worst state and
// changes passes the filters. A change always passes unless there are no
// changes in only-on-change mode.
func (d *Dispatcher) ShouldNotify(worst health.State, changes []collector.Change) bool {
	if len(changes) > 0 {
		return true
	}
	if d.onlyOnChange {
		return false
	}
	return worst.Rank() >= d.minState.Rank()
}

// Notify sends the run to every channel in parallel. previous holds the
// states of the last recorded run, nil if there is none. It returns
// whether anything was sent and the joined channel errors.
func (d *Dispatcher) Notify(ctx context.Context, run *collector.Run, previous map[string]health.State, html []byte, url string) (bool, error) {
	if len(d.channels) == 0 {
		return false, nil
	}

	var changes []collector.Change
	if previous != nil {
		changes = run.Changes(previous)
	}
	if !d.ShouldNotify(run.Worst(), changes) {
		d.logger.Debug("notification suppressed", "run", run.ID, "worst", run.Worst(), "changes", len(changes))
		return false, nil
	}

	msg := FormatRun(run, changes)
	msg.HTML = html
	msg.URL = url

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, ch := range d.channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			if err := ch.Send(ctx, msg); err != nil {
				d.logger.Error("notification send failed",
					"channel_type", ch.Type(),
					"error", err,
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", ch.Type(), err))
				mu.Unlock()
				return
			}
			d.logger.Debug("notification sent",
				"channel_type", ch.Type(),
				"run", run.ID,
				"worst", run.Worst(),
			)
		}(ch)
	}
	wg.Wait()

	return true, errors.Join(errs...)
}
