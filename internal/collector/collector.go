// Package collector probes domain controllers and classifies the results.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jandubois/dchealth/internal/health"
	"github.com/jandubois/dchealth/internal/probe"
	"github.com/jandubois/dchealth/internal/probes"
)

// Options bounds how the collector runs probes.
type Options struct {
	MaxConcurrent int
	NodeTimeout   time.Duration
	ProbeTimeout  time.Duration
	Logger        *slog.Logger
}

// Collector runs every probe against every node, one node per worker.
type Collector struct {
	engine       *health.Engine
	probes       []probes.Probe
	semaphore    chan struct{}
	nodeTimeout  time.Duration
	probeTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a collector. Probes run in the given order on each node.
func New(engine *health.Engine, probeList []probes.Probe, opts Options) *Collector {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.NodeTimeout == 0 {
		opts.NodeTimeout = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Collector{
		engine:       engine,
		probes:       probeList,
		semaphore:    make(chan struct{}, opts.MaxConcurrent),
		nodeTimeout:  opts.NodeTimeout,
		probeTimeout: opts.ProbeTimeout,
		logger:       opts.Logger,
		now:          time.Now,
	}
}

// Collect checks every node and returns the run. Node results keep the
// order of ids. If ctx is cancelled before every node finished, Collect
// returns ctx.Err().
func (c *Collector) Collect(ctx context.Context, ids []health.Identity) (*Run, error) {
	run := &Run{
		ID:        uuid.New(),
		StartedAt: c.now(),
		Nodes:     make([]NodeResult, len(ids)),
	}
	c.logger.Info("check started", "run", run.ID, "nodes", len(ids))

	var wg sync.WaitGroup
	for i := range ids {
		select {
		case c.semaphore <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-c.semaphore }()
			run.Nodes[i] = c.collectNode(ctx, ids[i])
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.classify(ctx, run.Nodes)

	run.FinishedAt = c.now()
	s := run.Summary()
	c.logger.Info("check finished",
		"run", run.ID,
		"healthy", s.Healthy,
		"warning", s.Warning,
		"critical", s.Critical,
		"duration_ms", run.Duration().Milliseconds(),
	)
	return run, nil
}

// collectNode runs the probes against one node.
func (c *Collector) collectNode(ctx context.Context, id health.Identity) NodeResult {
	start := time.Now()
	nodeCtx, cancel := context.WithTimeout(ctx, c.nodeTimeout)
	defer cancel()

	nr := NodeResult{
		Node: health.Node{
			Identity: id,
			Results:  make(map[health.Metric]health.Value),
		},
		Probes: make(map[string]ProbeOutcome, len(c.probes)),
	}

	unreachable := false
	for _, p := range c.probes {
		var result *probe.Result
		probeStart := time.Now()
		switch {
		case p.Remote && unreachable:
			result = probe.Unknown(fmt.Sprintf("skipped: %s is unreachable", id.Hostname), health.ReasonUnreachable, p.Metrics...)
		case nodeCtx.Err() != nil:
			result = probe.Unknown(fmt.Sprintf("skipped: %v", context.Cause(nodeCtx)), health.ReasonNotMeasured, p.Metrics...)
		default:
			result = c.runProbe(nodeCtx, p, id.Hostname)
		}
		duration := time.Since(probeStart)

		for m, v := range result.Values {
			nr.Results[m] = v
		}
		nr.Probes[p.Name] = ProbeOutcome{
			Status:     result.Status,
			Message:    result.Message,
			DurationMs: duration.Milliseconds(),
		}
		fillIdentity(&nr.Identity, p.Name, result)

		if p.Name == probes.PingName && nr.Results[health.MetricPing].IsFailure() {
			unreachable = true
		}

		c.logger.Debug("probe executed",
			"node", id.Hostname,
			"probe", p.Name,
			"status", result.Status,
			"duration_ms", duration.Milliseconds(),
			"message", result.Message,
		)
	}

	nr.DurationMs = time.Since(start).Milliseconds()
	return nr
}

// classify evaluates every collected node and attaches the verdicts.
func (c *Collector) classify(ctx context.Context, results []NodeResult) {
	nodes := make([]health.Node, len(results))
	for i := range results {
		nodes[i] = results[i].Node
	}
	verdicts := c.engine.EvaluateAll(nodes, cap(c.semaphore))

	for i := range results {
		nr := &results[i]
		nr.Verdict = verdicts[i]

		level := slog.LevelInfo
		if nr.Verdict.State != health.StateHealthy {
			level = slog.LevelWarn
		}
		c.logger.Log(ctx, level, "node classified",
			"node", nr.Hostname,
			"state", nr.Verdict.State,
			"triggers", nr.Verdict.Triggers,
			"duration_ms", nr.DurationMs,
		)
	}
}

// runProbe runs one probe with the per-probe timeout. A probe that panics
// is reported as not measured instead of taking the worker down.
func (c *Collector) runProbe(ctx context.Context, p probes.Probe, host string) (result *probe.Result) {
	if c.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.probeTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("probe panicked", "probe", p.Name, "node", host, "panic", r)
			result = probe.Unknown(fmt.Sprintf("probe panicked: %v", r), health.ReasonNotMeasured, p.Metrics...)
		}
	}()

	result = p.Run(ctx, host)
	if result == nil {
		return probe.Unknown("probe returned no result", health.ReasonNotMeasured, p.Metrics...)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && result.Status == probe.StatusUnknown {
		result.Message = fmt.Sprintf("%s timed out: %s", p.Name, result.Message)
	}
	// A probe that forgot a metric leaves it not measured rather than missing.
	for _, m := range p.Metrics {
		if _, ok := result.Values[m]; !ok {
			if result.Values == nil {
				result.Values = make(map[health.Metric]health.Value, len(p.Metrics))
			}
			result.Values[m] = health.Failure(health.ReasonNotMeasured)
		}
	}
	return result
}

// fillIdentity copies host details discovered by probes into id when the
// inventory left them empty.
func fillIdentity(id *health.Identity, name string, result *probe.Result) {
	if result.Data == nil {
		return
	}
	switch name {
	case probes.DNSName:
		if ip, ok := result.Data["ipv4"].(string); ok && id.IPv4 == "" {
			id.IPv4 = ip
		}
	case probes.SystemName:
		if v, ok := result.Data["os_version"].(string); ok && id.OSVersion == "" {
			id.OSVersion = v
		}
	}
}
