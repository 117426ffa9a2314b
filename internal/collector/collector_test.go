package collector

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jandubois/dchealth/internal/health"
	"github.com/jandubois/dchealth/internal/probe"
	"github.com/jandubois/dchealth/internal/probes"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixed(values map[health.Metric]health.Value, data map[string]any) func(context.Context, string) *probe.Result {
	return func(context.Context, string) *probe.Result {
		return &probe.Result{Status: probe.StatusOK, Message: "ok", Values: values, Data: data}
	}
}

// fakeProbes returns a healthy probe set. Hosts listed in down fail ping.
func fakeProbes(down map[string]bool, remoteCalls *atomic.Int32) []probes.Probe {
	return []probes.Probe{
		{
			Name:    probes.DNSName,
			Metrics: []health.Metric{health.MetricDNS},
			Run: fixed(map[health.Metric]health.Value{health.MetricDNS: health.Success()},
				map[string]any{"ipv4": "10.0.0.1"}),
		},
		{
			Name:    probes.PingName,
			Metrics: []health.Metric{health.MetricPing},
			Run: func(_ context.Context, host string) *probe.Result {
				return &probe.Result{Status: probe.StatusOK, Values: map[health.Metric]health.Value{
					health.MetricPing: health.Bool(!down[host]),
				}}
			},
		},
		{
			Name:    probes.SystemName,
			Remote:  true,
			Metrics: []health.Metric{health.MetricUptimeHours, health.MetricFreeGB, health.MetricFreePercent},
			Run: func(context.Context, string) *probe.Result {
				remoteCalls.Add(1)
				return &probe.Result{Status: probe.StatusOK, Values: map[health.Metric]health.Value{
					health.MetricUptimeHours: health.Numeric(500),
					health.MetricFreeGB:      health.Numeric(100),
					health.MetricFreePercent: health.Numeric(60),
				}, Data: map[string]any{"os_version": "10.0.20348"}}
			},
		},
	}
}

func newCollector(list []probes.Probe, opts Options) *Collector {
	opts.Logger = quietLogger()
	return New(health.NewEngine(health.DefaultThresholds(), nil), list, opts)
}

func TestCollect(t *testing.T) {
	var remote atomic.Int32
	c := newCollector(fakeProbes(map[string]bool{"dc02": true}, &remote), Options{MaxConcurrent: 2})

	ids := []health.Identity{
		{Hostname: "dc01", Domain: "contoso.com", Site: "HQ"},
		{Hostname: "dc02", Domain: "contoso.com", Site: "HQ", IPv4: "10.9.9.9"},
	}
	run, err := c.Collect(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, run.Nodes, 2)
	assert.NotEqual(t, [16]byte{}, [16]byte(run.ID))
	assert.False(t, run.FinishedAt.Before(run.StartedAt))

	dc01 := run.Nodes[0]
	assert.Equal(t, "dc01", dc01.Hostname)
	assert.Equal(t, health.StateHealthy, dc01.Verdict.State)
	assert.Equal(t, "10.0.0.1", dc01.IPv4)
	assert.Equal(t, "10.0.20348", dc01.OSVersion)

	dc02 := run.Nodes[1]
	assert.Equal(t, health.StateCritical, dc02.Verdict.State)
	assert.Equal(t, "10.9.9.9", dc02.IPv4, "inventory address is kept")
	assert.Equal(t, health.ReasonUnreachable, dc02.Results[health.MetricFreeGB].Reason())
	assert.Equal(t, probe.StatusUnknown, dc02.Probes[probes.SystemName].Status)

	assert.Equal(t, int32(1), remote.Load(), "remote probes skipped for unreachable node")
	assert.Equal(t, Summary{Total: 2, Healthy: 1, Critical: 1}, run.Summary())
	assert.Equal(t, health.StateCritical, run.Worst())
}

func TestCollect_MissingMetricIsNotMeasured(t *testing.T) {
	list := []probes.Probe{{
		Name:    "partial",
		Metrics: []health.Metric{health.MetricDNS, health.MetricPing},
		Run:     fixed(map[health.Metric]health.Value{health.MetricDNS: health.Success()}, nil),
	}}
	run, err := newCollector(list, Options{}).Collect(context.Background(), []health.Identity{{Hostname: "dc01"}})
	require.NoError(t, err)
	assert.Equal(t, health.ReasonNotMeasured, run.Nodes[0].Results[health.MetricPing].Reason())
}

func TestCollect_PanicRecovered(t *testing.T) {
	list := []probes.Probe{{
		Name:    probes.DNSName,
		Metrics: []health.Metric{health.MetricDNS},
		Run:     func(context.Context, string) *probe.Result { panic("boom") },
	}}
	run, err := newCollector(list, Options{}).Collect(context.Background(), []health.Identity{{Hostname: "dc01"}})
	require.NoError(t, err)
	n := run.Nodes[0]
	assert.Equal(t, health.StateCritical, n.Verdict.State)
	assert.Contains(t, n.Probes[probes.DNSName].Message, "boom")
}

func TestCollect_NodeTimeout(t *testing.T) {
	list := []probes.Probe{
		{
			Name:    probes.DNSName,
			Metrics: []health.Metric{health.MetricDNS},
			Run: func(ctx context.Context, _ string) *probe.Result {
				<-ctx.Done()
				return probe.Unknown("cancelled", health.ReasonNotMeasured, health.MetricDNS)
			},
		},
		{
			Name:    probes.PingName,
			Metrics: []health.Metric{health.MetricPing},
			Run:     fixed(map[health.Metric]health.Value{health.MetricPing: health.Success()}, nil),
		},
	}
	c := newCollector(list, Options{NodeTimeout: 20 * time.Millisecond})
	run, err := c.Collect(context.Background(), []health.Identity{{Hostname: "dc01"}})
	require.NoError(t, err)

	n := run.Nodes[0]
	assert.Equal(t, health.ReasonNotMeasured, n.Results[health.MetricPing].Reason())
	assert.Contains(t, n.Probes[probes.PingName].Message, "skipped")
}

func TestCollect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var remote atomic.Int32
	_, err := newCollector(fakeProbes(nil, &remote), Options{}).Collect(ctx, []health.Identity{{Hostname: "dc01"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollect_BoundedConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	list := []probes.Probe{{
		Name:    probes.DNSName,
		Metrics: []health.Metric{health.MetricDNS},
		Run: func(context.Context, string) *probe.Result {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return &probe.Result{Values: map[health.Metric]health.Value{health.MetricDNS: health.Success()}}
		},
	}}

	ids := make([]health.Identity, 10)
	for i := range ids {
		ids[i] = health.Identity{Hostname: string(rune('a' + i))}
	}
	_, err := newCollector(list, Options{MaxConcurrent: 3}).Collect(context.Background(), ids)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestChanges(t *testing.T) {
	run := &Run{Nodes: []NodeResult{
		{Node: health.Node{Identity: health.Identity{Hostname: "DC01"}}, Verdict: health.Verdict{State: health.StateWarning}},
		{Node: health.Node{Identity: health.Identity{Hostname: "dc02"}}, Verdict: health.Verdict{State: health.StateHealthy}},
		{Node: health.Node{Identity: health.Identity{Hostname: "dc03"}}, Verdict: health.Verdict{State: health.StateHealthy}},
		{Node: health.Node{Identity: health.Identity{Hostname: "dc04"}}, Verdict: health.Verdict{State: health.StateCritical}},
	}}
	previous := map[string]health.State{
		"dc01": health.StateHealthy,
		"dc02": health.StateHealthy,
	}

	assert.Equal(t, []Change{
		{Hostname: "DC01", Previous: health.StateHealthy, Current: health.StateWarning},
		{Hostname: "dc04", Current: health.StateCritical},
	}, run.Changes(previous))
}

func TestCollect_VerdictsFollowNodeOrder(t *testing.T) {
	var remote atomic.Int32
	down := map[string]bool{"dc02": true, "dc05": true}
	c := newCollector(fakeProbes(down, &remote), Options{MaxConcurrent: 3})

	var ids []health.Identity
	for _, h := range []string{"dc01", "dc02", "dc03", "dc04", "dc05", "dc06"} {
		ids = append(ids, health.Identity{Hostname: h})
	}
	run, err := c.Collect(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, run.Nodes, len(ids))

	engine := health.NewEngine(health.DefaultThresholds(), nil)
	for i, n := range run.Nodes {
		assert.Equal(t, ids[i].Hostname, n.Hostname)
		assert.Equal(t, engine.Evaluate(&n.Node), n.Verdict, n.Hostname)
		if down[n.Hostname] {
			assert.Equal(t, health.StateCritical, n.Verdict.State, n.Hostname)
		}
	}
}
