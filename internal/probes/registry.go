// Package probes provides the built-in probe registry.
package probes

import (
	"context"
	"time"

	"github.com/jandubois/dchealth/internal/health"
	"github.com/jandubois/dchealth/internal/probe"
	"github.com/jandubois/dchealth/internal/probes/dcdiag"
	"github.com/jandubois/dchealth/internal/probes/dnslookup"
	"github.com/jandubois/dchealth/internal/probes/ping"
	"github.com/jandubois/dchealth/internal/probes/services"
	"github.com/jandubois/dchealth/internal/probes/system"
	"github.com/jandubois/dchealth/internal/probes/timesync"
)

// Probe is a bound probe ready to run against one host.
type Probe struct {
	Name string
	// Remote probes need the node to answer ping first.
	Remote bool
	// Metrics lists the values the probe reports.
	Metrics []health.Metric
	Run     func(ctx context.Context, host string) *probe.Result
}

// Env carries what the built-in probes need to reach a node.
type Env struct {
	Runner      probe.Runner
	Resolver    dnslookup.Resolver
	Dialer      ping.Dialer
	PingTimeout time.Duration
	TimeSamples int
	Skip        map[string]bool
}

// GetAllDescriptions returns descriptions of all built-in probes.
func GetAllDescriptions() []probe.Description {
	return []probe.Description{
		dnslookup.GetDescription(),
		ping.GetDescription(),
		services.GetDescription(),
		system.GetDescription(),
		timesync.GetDescription(),
		dcdiag.GetDescription(),
	}
}

// Builtin returns the built-in probes in execution order, leaving out any
// named in env.Skip. DNS and ping always run first.
func Builtin(env Env) []Probe {
	all := []Probe{
		{Name: dnslookup.Name, Metrics: dnslookup.GetDescription().Metrics, Run: func(ctx context.Context, host string) *probe.Result {
			return dnslookup.Run(ctx, env.Resolver, host)
		}},
		{Name: ping.Name, Metrics: ping.GetDescription().Metrics, Run: func(ctx context.Context, host string) *probe.Result {
			return ping.Run(ctx, env.Runner, env.Dialer, host, env.PingTimeout)
		}},
		{Name: services.Name, Metrics: services.GetDescription().Metrics, Remote: true, Run: func(ctx context.Context, host string) *probe.Result {
			return services.Run(ctx, env.Runner, host)
		}},
		{Name: system.Name, Metrics: system.GetDescription().Metrics, Remote: true, Run: func(ctx context.Context, host string) *probe.Result {
			return system.Run(ctx, env.Runner, host)
		}},
		{Name: timesync.Name, Metrics: timesync.GetDescription().Metrics, Remote: true, Run: func(ctx context.Context, host string) *probe.Result {
			return timesync.Run(ctx, env.Runner, host, env.TimeSamples)
		}},
		{Name: dcdiag.Name, Metrics: dcdiag.GetDescription().Metrics, Remote: true, Run: func(ctx context.Context, host string) *probe.Result {
			return dcdiag.Run(ctx, env.Runner, host)
		}},
	}

	var out []Probe
	for _, p := range all {
		if env.Skip[p.Name] && p.Remote {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Describe returns the description of the named built-in probe.
func Describe(name string) (probe.Description, bool) {
	for _, d := range GetAllDescriptions() {
		if d.Name == name {
			return d, true
		}
	}
	return probe.Description{}, false
}

// Names of the probes whose output the collector inspects.
const (
	DNSName    = dnslookup.Name
	PingName   = ping.Name
	SystemName = system.Name
)
