// Package dnslookup provides the DNS resolution probe.
package dnslookup

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/jandubois/dchealth/internal/health"
	"github.com/jandubois/dchealth/internal/probe"
)

// Name is the probe subcommand name.
const Name = "dns"

// Resolver is the subset of net.Resolver used by the probe.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// GetDescription returns the probe description.
func GetDescription() probe.Description {
	return probe.Description{
		Name:        Name,
		Description: "Resolve the domain controller host name",
		Version:     "1.0.0",
		Subcommand:  Name,
		Metrics:     []health.Metric{health.MetricDNS},
		Arguments: probe.Arguments{
			Required: map[string]probe.ArgumentSpec{
				"host": {
					Type:        "string",
					Description: "Domain controller host name",
				},
			},
		},
	}
}

// Run resolves host. The first IPv4 address found is reported in Data.
func Run(ctx context.Context, resolver Resolver, host string) *probe.Result {
	if host == "" {
		return probe.Unknown("host argument is required", health.ReasonNotMeasured, health.MetricDNS)
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	start := time.Now()
	addrs, err := resolver.LookupIPAddr(ctx, host)
	elapsed := time.Since(start)
	if err != nil || len(addrs) == 0 {
		msg := fmt.Sprintf("could not resolve %s", host)
		if err != nil {
			msg = fmt.Sprintf("could not resolve %s: %v", host, err)
		}
		return &probe.Result{
			Status:  probe.StatusCritical,
			Message: msg,
			Values:  map[health.Metric]health.Value{health.MetricDNS: health.Failure(health.ReasonFailed)},
			Metrics: map[string]any{"duration_ms": elapsed.Milliseconds()},
		}
	}

	var all []string
	ipv4 := ""
	for _, a := range addrs {
		all = append(all, a.IP.String())
		if ipv4 == "" && a.IP.To4() != nil {
			ipv4 = a.IP.String()
		}
	}

	data := map[string]any{"addresses": all}
	if ipv4 != "" {
		data["ipv4"] = ipv4
	}
	return &probe.Result{
		Status:  probe.StatusOK,
		Message: fmt.Sprintf("%s resolves to %s", host, all[0]),
		Values:  map[health.Metric]health.Value{health.MetricDNS: health.Success()},
		Metrics: map[string]any{"duration_ms": elapsed.Milliseconds()},
		Data:    data,
	}
}
