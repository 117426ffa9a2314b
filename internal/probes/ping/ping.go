// Package ping provides the ICMP reachability probe.
package ping

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/jandubois/dchealth/internal/health"
	"github.com/jandubois/dchealth/internal/probe"
)

// Name is the probe subcommand name.
const Name = "ping"

// FallbackPort is dialed when ICMP is unavailable. Every domain controller
// listens for LDAP.
const FallbackPort = "389"

// Dialer opens the TCP fallback connection.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// GetDescription returns the probe description.
func GetDescription() probe.Description {
	return probe.Description{
		Name:        Name,
		Description: "Check ICMP reachability, falling back to an LDAP TCP connect",
		Version:     "1.0.0",
		Subcommand:  Name,
		Metrics:     []health.Metric{health.MetricPing},
		Arguments: probe.Arguments{
			Required: map[string]probe.ArgumentSpec{
				"host": {
					Type:        "string",
					Description: "Domain controller host name or address",
				},
			},
			Optional: map[string]probe.ArgumentSpec{
				"timeout": {
					Type:        "duration",
					Description: "Wait for a reply at most this long",
					Default:     "2s",
				},
			},
		},
	}
}

var rttRe = regexp.MustCompile(`(?i)time[=<]\s*([0-9.]+)\s*ms`)

// Run sends one echo request to host. If the ping tool cannot be run at
// all, a TCP connect to the LDAP port decides reachability.
func Run(ctx context.Context, runner probe.Runner, dialer Dialer, host string, timeout time.Duration) *probe.Result {
	if host == "" {
		return probe.Unknown("host argument is required", health.ReasonNotMeasured, health.MetricPing)
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	out, err := runner.Run(ctx, "ping", pingArgs(runtime.GOOS, host, timeout)...)
	if err == nil {
		if out.ExitCode == 0 && strings.Contains(strings.ToLower(out.Stdout), "ttl=") {
			metrics := map[string]any{}
			if m := rttRe.FindStringSubmatch(out.Stdout); len(m) == 2 {
				if ms, err := strconv.ParseFloat(m[1], 64); err == nil {
					metrics["rtt_ms"] = ms
				}
			}
			return reachable(fmt.Sprintf("%s replied to ping", host), metrics, "icmp")
		}
		return unreachable(fmt.Sprintf("%s did not reply to ping", host), "icmp")
	}

	if dialer == nil {
		dialer = &net.Dialer{}
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	conn, dialErr := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(host, FallbackPort))
	if dialErr != nil {
		return unreachable(fmt.Sprintf("%s unreachable (ping: %v; tcp/%s: %v)", host, err, FallbackPort, dialErr), "tcp")
	}
	conn.Close()
	metrics := map[string]any{"rtt_ms": float64(time.Since(start).Microseconds()) / 1000}
	return reachable(fmt.Sprintf("%s accepted a connection on tcp/%s", host, FallbackPort), metrics, "tcp")
}

func pingArgs(goos, host string, timeout time.Duration) []string {
	if goos == "windows" {
		return []string{"-n", "1", "-w", strconv.FormatInt(timeout.Milliseconds(), 10), host}
	}
	secs := int(timeout.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return []string{"-c", "1", "-W", strconv.Itoa(secs), host}
}

func reachable(msg string, metrics map[string]any, method string) *probe.Result {
	return &probe.Result{
		Status:  probe.StatusOK,
		Message: msg,
		Values:  map[health.Metric]health.Value{health.MetricPing: health.Success()},
		Metrics: metrics,
		Data:    map[string]any{"method": method},
	}
}

func unreachable(msg, method string) *probe.Result {
	return &probe.Result{
		Status:  probe.StatusCritical,
		Message: msg,
		Values:  map[health.Metric]health.Value{health.MetricPing: health.Failure(health.ReasonUnreachable)},
		Data:    map[string]any{"method": method},
	}
}
