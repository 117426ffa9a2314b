// Package services provides the remote service status probe for the DNS
// Server, Active Directory Domain Services and Netlogon services.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jandubois/dchealth/internal/health"
	"github.com/jandubois/dchealth/internal/probe"
)

// Name is the probe subcommand name.
const Name = "services"

// Watched maps Windows service names to the metric they feed.
var Watched = []struct {
	Service string
	Metric  health.Metric
}{
	{"DNS", health.MetricDNSService},
	{"NTDS", health.MetricNTDSService},
	{"Netlogon", health.MetricNetlogonService},
}

// GetDescription returns the probe description.
func GetDescription() probe.Description {
	return probe.Description{
		Name:        Name,
		Description: "Check that DNS, NTDS and Netlogon are running",
		Version:     "1.0.0",
		Subcommand:  Name,
		Metrics:     metrics(),
		Remote:      true,
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

// serviceStatus is one element of Get-Service | ConvertTo-Json. Windows
// PowerShell emits Status as an enum number, PowerShell 7 as a string.
type serviceStatus struct {
	Name   string          `json:"Name"`
	Status json.RawMessage `json:"Status"`
}

// running is the numeric ServiceControllerStatus value for a running service.
const running = 4

// Run queries the service controller on host.
func Run(ctx context.Context, runner probe.Runner, host string) *probe.Result {
	if host == "" {
		return probe.Unknown("host argument is required", health.ReasonNotMeasured, metrics()...)
	}

	names := make([]string, len(Watched))
	for i, w := range Watched {
		names[i] = w.Service
	}
	script := fmt.Sprintf(
		"Get-Service -ComputerName %s -Name %s -ErrorAction Stop | Select-Object Name,Status | ConvertTo-Json -Compress",
		probe.QuotePS(host), strings.Join(names, ","),
	)

	out, err := probe.PowerShell(ctx, runner, script)
	if err != nil {
		return probe.Unknown(fmt.Sprintf("service query failed: %v", err), health.ReasonNotMeasured, metrics()...)
	}
	if out.ExitCode != 0 {
		return probe.Unknown(fmt.Sprintf("service query failed: %s", probe.Truncate(strings.TrimSpace(out.Stderr), 500)), health.ReasonNotMeasured, metrics()...)
	}

	statuses, err := parseStatuses(out.Stdout)
	if err != nil {
		return probe.Unknown(fmt.Sprintf("parse service status: %v", err), health.ReasonNotMeasured, metrics()...)
	}

	result := &probe.Result{
		Status: probe.StatusOK,
		Values: make(map[health.Metric]health.Value, len(Watched)),
		Data:   make(map[string]any, len(Watched)),
	}
	var stopped []string
	for _, w := range Watched {
		state, ok := statuses[strings.ToLower(w.Service)]
		if !ok {
			state = "Missing"
		}
		result.Data[w.Service] = state
		if state == "Running" {
			result.Values[w.Metric] = health.Success()
			continue
		}
		result.Values[w.Metric] = health.Failure(health.ReasonFailed)
		stopped = append(stopped, fmt.Sprintf("%s is %s", w.Service, state))
	}

	if len(stopped) > 0 {
		result.Status = probe.StatusCritical
		result.Message = strings.Join(stopped, "; ")
	} else {
		result.Message = "DNS, NTDS and Netlogon are running"
	}
	return result
}

// parseStatuses returns lowercase service name to status text.
func parseStatuses(stdout string) (map[string]string, error) {
	stdout = strings.TrimSpace(stdout)
	if stdout == "" {
		return nil, fmt.Errorf("empty output")
	}

	var list []serviceStatus
	if strings.HasPrefix(stdout, "[") {
		if err := json.Unmarshal([]byte(stdout), &list); err != nil {
			return nil, err
		}
	} else {
		var single serviceStatus
		if err := json.Unmarshal([]byte(stdout), &single); err != nil {
			return nil, err
		}
		list = []serviceStatus{single}
	}

	out := make(map[string]string, len(list))
	for _, s := range list {
		out[strings.ToLower(s.Name)] = statusText(s.Status)
	}
	return out, nil
}

var statusNames = map[int]string{
	1: "Stopped",
	2: "StartPending",
	3: "StopPending",
	running: "Running",
	5: "ContinuePending",
	6: "PausePending",
	7: "Paused",
}

func statusText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "Unknown"
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		if name, ok := statusNames[n]; ok {
			return name
		}
		return fmt.Sprintf("Unknown(%d)", n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s
	}
	return "Unknown"
}

func metrics() []health.Metric {
	out := make([]health.Metric, len(Watched))
	for i, w := range Watched {
		out[i] = w.Metric
	}
	return out
}
