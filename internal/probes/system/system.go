// Package system provides the uptime and system drive free space probe.
package system

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	units "github.com/docker/go-units"

	"github.com/jandubois/dchealth/internal/health"
	"github.com/jandubois/dchealth/internal/probe"
)

// Name is the probe subcommand name.
const Name = "system"

// Metrics lists the values this probe reports.
var Metrics = []health.Metric{health.MetricUptimeHours, health.MetricFreeGB, health.MetricFreePercent}

// GetDescription returns the probe description.
func GetDescription() probe.Description {
	return probe.Description{
		Name:        Name,
		Description: "Measure uptime and free space on the system drive via CIM",
		Version:     "1.0.0",
		Subcommand:  Name,
		Metrics:     Metrics,
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

const script = `$ErrorActionPreference = 'Stop'
$os = Get-CimInstance -ComputerName %[1]s -ClassName Win32_OperatingSystem
$disk = Get-CimInstance -ComputerName %[1]s -ClassName Win32_LogicalDisk -Filter "DeviceID='$($os.SystemDrive)'"
[pscustomobject]@{
  Caption = $os.Caption
  Version = $os.Version
  LastBootUpTime = $os.LastBootUpTime.ToUniversalTime().ToString('o')
  LocalDateTime = $os.LocalDateTime.ToUniversalTime().ToString('o')
  SystemDrive = $os.SystemDrive
  FreeSpace = [uint64]$disk.FreeSpace
  Size = [uint64]$disk.Size
} | ConvertTo-Json -Compress`

// cimReport is the JSON emitted by script.
type cimReport struct {
	Caption        string `json:"Caption"`
	Version        string `json:"Version"`
	LastBootUpTime string `json:"LastBootUpTime"`
	LocalDateTime  string `json:"LocalDateTime"`
	SystemDrive    string `json:"SystemDrive"`
	FreeSpace      uint64 `json:"FreeSpace"`
	Size           uint64 `json:"Size"`
}

// Run queries Win32_OperatingSystem and the system drive on host.
func Run(ctx context.Context, runner probe.Runner, host string) *probe.Result {
	if host == "" {
		return probe.Unknown("host argument is required", health.ReasonNotMeasured, Metrics...)
	}

	out, err := probe.PowerShell(ctx, runner, fmt.Sprintf(script, probe.QuotePS(host)))
	if err != nil {
		return probe.Unknown(fmt.Sprintf("CIM query failed: %v", err), health.ReasonNotMeasured, Metrics...)
	}
	if out.ExitCode != 0 {
		return probe.Unknown(fmt.Sprintf("CIM query failed: %s", probe.Truncate(strings.TrimSpace(out.Stderr), 500)), health.ReasonNotMeasured, Metrics...)
	}

	var rep cimReport
	if err := json.Unmarshal([]byte(strings.TrimSpace(out.Stdout)), &rep); err != nil {
		return probe.Unknown(fmt.Sprintf("parse CIM output: %v", err), health.ReasonNotMeasured, Metrics...)
	}
	return evaluate(host, &rep)
}

func evaluate(host string, rep *cimReport) *probe.Result {
	result := &probe.Result{
		Status:  probe.StatusOK,
		Values:  make(map[health.Metric]health.Value, len(Metrics)),
		Metrics: map[string]any{},
		Data: map[string]any{
			"os_caption":   rep.Caption,
			"os_version":   rep.Version,
			"system_drive": rep.SystemDrive,
		},
	}
	var parts []string

	boot, bootErr := time.Parse(time.RFC3339Nano, rep.LastBootUpTime)
	now, nowErr := time.Parse(time.RFC3339Nano, rep.LocalDateTime)
	if bootErr == nil && nowErr == nil && !now.Before(boot) {
		hours := now.Sub(boot).Hours()
		result.Values[health.MetricUptimeHours] = health.Numeric(hours)
		result.Metrics["uptime_hours"] = hours
		parts = append(parts, fmt.Sprintf("up %s", units.HumanDuration(now.Sub(boot))))
	} else {
		result.Values[health.MetricUptimeHours] = health.Failure(health.ReasonNotMeasured)
		result.Status = probe.StatusUnknown
		parts = append(parts, "uptime unavailable")
	}

	if rep.Size > 0 {
		freeGB := float64(rep.FreeSpace) / (1024 * 1024 * 1024)
		freePercent := float64(rep.FreeSpace) / float64(rep.Size) * 100
		result.Values[health.MetricFreeGB] = health.Numeric(freeGB)
		result.Values[health.MetricFreePercent] = health.Numeric(freePercent)
		result.Metrics["free_bytes"] = rep.FreeSpace
		result.Metrics["total_bytes"] = rep.Size
		result.Metrics["free_gb"] = freeGB
		result.Metrics["free_percent"] = freePercent
		parts = append(parts, fmt.Sprintf("%s free on %s (%.1f%%)", units.BytesSize(float64(rep.FreeSpace)), rep.SystemDrive, freePercent))
	} else {
		result.Values[health.MetricFreeGB] = health.Failure(health.ReasonNotMeasured)
		result.Values[health.MetricFreePercent] = health.Failure(health.ReasonNotMeasured)
		result.Status = probe.StatusUnknown
		parts = append(parts, "disk size unavailable")
	}

	result.Message = fmt.Sprintf("%s: %s", host, strings.Join(parts, ", "))
	return result
}
