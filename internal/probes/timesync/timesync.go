// Package timesync provides the time offset probe built on w32tm.
package timesync

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/jandubois/dchealth/internal/health"
	"github.com/jandubois/dchealth/internal/probe"
)

// Name is the probe subcommand name.
const Name = "timesync"

// GetDescription returns the probe description.
func GetDescription() probe.Description {
	return probe.Description{
		Name:        Name,
		Description: "Measure clock offset between this host and the domain controller",
		Version:     "1.0.0",
		Subcommand:  Name,
		Metrics:     []health.Metric{health.MetricTimeOffset},
		Remote:      true,
		Arguments: probe.Arguments{
			Required: map[string]probe.ArgumentSpec{
				"host": {
					Type:        "string",
					Description: "Domain controller host name",
				},
			},
			Optional: map[string]probe.ArgumentSpec{
				"samples": {
					Type:        "integer",
					Description: "Number of w32tm samples to collect; the worst offset is reported",
					Default:     1,
				},
			},
		},
	}
}

var (
	sampleRe = regexp.MustCompile(`,\s*([+-]?\d+(?:\.\d+)?)s\s*$`)
	errorRe  = regexp.MustCompile(`(?i)error:\s*(0x[0-9a-f]+)`)
)

// Run samples the offset with w32tm /stripchart. The largest absolute
// offset among the samples is reported.
func Run(ctx context.Context, runner probe.Runner, host string, samples int) *probe.Result {
	if host == "" {
		return probe.Unknown("host argument is required", health.ReasonNotMeasured, health.MetricTimeOffset)
	}
	if samples < 1 {
		samples = 1
	}

	out, err := runner.Run(ctx, "w32tm", "/stripchart", "/computer:"+host, fmt.Sprintf("/samples:%d", samples), "/dataonly")
	if err != nil {
		return probe.Unknown(fmt.Sprintf("w32tm failed: %v", err), health.ReasonNotMeasured, health.MetricTimeOffset)
	}

	offsets, errCodes := parseStripchart(out.Stdout)
	if len(offsets) == 0 {
		msg := fmt.Sprintf("no time samples from %s", host)
		if len(errCodes) > 0 {
			msg = fmt.Sprintf("no time samples from %s (w32tm error %s)", host, errCodes[0])
		}
		return probe.Unknown(msg, health.ReasonNotMeasured, health.MetricTimeOffset)
	}

	worst := 0.0
	for _, o := range offsets {
		if math.Abs(o) > math.Abs(worst) {
			worst = o
		}
	}

	return &probe.Result{
		Status:  probe.StatusOK,
		Message: fmt.Sprintf("%s offset %+.4fs", host, worst),
		Values:  map[health.Metric]health.Value{health.MetricTimeOffset: health.Numeric(math.Abs(worst))},
		Metrics: map[string]any{
			"offset_seconds": worst,
			"samples":        len(offsets),
		},
	}
}

// parseStripchart extracts the per-sample offsets and any error codes from
// w32tm /stripchart /dataonly output.
func parseStripchart(stdout string) ([]float64, []string) {
	var offsets []float64
	var errCodes []string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if m := errorRe.FindStringSubmatch(line); len(m) == 2 {
			errCodes = append(errCodes, m[1])
			continue
		}
		m := sampleRe.FindStringSubmatch(line)
		if len(m) != 2 {
			continue
		}
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			offsets = append(offsets, v)
		}
	}
	return offsets, errCodes
}
