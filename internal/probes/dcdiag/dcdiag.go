// Package dcdiag provides the DCDIAG probe. It runs dcdiag against a
// domain controller and reduces the report to one outcome per sub-test.
package dcdiag

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jandubois/dchealth/internal/health"
	"github.com/jandubois/dchealth/internal/probe"
)

// Name is the probe subcommand name.
const Name = "dcdiag"

// GetDescription returns the probe description.
func GetDescription() probe.Description {
	return probe.Description{
		Name:        Name,
		Description: "Run the DCDIAG test suite against a domain controller",
		Version:     "1.0.0",
		Subcommand:  Name,
		Metrics:     Metrics(),
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

// Metrics returns the DCDIAG metrics in table order.
func Metrics() []health.Metric {
	out := make([]health.Metric, len(health.DCDiagTests))
	for i, r := range health.DCDiagTests {
		out[i] = r.Metric
	}
	return out
}

var outcomeRe = regexp.MustCompile(`(?i)\b(passed|failed)\s+test\s+(\w+)`)

// Run executes dcdiag /s:host.
func Run(ctx context.Context, runner probe.Runner, host string) *probe.Result {
	if host == "" {
		return probe.Unknown("host argument is required", health.ReasonNotMeasured, Metrics()...)
	}

	out, err := runner.Run(ctx, "dcdiag", "/s:"+host)
	if err != nil {
		return probe.Unknown(fmt.Sprintf("dcdiag failed: %v", err), health.ReasonNotMeasured, Metrics()...)
	}

	outcomes := Parse(out.Stdout)
	if len(outcomes) == 0 {
		msg := "dcdiag reported no test results"
		if s := strings.TrimSpace(out.Stderr); s != "" {
			msg += ": " + probe.Truncate(s, 500)
		}
		return probe.Unknown(msg, health.ReasonNotMeasured, Metrics()...)
	}

	result := &probe.Result{
		Status: probe.StatusOK,
		Values: make(map[health.Metric]health.Value, len(health.DCDiagTests)),
		Data:   map[string]any{},
	}
	var failed, missing []string
	for _, r := range health.DCDiagTests {
		test, _ := r.Metric.DCDiagTest()
		passed, seen := outcomes[strings.ToLower(test)]
		switch {
		case !seen:
			result.Values[r.Metric] = health.Failure(health.ReasonNotMeasured)
			missing = append(missing, test)
		case passed:
			result.Values[r.Metric] = health.Success()
		default:
			result.Values[r.Metric] = health.Failure(health.ReasonFailed)
			failed = append(failed, test)
		}
	}

	result.Metrics = map[string]any{
		"tests_passed":  len(health.DCDiagTests) - len(failed) - len(missing),
		"tests_failed":  len(failed),
		"tests_missing": len(missing),
	}
	if len(failed) > 0 {
		result.Data["failed"] = failed
	}
	if len(missing) > 0 {
		result.Data["missing"] = missing
	}
	if extra := Unknown(outcomes); len(extra) > 0 {
		result.Data["unrecognized"] = extra
	}

	switch {
	case len(failed) > 0:
		result.Status = probe.StatusCritical
		result.Message = "failed: " + strings.Join(failed, ", ")
	case len(missing) > 0:
		result.Status = probe.StatusWarning
		result.Message = "not run: " + strings.Join(missing, ", ")
	default:
		result.Message = fmt.Sprintf("all %d tests passed", len(health.DCDiagTests))
	}
	return result
}

// Parse reads dcdiag output and returns lowercase test name to whether it
// passed. A test reported more than once (partition tests) passes only if
// every run passed.
func Parse(stdout string) map[string]bool {
	out := make(map[string]bool)
	for _, m := range outcomeRe.FindAllStringSubmatch(stdout, -1) {
		name := strings.ToLower(m[2])
		passed := strings.EqualFold(m[1], "passed")
		if prev, seen := out[name]; seen {
			passed = prev && passed
		}
		out[name] = passed
	}
	return out
}

// Unknown returns the test names in outcomes that are not in the table.
func Unknown(outcomes map[string]bool) []string {
	known := make(map[string]bool, len(health.DCDiagTests))
	for _, r := range health.DCDiagTests {
		test, _ := r.Metric.DCDiagTest()
		known[strings.ToLower(test)] = true
	}
	var extra []string
	for name := range outcomes {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return extra
}
