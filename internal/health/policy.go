package health

import (
	"errors"
	"fmt"
)

// Thresholds are the numeric cutoffs applied to threshold metrics.
type Thresholds struct {
	UptimeWarnHours float64 `yaml:"uptime_warn_hours" json:"uptime_warn_hours"`
	FreePercentFail float64 `yaml:"free_percent_fail" json:"free_percent_fail"`
	FreePercentWarn float64 `yaml:"free_percent_warn" json:"free_percent_warn"`
	FreeGBFail      float64 `yaml:"free_gb_fail" json:"free_gb_fail"`
	FreeGBWarn      float64 `yaml:"free_gb_warn" json:"free_gb_warn"`
	TimeWarnSeconds float64 `yaml:"time_warn_seconds" json:"time_warn_seconds"`
	TimeFailSeconds float64 `yaml:"time_fail_seconds" json:"time_fail_seconds"`
}

// DefaultThresholds returns the stock cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		UptimeWarnHours: 24,
		FreePercentFail: 5,
		FreePercentWarn: 30,
		FreeGBFail:      5,
		FreeGBWarn:      10,
		TimeWarnSeconds: 0.5,
		TimeFailSeconds: 1.0,
	}
}

// Validate checks that every cutoff is non-negative and that each fail
// cutoff is at least as severe as its warn cutoff.
func (t Thresholds) Validate() error {
	var errs []error
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"uptime_warn_hours", t.UptimeWarnHours},
		{"free_percent_fail", t.FreePercentFail},
		{"free_percent_warn", t.FreePercentWarn},
		{"free_gb_fail", t.FreeGBFail},
		{"free_gb_warn", t.FreeGBWarn},
		{"time_warn_seconds", t.TimeWarnSeconds},
		{"time_fail_seconds", t.TimeFailSeconds},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative (got %v)", f.name, f.v))
		}
	}
	if t.FreePercentWarn > 100 {
		errs = append(errs, fmt.Errorf("free_percent_warn must not exceed 100 (got %v)", t.FreePercentWarn))
	}
	if t.FreePercentFail > t.FreePercentWarn {
		errs = append(errs, fmt.Errorf("free_percent_fail (%v) exceeds free_percent_warn (%v)", t.FreePercentFail, t.FreePercentWarn))
	}
	if t.FreeGBFail > t.FreeGBWarn {
		errs = append(errs, fmt.Errorf("free_gb_fail (%v) exceeds free_gb_warn (%v)", t.FreeGBFail, t.FreeGBWarn))
	}
	if t.TimeWarnSeconds > t.TimeFailSeconds {
		errs = append(errs, fmt.Errorf("time_warn_seconds (%v) exceeds time_fail_seconds (%v)", t.TimeWarnSeconds, t.TimeFailSeconds))
	}
	return errors.Join(errs...)
}

// Severity is how far a single binary failure can push the verdict.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Rule assigns a severity to one binary metric.
type Rule struct {
	Metric   Metric
	Severity Severity
}

// DCDiagTests lists the DCDIAG sub-tests consumed by the engine and the
// severity of their failure.
var DCDiagTests = []Rule{
	{DCDiagMetric("Advertising"), SeverityCritical},
	{DCDiagMetric("CheckSDRefDom"), SeverityWarning},
	{DCDiagMetric("Connectivity"), SeverityCritical},
	{DCDiagMetric("CrossRefValidation"), SeverityWarning},
	{DCDiagMetric("DFSREvent"), SeverityWarning},
	{DCDiagMetric("FrsEvent"), SeverityWarning},
	{DCDiagMetric("Intersite"), SeverityWarning},
	{DCDiagMetric("KccEvent"), SeverityWarning},
	{DCDiagMetric("KnowsOfRoleHolders"), SeverityCritical},
	{DCDiagMetric("MachineAccount"), SeverityCritical},
	{DCDiagMetric("NCSecDesc"), SeverityWarning},
	{DCDiagMetric("NetLogons"), SeverityCritical},
	{DCDiagMetric("ObjectsReplicated"), SeverityWarning},
	{DCDiagMetric("Replications"), SeverityCritical},
	{DCDiagMetric("RidManager"), SeverityCritical},
	{DCDiagMetric("Services"), SeverityCritical},
	{DCDiagMetric("SysVolCheck"), SeverityCritical},
	{DCDiagMetric("SystemLog"), SeverityWarning},
	{DCDiagMetric("VerifyReferences"), SeverityWarning},
	{DCDiagMetric("LocatorCheck"), SeverityCritical},
	{DCDiagMetric("FsmoCheck"), SeverityCritical},
}

// DefaultRules returns the stock severity table: connectivity and the three
// core services are critical, followed by the DCDIAG table.
func DefaultRules() []Rule {
	rules := []Rule{
		{MetricDNS, SeverityCritical},
		{MetricPing, SeverityCritical},
		{MetricDNSService, SeverityCritical},
		{MetricNTDSService, SeverityCritical},
		{MetricNetlogonService, SeverityCritical},
	}
	return append(rules, DCDiagTests...)
}

// Policy partitions binary metrics into the critical and warning sets.
// A Policy is immutable once built and safe for concurrent use.
type Policy struct {
	severity map[Metric]Severity
	order    []Metric
}

// NewPolicy builds a policy from a severity table. Each metric may appear once.
func NewPolicy(rules []Rule) (*Policy, error) {
	p := &Policy{severity: make(map[Metric]Severity, len(rules))}
	for _, r := range rules {
		if r.Metric == "" {
			return nil, errors.New("policy rule has empty metric name")
		}
		if r.Severity != SeverityCritical && r.Severity != SeverityWarning {
			return nil, fmt.Errorf("metric %s: unknown severity %q", r.Metric, r.Severity)
		}
		if _, dup := p.severity[r.Metric]; dup {
			return nil, fmt.Errorf("metric %s listed more than once", r.Metric)
		}
		if isThresholdMetric(r.Metric) {
			return nil, fmt.Errorf("metric %s is a threshold metric and cannot be binary", r.Metric)
		}
		p.severity[r.Metric] = r.Severity
		p.order = append(p.order, r.Metric)
	}
	return p, nil
}

// DefaultPolicy returns the policy built from DefaultRules.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(DefaultRules())
	if err != nil {
		panic(err)
	}
	return p
}

// Severity returns the severity of a binary metric.
func (p *Policy) Severity(m Metric) (Severity, bool) {
	s, ok := p.severity[m]
	return s, ok
}

// Metrics returns the binary metrics in table order.
func (p *Policy) Metrics() []Metric {
	out := make([]Metric, len(p.order))
	copy(out, p.order)
	return out
}

// Critical returns the metrics whose failure alone forces Critical.
func (p *Policy) Critical() []Metric {
	return p.filter(SeverityCritical)
}

// Warning returns the metrics whose failure forces at most Warning.
func (p *Policy) Warning() []Metric {
	return p.filter(SeverityWarning)
}

func (p *Policy) filter(s Severity) []Metric {
	var out []Metric
	for _, m := range p.order {
		if p.severity[m] == s {
			out = append(out, m)
		}
	}
	return out
}

func isThresholdMetric(m Metric) bool {
	switch m {
	case MetricUptimeHours, MetricFreePercent, MetricFreeGB, MetricTimeOffset:
		return true
	}
	return false
}
