package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jandubois/dchealth/internal/health"
)

var knownFormats = map[string]bool{"html": true, "json": true, "csv": true}

var knownProbes = map[string]bool{"services": true, "system": true, "timesync": true, "dcdiag": true}

// Validate checks configuration correctness.
// It performs declarative validation only and does not mutate cfg.
func Validate(cfg *Config) error {
	var errs []error

	if err := cfg.Thresholds.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("thresholds: %w", err))
	}
	if _, err := cfg.BuildPolicy(); err != nil {
		errs = append(errs, fmt.Errorf("policy: %w", err))
	}
	if _, err := cfg.Durations(); err != nil {
		errs = append(errs, err)
	}

	if len(cfg.Discovery.Domains) == 0 && len(cfg.Discovery.Nodes) == 0 {
		errs = append(errs, errors.New("discovery: at least one domain or node is required"))
	}
	for i, d := range cfg.Discovery.Domains {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("discovery.domains[%d]: name is required", i))
		}
	}
	seen := make(map[string]bool)
	for i, n := range cfg.Discovery.Nodes {
		if n.Hostname == "" {
			errs = append(errs, fmt.Errorf("discovery.nodes[%d]: hostname is required", i))
			continue
		}
		key := strings.ToLower(n.Hostname)
		if seen[key] {
			errs = append(errs, fmt.Errorf("discovery.nodes[%d]: duplicate hostname %q", i, n.Hostname))
		}
		seen[key] = true
	}

	if cfg.Collector.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("collector.max_concurrent must be at least 1 (got %d)", cfg.Collector.MaxConcurrent))
	}
	for _, s := range cfg.Collector.Skip {
		if !knownProbes[s] {
			errs = append(errs, fmt.Errorf("collector.skip: unknown or mandatory probe %q", s))
		}
	}

	for _, f := range cfg.Report.Formats {
		if !knownFormats[f] {
			errs = append(errs, fmt.Errorf("report.formats: unknown format %q", f))
		}
	}

	switch health.State(cfg.Notify.MinState) {
	case health.StateHealthy, health.StateWarning, health.StateCritical:
	default:
		errs = append(errs, fmt.Errorf("notify.min_state: unknown state %q", cfg.Notify.MinState))
	}
	if s := cfg.Notify.SMTP; s != nil {
		if s.Host == "" || s.From == "" || len(s.To) == 0 {
			errs = append(errs, errors.New("notify.smtp: host, from and to are required"))
		}
	}
	if n := cfg.Notify.Ntfy; n != nil && n.Topic == "" {
		errs = append(errs, errors.New("notify.ntfy: topic is required"))
	}
	if p := cfg.Notify.Pushover; p != nil && (p.APIToken == "" || p.UserKey == "") {
		errs = append(errs, errors.New("notify.pushover: api_token and user_key are required"))
	}

	if cfg.History.KeepRuns < 0 {
		errs = append(errs, fmt.Errorf("history.keep_runs must not be negative (got %d)", cfg.History.KeepRuns))
	}

	return errors.Join(errs...)
}

// BuildPolicy applies the policy overrides to the default severity table.
func (c *Config) BuildPolicy() (*health.Policy, error) {
	rules := health.DefaultRules()
	index := make(map[health.Metric]int, len(rules))
	for i, r := range rules {
		index[r.Metric] = i
	}

	override := func(names []string, sev health.Severity) error {
		for _, name := range names {
			i, ok := index[health.Metric(name)]
			if !ok {
				return fmt.Errorf("unknown binary metric %q", name)
			}
			rules[i].Severity = sev
		}
		return nil
	}
	if err := override(c.Policy.Critical, health.SeverityCritical); err != nil {
		return nil, err
	}
	if err := override(c.Policy.Warning, health.SeverityWarning); err != nil {
		return nil, err
	}
	for _, name := range c.Policy.Critical {
		for _, other := range c.Policy.Warning {
			if name == other {
				return nil, fmt.Errorf("metric %q listed as both critical and warning", name)
			}
		}
	}
	return health.NewPolicy(rules)
}

// ParseInterval parses interval strings like "30s", "5m", "1h", "1d".
func ParseInterval(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}

	if s[len(s)-1] == 'd' {
		value, err := strconv.Atoi(s[:len(s)-1])
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q: %w", s, err)
		}
		return time.Duration(value) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid interval %q: negative", s)
	}
	return d, nil
}
