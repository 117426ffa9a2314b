// Package probe defines the result and description formats shared by all
// domain controller probes.
package probe

import "github.com/jandubois/dchealth/internal/health"

// Status represents the outcome of a probe execution.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// Result is the standard output format for probes.
//
// Values carries the reduced outcomes handed to the health engine; Metrics
// and Data hold raw details for reports and logs.
type Result struct {
	Status  Status                         `json:"status"`
	Message string                         `json:"message"`
	Values  map[health.Metric]health.Value `json:"values,omitempty"`
	Metrics map[string]any                 `json:"metrics,omitempty"`
	Data    map[string]any                 `json:"data,omitempty"`
}

// Unknown returns a result for a probe that could not run. Every metric in
// metrics is recorded with the given failure reason.
func Unknown(message string, reason health.Reason, metrics ...health.Metric) *Result {
	r := &Result{
		Status:  StatusUnknown,
		Message: message,
		Values:  make(map[health.Metric]health.Value, len(metrics)),
	}
	for _, m := range metrics {
		r.Values[m] = health.Failure(reason)
	}
	return r
}

// Description is the self-description format for probes.
type Description struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Version     string          `json:"version"`
	Subcommand  string          `json:"subcommand,omitempty"`
	Metrics     []health.Metric `json:"metrics"`
	Remote      bool            `json:"remote"`
	Arguments   Arguments       `json:"arguments"`
}

// Arguments describes required and optional probe arguments.
type Arguments struct {
	Required map[string]ArgumentSpec `json:"required,omitempty"`
	Optional map[string]ArgumentSpec `json:"optional,omitempty"`
}

// ArgumentSpec describes a single argument.
type ArgumentSpec struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
}
