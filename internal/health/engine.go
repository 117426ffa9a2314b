package health

import (
	"math"
	"sync"
)

// Class is the display class of a single metric.
type Class string

const (
	ClassPass Class = "pass"
	ClassWarn Class = "warn"
	ClassFail Class = "fail"
	// ClassNeutral marks a metric that could not be classified: unknown
	// name, missing value, or a value of the wrong kind.
	ClassNeutral Class = "neutral"
)

// State is the overall verdict of a node.
type State string

const (
	StateHealthy  State = "Healthy"
	StateWarning  State = "Warning"
	StateCritical State = "Critical"
)

// Rank orders states by severity for sorting and exit codes.
func (s State) Rank() int {
	switch s {
	case StateCritical:
		return 2
	case StateWarning:
		return 1
	default:
		return 0
	}
}

// Verdict is the engine's output for one node.
type Verdict struct {
	State   State            `json:"state"`
	Classes map[Metric]Class `json:"classes"`
	// Triggers lists the metrics that decided State, in evaluation order.
	Triggers []Metric `json:"triggers,omitempty"`
}

// Engine classifies nodes against fixed thresholds and a severity policy.
// It holds no mutable state and may be shared between goroutines.
type Engine struct {
	thresholds Thresholds
	policy     *Policy
}

// NewEngine creates an engine. A nil policy selects DefaultPolicy.
func NewEngine(t Thresholds, p *Policy) *Engine {
	if p == nil {
		p = DefaultPolicy()
	}
	return &Engine{thresholds: t, policy: p}
}

func (e *Engine) Thresholds() Thresholds { return e.thresholds }

func (e *Engine) Policy() *Policy { return e.policy }

// Metrics returns every metric the engine consults, threshold metrics last.
func (e *Engine) Metrics() []Metric {
	return append(e.policy.Metrics(), MetricUptimeHours, MetricFreeGB, MetricFreePercent, MetricTimeOffset)
}

// Classify maps one raw value to its display class.
func (e *Engine) Classify(m Metric, v Value) Class {
	if v.Kind() == KindMissing {
		return ClassNeutral
	}

	if _, ok := e.policy.Severity(m); ok {
		switch v.Kind() {
		case KindSuccess:
			return ClassPass
		case KindFailure:
			return ClassFail
		default:
			return ClassNeutral
		}
	}

	if !isThresholdMetric(m) {
		return ClassNeutral
	}
	if v.IsFailure() {
		return ClassFail
	}
	n, ok := v.Number()
	if !ok {
		return ClassNeutral
	}

	t := e.thresholds
	switch m {
	case MetricUptimeHours:
		if n <= t.UptimeWarnHours {
			return ClassWarn
		}
	case MetricFreePercent:
		if n <= t.FreePercentFail {
			return ClassFail
		}
		if n <= t.FreePercentWarn {
			return ClassWarn
		}
	case MetricFreeGB:
		if n < t.FreeGBFail {
			return ClassFail
		}
		if n < t.FreeGBWarn {
			return ClassWarn
		}
	case MetricTimeOffset:
		offset := math.Abs(n)
		if offset >= t.TimeFailSeconds {
			return ClassFail
		}
		if offset >= t.TimeWarnSeconds {
			return ClassWarn
		}
	}
	return ClassPass
}

// Evaluate folds a node's results into a verdict. Rules apply in strict
// precedence and the first step that matches decides the state:
//
//  1. any critical binary metric failed: Critical
//  2. free space below a fail cutoff: Critical
//  3. time offset at or over its fail cutoff: Critical; otherwise any
//     warning binary failure or warn cutoff breach: Warning
//  4. Healthy
func (e *Engine) Evaluate(n *Node) Verdict {
	v := Verdict{
		State:   StateHealthy,
		Classes: e.classifyAll(n),
	}

	for _, m := range e.policy.Critical() {
		if n.Value(m).IsFailure() {
			v.Triggers = append(v.Triggers, m)
		}
	}
	if len(v.Triggers) > 0 {
		v.State = StateCritical
		return v
	}

	t := e.thresholds
	if gb, ok := n.Value(MetricFreeGB).Number(); ok && gb < t.FreeGBFail {
		v.Triggers = append(v.Triggers, MetricFreeGB)
	}
	if pct, ok := n.Value(MetricFreePercent).Number(); ok && pct <= t.FreePercentFail {
		v.Triggers = append(v.Triggers, MetricFreePercent)
	}
	if len(v.Triggers) > 0 {
		v.State = StateCritical
		return v
	}

	offset, hasOffset := n.Value(MetricTimeOffset).Number()
	offset = math.Abs(offset)
	if hasOffset && offset >= t.TimeFailSeconds {
		v.Triggers = []Metric{MetricTimeOffset}
		v.State = StateCritical
		return v
	}

	for _, m := range e.policy.Warning() {
		if n.Value(m).IsFailure() {
			v.Triggers = append(v.Triggers, m)
		}
	}
	if gb, ok := n.Value(MetricFreeGB).Number(); ok && gb < t.FreeGBWarn {
		v.Triggers = append(v.Triggers, MetricFreeGB)
	}
	if pct, ok := n.Value(MetricFreePercent).Number(); ok && pct <= t.FreePercentWarn {
		v.Triggers = append(v.Triggers, MetricFreePercent)
	}
	if hasOffset && offset >= t.TimeWarnSeconds {
		v.Triggers = append(v.Triggers, MetricTimeOffset)
	}
	if hours, ok := n.Value(MetricUptimeHours).Number(); ok && hours <= t.UptimeWarnHours {
		v.Triggers = append(v.Triggers, MetricUptimeHours)
	}
	if len(v.Triggers) > 0 {
		v.State = StateWarning
	}
	return v
}

// classifyAll classifies every consulted metric plus any extra metric the
// probes reported.
func (e *Engine) classifyAll(n *Node) map[Metric]Class {
	classes := make(map[Metric]Class, len(n.Results)+len(e.policy.order)+4)
	for _, m := range e.Metrics() {
		classes[m] = e.Classify(m, n.Value(m))
	}
	for m, val := range n.Results {
		if _, done := classes[m]; !done {
			classes[m] = e.Classify(m, val)
		}
	}
	return classes
}

// EvaluateAll classifies nodes independently using up to workers
// goroutines. The returned slice is parallel to nodes.
func (e *Engine) EvaluateAll(nodes []Node, workers int) []Verdict {
	out := make([]Verdict, len(nodes))
	if workers <= 1 {
		for i := range nodes {
			out[i] = e.Evaluate(&nodes[i])
		}
		return out
	}

	semaphore := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := range nodes {
		wg.Add(1)
		semaphore <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-semaphore }()
			out[i] = e.Evaluate(&nodes[i])
		}(i)
	}
	wg.Wait()
	return out
}
