package collector

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jandubois/dchealth/internal/health"
	"github.com/jandubois/dchealth/internal/probe"
)

// ProbeOutcome records how one probe went on one node.
type ProbeOutcome struct {
	Status     probe.Status `json:"status"`
	Message    string       `json:"message"`
	DurationMs int64        `json:"duration_ms"`
}

// NodeResult is one classified domain controller.
type NodeResult struct {
	health.Node
	Verdict    health.Verdict          `json:"verdict"`
	Probes     map[string]ProbeOutcome `json:"probes,omitempty"`
	DurationMs int64                   `json:"duration_ms"`
}

// Run is the result of one check over every node.
type Run struct {
	ID         uuid.UUID    `json:"id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Nodes      []NodeResult `json:"nodes"`
}

// Summary counts nodes per state.
type Summary struct {
	Total    int `json:"total"`
	Healthy  int `json:"healthy"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
}

// Summary counts the run's nodes per state.
func (r *Run) Summary() Summary {
	s := Summary{Total: len(r.Nodes)}
	for _, n := range r.Nodes {
		switch n.Verdict.State {
		case health.StateCritical:
			s.Critical++
		case health.StateWarning:
			s.Warning++
		default:
			s.Healthy++
		}
	}
	return s
}

// Worst returns the most severe node state, Healthy for an empty run.
func (r *Run) Worst() health.State {
	worst := health.StateHealthy
	for _, n := range r.Nodes {
		if n.Verdict.State.Rank() > worst.Rank() {
			worst = n.Verdict.State
		}
	}
	return worst
}

// States maps lowercase host name to state.
func (r *Run) States() map[string]health.State {
	out := make(map[string]health.State, len(r.Nodes))
	for _, n := range r.Nodes {
		out[strings.ToLower(n.Hostname)] = n.Verdict.State
	}
	return out
}

// Hostnames returns the host names of the run's nodes.
func (r *Run) Hostnames() []string {
	out := make([]string, len(r.Nodes))
	for i, n := range r.Nodes {
		out[i] = n.Hostname
	}
	return out
}

// Duration is the wall time of the run.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Change is a node whose state differs from the previous run.
type Change struct {
	Hostname string       `json:"hostname"`
	Previous health.State `json:"previous,omitempty"`
	Current  health.State `json:"current"`
}

// Changes compares the run with the states of a previous run. A node
// absent from previous counts as changed unless it is Healthy.
func (r *Run) Changes(previous map[string]health.State) []Change {
	var out []Change
	for _, n := range r.Nodes {
		prev, seen := previous[strings.ToLower(n.Hostname)]
		cur := n.Verdict.State
		if prev == cur || (!seen && cur == health.StateHealthy) {
			continue
		}
		out = append(out, Change{Hostname: n.Hostname, Previous: prev, Current: cur})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out
}
