// Package notify delivers check summaries to ntfy, Pushover and e-mail.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/jandubois/dchealth/internal/collector"
	"github.com/jandubois/dchealth/internal/health"
)

// Channel is a notification channel.
type Channel interface {
	Send(ctx context.Context, msg *Message) error
	Type() string
}

// Message contains notification details.
type Message struct {
	Title    string
	Body     string
	Priority Priority
	Tags     []string
	// HTML is the full report. Channels that can carry it (e-mail) send it
	// instead of Body.
	HTML []byte
	// URL links to the report when the web server is running.
	URL string
}

// Priority levels for notifications.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// PriorityFor maps a run's worst state to a priority.
func PriorityFor(s health.State) Priority {
	switch s {
	case health.StateCritical:
		return PriorityUrgent
	case health.StateWarning:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// maxListed caps how many nodes a text body names.
const maxListed = 10

// FormatRun creates the notification for a finished run. Changes, when
// present, are listed before the unhealthy nodes.
func FormatRun(run *collector.Run, changes []collector.Change) *Message {
	s := run.Summary()
	worst := run.Worst()

	title := fmt.Sprintf("[%s] %d of %d domain controllers healthy", worst, s.Healthy, s.Total)

	var b strings.Builder
	fmt.Fprintf(&b, "%d healthy, %d warning, %d critical\n", s.Healthy, s.Warning, s.Critical)

	if len(changes) > 0 {
		b.WriteString("\nChanged:\n")
		for i, c := range changes {
			if i == maxListed {
				fmt.Fprintf(&b, "  ... and %d more\n", len(changes)-maxListed)
				break
			}
			prev := string(c.Previous)
			if prev == "" {
				prev = "new"
			}
			fmt.Fprintf(&b, "  %s: %s → %s\n", c.Hostname, prev, c.Current)
		}
	}

	var unhealthy []collector.NodeResult
	for _, n := range run.Nodes {
		if n.Verdict.State != health.StateHealthy {
			unhealthy = append(unhealthy, n)
		}
	}
	if len(unhealthy) > 0 {
		b.WriteString("\nUnhealthy:\n")
		for i, n := range unhealthy {
			if i == maxListed {
				fmt.Fprintf(&b, "  ... and %d more\n", len(unhealthy)-maxListed)
				break
			}
			triggers := make([]string, len(n.Verdict.Triggers))
			for j, m := range n.Verdict.Triggers {
				triggers[j] = string(m)
			}
			fmt.Fprintf(&b, "  %s %s: %s\n", n.Hostname, n.Verdict.State, strings.Join(triggers, ", "))
		}
	}

	tags := []string{strings.ToLower(string(worst))}
	for _, c := range changes {
		if c.Current == health.StateHealthy && c.Previous != "" {
			tags = append(tags, "recovery")
			break
		}
	}

	return &Message{
		Title:    title,
		Body:     strings.TrimRight(b.String(), "\n"),
		Priority: PriorityFor(worst),
		Tags:     tags,
	}
}
