// Package probetest provides a scripted Runner for probe tests.
package probetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jandubois/dchealth/internal/probe"
)

// Response is the canned reply for one command.
type Response struct {
	Output probe.Output
	Err    error
}

// Runner answers commands by matching the executable name. Unmatched
// commands fail as if the tool were not installed.
type Runner struct {
	Responses map[string]Response

	mu    sync.Mutex
	calls []string
}

// Run records the call and returns the canned response for name.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (*probe.Output, error) {
	r.mu.Lock()
	r.calls = append(r.calls, strings.TrimSpace(name+" "+strings.Join(args, " ")))
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, ok := r.Responses[name]
	if !ok {
		return nil, fmt.Errorf("exec: %q: executable file not found in $PATH", name)
	}
	out := resp.Output
	return &out, resp.Err
}

// Calls returns every command line seen so far.
func (r *Runner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}
