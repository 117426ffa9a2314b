package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"
)

// Output is what a finished subprocess produced.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes external tools on behalf of probes.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Output, error)
}

// ExecRunner runs commands as local subprocesses.
type ExecRunner struct {
	// Timeout bounds each command. Zero means 60 seconds.
	Timeout time.Duration
}

// Run executes name with args. A non-zero exit code is not an error; the
// error is reserved for commands that could not start or timed out.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (*Output, error) {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(timeoutCtx, name, args...)
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if timeoutCtx.Err() == context.DeadlineExceeded {
			return out, fmt.Errorf("%s timed out after %s", name, timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, fmt.Errorf("run %s: %w", name, err)
	}
	return out, nil
}

// PowerShell runs a script through Windows PowerShell without loading
// profiles.
func PowerShell(ctx context.Context, r Runner, script string) (*Output, error) {
	return r.Run(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", script)
}

// QuotePS quotes s as a single-quoted PowerShell string literal.
func QuotePS(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Truncate shortens s to at most maxLen bytes for inclusion in messages,
// without splitting a multi-byte character.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "... (truncated)"
}
