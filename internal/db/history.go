package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jandubois/dchealth/internal/collector"
	"github.com/jandubois/dchealth/internal/health"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunSummary is a stored run without its node results.
type RunSummary struct {
	ID         uuid.UUID         `json:"id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Summary    collector.Summary `json:"summary"`
	Worst      health.State      `json:"worst"`
}

// RecordRun stores a run and its node results in one transaction.
func (d *DB) RecordRun(ctx context.Context, run *collector.Run) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	s := run.Summary()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, total, healthy, warning, critical, worst)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID.String(), formatTime(run.StartedAt), formatTime(run.FinishedAt),
		s.Total, s.Healthy, s.Warning, s.Critical, string(run.Worst()))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO node_results (run_id, hostname, domain, site, ipv4, os_version, fsmo_roles,
			state, triggers, results, classes, probes, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare node insert: %w", err)
	}
	defer stmt.Close()

	for _, n := range run.Nodes {
		_, err := stmt.ExecContext(ctx,
			run.ID.String(), n.Hostname, n.Domain, n.Site, n.IPv4, n.OSVersion,
			JSON[[]string]{n.FSMORoles},
			string(n.Verdict.State),
			JSON[[]health.Metric]{n.Verdict.Triggers},
			JSON[map[health.Metric]health.Value]{n.Results},
			JSON[map[health.Metric]health.Class]{n.Verdict.Classes},
			JSON[map[string]collector.ProbeOutcome]{n.Probes},
			n.DurationMs,
		)
		if err != nil {
			return fmt.Errorf("insert node %s: %w", n.Hostname, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// LatestRun returns the most recently started run.
func (d *DB) LatestRun(ctx context.Context) (*collector.Run, error) {
	var id string
	err := d.db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest run: %w", err)
	}
	return d.GetRun(ctx, id)
}

// GetRun returns the run with the given id and all its node results.
func (d *DB) GetRun(ctx context.Context, id string) (*collector.Run, error) {
	var rawID string
	var started, finished NullTime
	err := d.db.QueryRowContext(ctx, `SELECT id, started_at, finished_at FROM runs WHERE id = ?`, id).
		Scan(&rawID, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	runID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	run := &collector.Run{ID: runID, StartedAt: started.Time, FinishedAt: finished.Time}

	rows, err := d.db.QueryContext(ctx, `
		SELECT hostname, domain, site, ipv4, os_version, fsmo_roles,
			state, triggers, results, classes, probes, duration_ms
		FROM node_results
		WHERE run_id = ?
		ORDER BY domain, site, hostname COLLATE NOCASE
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query node results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var n collector.NodeResult
		var state string
		var roles JSON[[]string]
		var triggers JSON[[]health.Metric]
		var results JSON[map[health.Metric]health.Value]
		var classes JSON[map[health.Metric]health.Class]
		var probes JSON[map[string]collector.ProbeOutcome]
		if err := rows.Scan(&n.Hostname, &n.Domain, &n.Site, &n.IPv4, &n.OSVersion, &roles,
			&state, &triggers, &results, &classes, &probes, &n.DurationMs); err != nil {
			return nil, fmt.Errorf("scan node result: %w", err)
		}
		n.FSMORoles = roles.V
		n.Results = results.V
		n.Probes = probes.V
		n.Verdict = health.Verdict{State: health.State(state), Classes: classes.V, Triggers: triggers.V}
		run.Nodes = append(run.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node results: %w", err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, total, healthy, warning, critical, worst
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var id, worst string
		var started, finished NullTime
		if err := rows.Scan(&id, &started, &finished,
			&r.Summary.Total, &r.Summary.Healthy, &r.Summary.Warning, &r.Summary.Critical, &worst); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse run id: %w", err)
		}
		r.StartedAt, r.FinishedAt = started.Time, finished.Time
		r.Worst = health.State(worst)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PreviousStates returns the most recently recorded state of each host,
// keyed by lowercase host name. A nil hostnames returns every known host.
func (d *DB) PreviousStates(ctx context.Context, hostnames []string) (map[string]health.State, error) {
	query := `
		SELECT nr.hostname, nr.state
		FROM node_results nr
		JOIN runs r ON r.id = nr.run_id`
	var args []any
	if hostnames != nil {
		if len(hostnames) == 0 {
			return map[string]health.State{}, nil
		}
		placeholders := make([]string, len(hostnames))
		for i, h := range hostnames {
			placeholders[i] = "?"
			args = append(args, strings.ToLower(h))
		}
		query += ` WHERE lower(nr.hostname) IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY r.started_at ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query previous states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]health.State)
	for rows.Next() {
		var host, state string
		if err := rows.Scan(&host, &state); err != nil {
			return nil, fmt.Errorf("scan previous state: %w", err)
		}
		out[strings.ToLower(host)] = health.State(state)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep runs. keep <= 0 keeps everything.
func (d *DB) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE id NOT IN (SELECT id FROM runs ORDER BY started_at DESC LIMIT ?)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}
