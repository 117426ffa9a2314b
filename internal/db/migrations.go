package db

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type migration struct {
	version int
	name    string
	up      string
	down    string
}

// RunMigrations opens dbPath and applies all pending migrations.
func RunMigrations(ctx context.Context, dbPath string) error {
	d, err := open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Migrate(ctx)
}

// RollbackMigrations opens dbPath and rolls back every migration.
func RollbackMigrations(ctx context.Context, dbPath string) error {
	d, err := open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Rollback(ctx)
}

// Version returns the current schema version and whether a migration was
// interrupted.
func (d *DB) Version(ctx context.Context) (version int, dirty bool, err error) {
	if err := d.ensureMigrationsTable(ctx); err != nil {
		return 0, false, err
	}
	var dirtyInt int
	err = d.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0), COALESCE(MAX(dirty), 0) FROM schema_migrations`,
	).Scan(&version, &dirtyInt)
	if err != nil {
		return 0, false, fmt.Errorf("get current version: %w", err)
	}
	return version, dirtyInt != 0, nil
}

// Migrate applies pending migrations in version order.
func (d *DB) Migrate(ctx context.Context) error {
	current, err := d.cleanVersion(ctx)
	if err != nil {
		return err
	}
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if m.up == "" {
			return fmt.Errorf("no up migration for version %d", m.version)
		}
		if err := d.step(ctx, m.version, m.up, false); err != nil {
			return fmt.Errorf("run up migration %s: %w", m.name, err)
		}
	}
	return nil
}

// Rollback rolls back every applied migration in reverse order.
func (d *DB) Rollback(ctx context.Context) error {
	current, err := d.cleanVersion(ctx)
	if err != nil {
		return err
	}
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if m.version > current {
			continue
		}
		if m.down == "" {
			return fmt.Errorf("no down migration for version %d", m.version)
		}
		if err := d.step(ctx, m.version, m.down, true); err != nil {
			return fmt.Errorf("run down migration %s: %w", m.name, err)
		}
	}
	return nil
}

func (d *DB) ensureMigrationsTable(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			dirty INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	return nil
}

func (d *DB) cleanVersion(ctx context.Context) (int, error) {
	version, dirty, err := d.Version(ctx)
	if err != nil {
		return 0, err
	}
	if dirty {
		return 0, fmt.Errorf("database is in dirty state at version %d, manual intervention required", version)
	}
	return version, nil
}

// step marks version dirty, runs sql, then records the result. A failure
// leaves the version dirty.
func (d *DB) step(ctx context.Context, version int, sql string, down bool) error {
	if _, err := d.db.ExecContext(ctx, `INSERT OR REPLACE INTO schema_migrations (version, dirty) VALUES (?, 1)`, version); err != nil {
		return fmt.Errorf("mark version %d as dirty: %w", version, err)
	}
	if _, err := d.db.ExecContext(ctx, sql); err != nil {
		return err
	}

	var err error
	if down {
		_, err = d.db.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, version)
	} else {
		_, err = d.db.ExecContext(ctx, `UPDATE schema_migrations SET dirty = 0 WHERE version = ?`, version)
	}
	if err != nil {
		return fmt.Errorf("record version %d: %w", version, err)
	}
	return nil
}

// loadMigrations reads NNNN_name.up.sql / NNNN_name.down.sql pairs.
func loadMigrations() ([]*migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	byVersion := make(map[int]*migration)
	for _, entry := range entries {
		name := entry.Name()
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}

		m := byVersion[version]
		if m == nil {
			m = &migration{version: version}
			byVersion[version] = m
		}
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			m.up = string(content)
			m.name = strings.TrimSuffix(name, ".up.sql")
		case strings.HasSuffix(name, ".down.sql"):
			m.down = string(content)
		}
	}

	out := make([]*migration, 0, len(byVersion))
	for _, m := range byVersion {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}
