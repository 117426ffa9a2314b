package cmd

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jandubois/dchealth/internal/config"
	"github.com/jandubois/dchealth/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run history database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("down", false, "Roll back all migrations")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	// Only the database path matters here, so the rest of the file is
	// not validated.
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	path := getDatabasePath(cmd, cfg)
	if path == "" {
		return errors.New("no database configured (use --database, history.database or DATABASE_PATH)")
	}
	down, _ := cmd.Flags().GetBool("down")
	ctx := cmd.Context()

	if down {
		slog.Info("rolling back all migrations", "database", path)
		if err := db.RollbackMigrations(ctx, path); err != nil {
			return err
		}
		slog.Info("migrations rolled back")
	} else {
		slog.Info("running migrations", "database", path)
		if err := db.RunMigrations(ctx, path); err != nil {
			return err
		}
		slog.Info("migrations complete")
	}

	return nil
}
