package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jandubois/dchealth/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "dchealth",
	Short: "Active Directory domain controller health checks",
	Long: `dchealth probes every domain controller in one or more domains, classifies
each one as Healthy, Warning or Critical, and reports the results as HTML,
JSON or CSV, by e-mail, ntfy or Pushover.`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

const probeGroupID = "probes"

// exitError carries a process exit code without an error message.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// ExitCode returns the process exit code for an error returned by Execute.
func ExitCode(err error) int {
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	return 3
}

func Execute() error {
	err := rootCmd.Execute()
	var e *exitError
	if err != nil && !errors.As(err, &e) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	rootCmd.AddGroup(&cobra.Group{ID: probeGroupID, Title: "Built-in Probes:"})
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("database", "d", "", "SQLite database path (overrides history.database)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	levelName, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")

	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return fmt.Errorf("invalid --log-level %q", levelName)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid --log-format %q", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// loadConfig reads and validates the configuration named by --config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dbPath, _ := cmd.Flags().GetString("database"); dbPath != "" {
		cfg.History.Database = dbPath
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// getDatabasePath returns the history database path, or "" when history
// is disabled.
func getDatabasePath(cmd *cobra.Command, cfg *config.Config) string {
	if path, _ := cmd.Flags().GetString("database"); path != "" {
		return path
	}
	if cfg != nil {
		return cfg.History.Database
	}
	return os.Getenv("DATABASE_PATH")
}
