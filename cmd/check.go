package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jandubois/dchealth/internal/collector"
	"github.com/jandubois/dchealth/internal/config"
	"github.com/jandubois/dchealth/internal/db"
	"github.com/jandubois/dchealth/internal/discovery"
	"github.com/jandubois/dchealth/internal/health"
	"github.com/jandubois/dchealth/internal/notify"
	"github.com/jandubois/dchealth/internal/probe"
	"github.com/jandubois/dchealth/internal/probes"
	"github.com/jandubois/dchealth/internal/report"
	"github.com/jandubois/dchealth/internal/watcher"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check all domain controllers once",
	Long: `Discover and probe every configured domain controller, write the
configured reports, record the run and send notifications.

The exit code reflects the worst node: 0 when every node is healthy,
1 for a warning and 2 for a critical node. Use --fail-on critical to
ignore warnings.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().String("fail-on", "warning", "Lowest state that gives a non-zero exit code (warning, critical)")
	checkCmd.Flags().StringSlice("format", nil, "Report formats to write (html, json, csv); overrides report.formats")
	checkCmd.Flags().String("output-dir", "", "Report directory; overrides report.output_dir")
	checkCmd.Flags().Bool("no-notify", false, "Do not send notifications")
}

// app holds the wired pipeline and the resources it owns.
type app struct {
	cfg      *config.Config
	engine   *health.Engine
	database *db.DB
	watcher  *watcher.Watcher
	report   report.Options
}

func (a *app) Close() {
	if a.database != nil {
		a.database.Close()
	}
}

// buildApp wires discovery, collection, reporting, history and
// notification from cfg. reportURL is linked from notifications.
func buildApp(ctx context.Context, cmd *cobra.Command, cfg *config.Config, notifications bool, reportURL string) (*app, error) {
	logger := slog.Default()

	durations, err := cfg.Durations()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.BuildPolicy()
	if err != nil {
		return nil, err
	}
	engine := health.NewEngine(cfg.Thresholds, policy)

	skip := make(map[string]bool, len(cfg.Collector.Skip))
	for _, name := range cfg.Collector.Skip {
		skip[name] = true
	}
	env := probes.Env{
		Runner:      probe.ExecRunner{Timeout: durations.ProbeTimeout},
		Resolver:    net.DefaultResolver,
		Dialer:      &net.Dialer{},
		PingTimeout: durations.PingTimeout,
		TimeSamples: cfg.Collector.TimeSamples,
		Skip:        skip,
	}
	coll := collector.New(engine, probes.Builtin(env), collector.Options{
		MaxConcurrent: cfg.Collector.MaxConcurrent,
		NodeTimeout:   durations.NodeTimeout,
		ProbeTimeout:  durations.ProbeTimeout,
		Logger:        logger,
	})

	a := &app{cfg: cfg, engine: engine}

	var history watcher.History
	if path := getDatabasePath(cmd, cfg); path != "" {
		a.database, err = db.Connect(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		history = a.database
	}

	var notifier watcher.Notifier
	if notifications {
		notifier = notify.NewDispatcher(cfg.Notify, logger)
	}

	a.report = report.Options{
		Title:   cfg.Report.Title,
		Metrics: engine.Metrics(),
	}
	a.watcher = watcher.New(watcher.Options{
		Config:     cfg,
		Discoverer: discovery.New(net.DefaultResolver, env.Runner, logger),
		Collector:  coll,
		Writer:     watcher.NewResultWriter(history, notifier, cfg.History.KeepRuns, logger),
		Report:     a.report,
		ReportURL:  reportURL,
		Logger:     logger,
	})
	return a, nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failOn, _ := cmd.Flags().GetString("fail-on")
	threshold := health.StateWarning
	switch failOn {
	case "warning":
	case "critical":
		threshold = health.StateCritical
	default:
		return fmt.Errorf("invalid --fail-on %q (use warning or critical)", failOn)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("format") {
		formats, _ := cmd.Flags().GetStringSlice("format")
		cfg.Report.Formats = formats
	}
	if dir, _ := cmd.Flags().GetString("output-dir"); dir != "" {
		cfg.Report.OutputDir = dir
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	noNotify, _ := cmd.Flags().GetBool("no-notify")

	a, err := buildApp(ctx, cmd, cfg, !noNotify, "")
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.watcher.RunOnce(ctx)
	if err != nil && (out == nil || out.Run == nil) {
		return err
	}
	if err != nil {
		slog.Error("check finished with errors", "error", err)
	}

	printSummary(cmd, out)

	worst := out.Run.Worst()
	if worst.Rank() >= threshold.Rank() {
		return &exitError{code: worst.Rank()}
	}
	return nil
}

func printSummary(cmd *cobra.Command, out *watcher.Outcome) {
	w := cmd.OutOrStdout()
	sum := out.Run.Summary()
	fmt.Fprintf(w, "%d domain controllers: %d healthy, %d warning, %d critical\n",
		sum.Total, sum.Healthy, sum.Warning, sum.Critical)
	for _, n := range out.Run.Nodes {
		if n.Verdict.State == health.StateHealthy {
			continue
		}
		fmt.Fprintf(w, "  %-30s %-8s %v\n", n.Identity.Hostname, n.Verdict.State, n.Verdict.Triggers)
	}
	for _, p := range out.Paths {
		fmt.Fprintf(w, "Report: %s\n", p)
	}
}
