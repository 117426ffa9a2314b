package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jandubois/dchealth/internal/watcher"
	"github.com/jandubois/dchealth/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled checks and the web server",
	Long: `Run a check at startup and then every watcher.interval. The web server
exposes the run history as JSON and the latest report as HTML, and accepts
POST /api/runs to queue an immediate check.

The API token comes from web.auth_token or AUTH_TOKEN. When neither is
set, a token is generated once and stored in the user configuration
directory.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on; overrides web.port")
	serveCmd.Flags().Bool("no-web", false, "Run scheduled checks without the web server")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Web.Port = port
	}
	noWeb, _ := cmd.Flags().GetBool("no-web")

	if !noWeb && cfg.Web.AuthToken == "" {
		token, err := watcher.LoadOrCreateToken("")
		if err != nil {
			return fmt.Errorf("auth token: %w", err)
		}
		cfg.Web.AuthToken = token
	}

	reportURL := ""
	if !noWeb {
		reportURL = fmt.Sprintf("http://%s:%d/report", getFullHostname(), cfg.Web.Port)
	}

	a, err := buildApp(ctx, cmd, cfg, true, reportURL)
	if err != nil {
		return err
	}
	defer a.Close()

	durations, err := cfg.Durations()
	if err != nil {
		return err
	}
	scheduler := watcher.NewScheduler(a.watcher, durations.Interval, slog.Default())

	if noWeb {
		slog.Info("starting scheduler", "interval", durations.Interval)
		scheduler.Run(ctx)
		return nil
	}
	if a.database == nil {
		return errors.New("the web server needs history.database or --database")
	}

	server := web.NewServer(a.database, scheduler, &cfg.Web, a.report, slog.Default())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	slog.Info("starting web server", "port", cfg.Web.Port, "interval", durations.Interval, "report_url", reportURL)
	err = server.Run(ctx)
	cancel()
	wg.Wait()
	return err
}
