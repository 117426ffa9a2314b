package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jandubois/dchealth/internal/probe"
	"github.com/jandubois/dchealth/internal/probes"
	"github.com/jandubois/dchealth/internal/probes/dcdiag"
	"github.com/jandubois/dchealth/internal/probes/dnslookup"
	"github.com/jandubois/dchealth/internal/probes/ping"
	"github.com/jandubois/dchealth/internal/probes/services"
	"github.com/jandubois/dchealth/internal/probes/system"
	"github.com/jandubois/dchealth/internal/probes/timesync"
	"github.com/jandubois/dchealth/internal/watcher"
)

// probeCommand builds a subcommand that runs one built-in probe against
// --host and prints its result as JSON.
func probeCommand(name, short string, run func(ctx context.Context, cmd *cobra.Command, host string) *probe.Result) *cobra.Command {
	c := &cobra.Command{
		Use:     name,
		Short:   short,
		GroupID: probeGroupID,
		RunE: func(cmd *cobra.Command, args []string) error {
			host, _ := cmd.Flags().GetString("host")
			if host == "" {
				return fmt.Errorf("--host is required")
			}
			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return outputResult(run(ctx, cmd, host))
		},
	}
	c.Flags().String("host", "", "Domain controller host name")
	c.Flags().Duration("timeout", 3*time.Minute, "Probe timeout")
	return c
}

func runner(cmd *cobra.Command) probe.Runner {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return probe.ExecRunner{Timeout: timeout}
}

var (
	dnsCmd = probeCommand(dnslookup.Name, "Resolve a host name to IPv4", func(ctx context.Context, cmd *cobra.Command, host string) *probe.Result {
		return dnslookup.Run(ctx, net.DefaultResolver, host)
	})
	pingCmd = probeCommand(ping.Name, "Check that a host answers ping", func(ctx context.Context, cmd *cobra.Command, host string) *probe.Result {
		wait, _ := cmd.Flags().GetDuration("wait")
		return ping.Run(ctx, runner(cmd), &net.Dialer{}, host, wait)
	})
	servicesCmd = probeCommand(services.Name, "Check the DNS, NTDS and Netlogon services", func(ctx context.Context, cmd *cobra.Command, host string) *probe.Result {
		return services.Run(ctx, runner(cmd), host)
	})
	systemCmd = probeCommand(system.Name, "Read uptime, OS version and system drive space", func(ctx context.Context, cmd *cobra.Command, host string) *probe.Result {
		return system.Run(ctx, runner(cmd), host)
	})
	timesyncCmd = probeCommand(timesync.Name, "Measure the clock offset against this machine", func(ctx context.Context, cmd *cobra.Command, host string) *probe.Result {
		samples, _ := cmd.Flags().GetInt("samples")
		return timesync.Run(ctx, runner(cmd), host, samples)
	})
	dcdiagCmd = probeCommand(dcdiag.Name, "Run the DCDIAG test suite", func(ctx context.Context, cmd *cobra.Command, host string) *probe.Result {
		return dcdiag.Run(ctx, runner(cmd), host)
	})
)

func init() {
	// Add flags to root
	rootCmd.Flags().BoolP("version", "v", false, "Print version and exit")
	rootCmd.Flags().Bool("describe", false, "Output built-in probe descriptions as JSON array")

	// Override Run to handle flags
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Fprintf(cmd.OutOrStdout(), "dchealth version %s\n", watcher.Version)
			return nil
		}
		if describe, _ := cmd.Flags().GetBool("describe"); describe {
			return printDescriptions()
		}
		return cmd.Help()
	}

	pingCmd.Flags().Duration("wait", 2*time.Second, "Time to wait for an echo reply")
	timesyncCmd.Flags().Int("samples", 1, "Number of w32tm samples to take; the worst offset is reported")

	for _, c := range []*cobra.Command{dnsCmd, pingCmd, servicesCmd, systemCmd, timesyncCmd, dcdiagCmd} {
		rootCmd.AddCommand(c)
	}
}

func printDescriptions() error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(probes.GetAllDescriptions())
}

// outputResult prints result as JSON. Like the check command, the exit
// code is 1 for a warning and 2 for a critical result; 3 means the probe
// could not run.
func outputResult(result *probe.Result) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	switch result.Status {
	case probe.StatusWarning:
		return &exitError{code: 1}
	case probe.StatusCritical:
		return &exitError{code: 2}
	case probe.StatusUnknown:
		return &exitError{code: 3}
	}
	return nil
}
