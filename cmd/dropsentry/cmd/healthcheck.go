package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dropsentry/dropsentry/internal/probe"
	"github.com/dropsentry/dropsentry/internal/status"
)

var healthcheckJSON bool

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Probe the worker's liveness for the container health monitor",
	Long: `Healthcheck is the container HEALTHCHECK entrypoint: a standalone,
side-effect-free probe of externally observable progress signals (the
worker's heartbeat file, the supervised pid, optional platform
reachability).

Exit status: 0 healthy, 1 unhealthy, 2 probe error. The probe only
reports; terminating and restarting an unhealthy container is the
external monitor's decision.`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runHealthcheck())
	},
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
	healthcheckCmd.Flags().BoolVar(&healthcheckJSON, "json", false, "print the probe report as JSON")
}

func runHealthcheck() int {
	cfg, _, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return probe.StatusError.ExitCode()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Probe.Timeout)
	defer cancel()

	checker := probe.New(cfg.Probe, status.NewFile(cfg.Status.Path))
	report := checker.Check(ctx)

	if healthcheckJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(report)
	} else {
		for _, check := range report.Checks {
			fmt.Printf("%-16s %-10s %s\n", check.Name, check.Status, check.Detail)
		}
		fmt.Printf("overall: %s\n", report.Status)
	}

	return report.Status.ExitCode()
}
