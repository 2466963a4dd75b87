package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dropsentry/dropsentry/internal/config"
	"github.com/dropsentry/dropsentry/internal/display"
	"github.com/dropsentry/dropsentry/internal/history"
	"github.com/dropsentry/dropsentry/internal/launch"
	"github.com/dropsentry/dropsentry/internal/lifecycle"
	"github.com/dropsentry/dropsentry/internal/logging"
	"github.com/dropsentry/dropsentry/internal/metricsrv"
	"github.com/dropsentry/dropsentry/internal/probe"
	"github.com/dropsentry/dropsentry/internal/schedule"
	"github.com/dropsentry/dropsentry/internal/status"
)

var runCmd *cobra.Command

func init() {
	runCmd = &cobra.Command{
		Use:   "run [flags] -- <command> [args...]",
		Short: "Run the worker for one bounded, display-backed session",
		Long: `Run boots the virtual display, computes the deadline to the next
wall-clock hour boundary, and runs the worker command bounded by it.

On the worker's natural exit its own exit code is propagated. On deadline
expiry the worker is terminated (SIGTERM, grace wait, SIGKILL) and the
supervisor exits 0: hourly cycling is deliberate, not a failure. Display
bootstrap and launch failures exit with their own dedicated codes.

Example:
  dropsentry run -- twitch-drops-miner -vv
  dropsentry run --grace-period 10s --display 42 -- ./miner --tray`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runSupervised(args))
		},
	}
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Int("display", 99, "X display number for the virtual framebuffer")
	runCmd.Flags().String("geometry", "1280x720x24", "framebuffer geometry (WxHxDepth)")
	runCmd.Flags().Duration("display-timeout", 10*time.Second, "how long to wait for the display to become ready")
	runCmd.Flags().Duration("grace-period", 30*time.Second, "SIGTERM-to-SIGKILL grace window when curtailing the worker")
	runCmd.Flags().Bool("utc", false, "align the deadline to UTC hour boundaries instead of local ones")
	runCmd.Flags().String("workdir", "", "working directory for the worker")
	runCmd.Flags().String("listen", ":9105", "metrics sidecar listen address")
	runCmd.Flags().Bool("no-http", false, "disable the metrics/status sidecar")
	runCmd.Flags().Bool("no-history", false, "disable the run history database")

	viper.BindPFlag("display.number", runCmd.Flags().Lookup("display"))
	viper.BindPFlag("display.geometry", runCmd.Flags().Lookup("geometry"))
	viper.BindPFlag("display.startup_timeout", runCmd.Flags().Lookup("display-timeout"))
	viper.BindPFlag("launch.grace_period", runCmd.Flags().Lookup("grace-period"))
	viper.BindPFlag("deadline.utc", runCmd.Flags().Lookup("utc"))
	viper.BindPFlag("launch.workdir", runCmd.Flags().Lookup("workdir"))
	viper.BindPFlag("http.listen", runCmd.Flags().Lookup("listen"))
}

// runSupervised performs exactly one bounded run and returns the exit
// code the container restart policy will act on.
func runSupervised(args []string) int {
	cfg, logger, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return lifecycle.ExitLaunchFailure
	}
	if v, _ := runCmd.Flags().GetBool("no-http"); v {
		cfg.HTTP.Enabled = false
	}
	if v, _ := runCmd.Flags().GetBool("no-history"); v {
		cfg.History.Enabled = false
	}

	runID := uuid.NewString()
	logger = logger.WithField("run_id", runID)

	// One supervisor per container: the display and status file have
	// exactly one owner.
	lock, err := status.AcquireLock(cfg.Lock.Path)
	if err != nil {
		logger.Error("could not acquire single-instance lock", map[string]interface{}{
			"error": err.Error(),
		})
		return lifecycle.ExitLaunchFailure
	}
	defer lock.Release()

	statusFile := status.NewFile(cfg.Status.Path)
	startedAt := time.Now()
	statusFile.Write(&status.RunStatus{
		RunID:     runID,
		State:     status.StateBootstrapping,
		Command:   args[0],
		StartedAt: startedAt,
	})

	// Shutdown signals terminate the worker through the same two-phase
	// path the deadline uses; the delivered signal feeds the exit code.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var delivered os.Signal
	ctx = launch.WithSignal(ctx, &delivered)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)
	go func() {
		sig, ok := <-sigChan
		if ok {
			delivered = sig
			cancel()
		}
	}()

	// The display must be fully ready before the worker starts.
	dsp, err := display.Start(ctx, cfg.Display, logger)
	if err != nil {
		logger.Error("display bootstrap failed", map[string]interface{}{"error": err.Error()})
		finishRun(cfg, logger, statusFile, runID, args[0], startedAt, 0, launch.Outcome{
			Cause:     lifecycle.CauseDisplayFailed,
			StartedAt: startedAt,
			Duration:  time.Since(startedAt),
		})
		return lifecycle.ExitDisplayFailure
	}
	defer dsp.Stop()

	now := time.Now()
	if cfg.Deadline.UTC {
		now = now.UTC()
	}
	deadline := schedule.UntilNextHour(now)
	logger.Info("deadline computed", map[string]interface{}{
		"deadline": deadline.String(),
		"ends_at":  now.Add(deadline).Format(time.RFC3339),
	})

	var sidecar *metricsrv.Server
	if cfg.HTTP.Enabled {
		checker := probe.New(cfg.Probe, statusFile)
		sidecar = metricsrv.New(cfg.HTTP.Listen, checker, statusFile, cfg.Probe.HeartbeatFile, cfg.Probe.Timeout, logger)
		sidecar.SetRun(deadline, startedAt)
		sidecar.Start()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()
			sidecar.Shutdown(shutdownCtx)
		}()
	}

	launcher := launch.New(logger)
	outcome := launcher.Launch(ctx, launch.Spec{
		Command:     args[0],
		Args:        args[1:],
		ExtraEnv:    dsp.Env(),
		WorkDir:     cfg.Launch.WorkDir,
		Deadline:    deadline,
		GracePeriod: cfg.Launch.GracePeriod,
		OnStart: func(pid int) {
			if sidecar != nil {
				sidecar.SetWorkerPID(pid)
			}
			statusFile.Write(&status.RunStatus{
				RunID:           runID,
				State:           status.StateRunning,
				PID:             pid,
				Display:         dsp.Addr(),
				Command:         args[0],
				StartedAt:       startedAt,
				DeadlineSeconds: int(deadline.Seconds()),
				EndsAt:          startedAt.Add(deadline),
			})
		},
	})

	if sidecar != nil {
		sidecar.SetWorkerPID(0)
	}
	finishRun(cfg, logger, statusFile, runID, args[0], startedAt, int(deadline.Seconds()), outcome)
	writeReport(runID, outcome)

	return outcome.SupervisorExitCode()
}

// finishRun publishes the terminal status and records the run in the
// history database. Both are best effort; the exit code is the contract.
func finishRun(cfg *config.Config, logger *logging.Logger, statusFile *status.File, runID, command string, startedAt time.Time, deadlineSeconds int, outcome launch.Outcome) {
	exitCode := outcome.SupervisorExitCode()
	statusFile.Write(&status.RunStatus{
		RunID:           runID,
		State:           status.StateEnded,
		Command:         command,
		StartedAt:       startedAt,
		DeadlineSeconds: deadlineSeconds,
		Cause:           outcome.Cause,
		ExitCode:        &exitCode,
	})

	if !cfg.History.Enabled {
		return
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		logger.Warn("history db unavailable", map[string]interface{}{"error": err.Error()})
		return
	}
	defer store.Close()
	if err := store.Record(history.Run{
		ID:              runID,
		Command:         command,
		StartedAt:       startedAt,
		EndedAt:         time.Now(),
		Cause:           outcome.Cause,
		ExitCode:        exitCode,
		DeadlineSeconds: deadlineSeconds,
	}); err != nil {
		logger.Warn("could not record run history", map[string]interface{}{"error": err.Error()})
	}

	logger.Info("run ended", map[string]interface{}{
		"cause":     string(outcome.Cause),
		"exit_code": exitCode,
		"duration":  outcome.Duration.String(),
	})
}

// writeReport prints the end-of-run summary.
func writeReport(runID string, outcome launch.Outcome) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Run ID", runID)
	table.Append("PID", fmt.Sprintf("%d", outcome.PID))
	table.Append("Cause", string(outcome.Cause))
	table.Append("Exit Code", fmt.Sprintf("%d", outcome.SupervisorExitCode()))
	table.Append("Duration", fmt.Sprintf("%.1fs", outcome.Duration.Seconds()))
	table.Render()

	for _, event := range outcome.Events {
		fmt.Printf("  [%s] %s: %s\n", event.Time.Format("15:04:05"), event.State, event.Message)
	}
}
