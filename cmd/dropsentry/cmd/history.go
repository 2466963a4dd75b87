package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/dropsentry/dropsentry/internal/history"
)

var (
	historyLimit  int
	historyOutput string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent bounded runs",
	Long: `History lists the most recent supervisor invocations recorded in the
run history database: when each run started and ended, why it ended, and
the exit code the restart policy saw.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", "table", "output format: table or json")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer store.Close()

	runs, err := store.Recent(historyLimit)
	if err != nil {
		return err
	}

	if historyOutput == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Started", "Ended", "Cause", "Exit", "Deadline", "Run ID")
	for _, r := range runs {
		table.Append(
			r.StartedAt.Local().Format(time.RFC3339),
			r.EndedAt.Local().Format(time.RFC3339),
			string(r.Cause),
			fmt.Sprintf("%d", r.ExitCode),
			fmt.Sprintf("%ds", r.DeadlineSeconds),
			r.ID,
		)
	}
	table.Render()
	return nil
}
