package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dropsentry/dropsentry/internal/schedule"
)

var (
	deadlineUTC    bool
	deadlineOutput string
)

type deadlineInfo struct {
	DeadlineSeconds int    `json:"deadline_seconds" yaml:"deadline_seconds"`
	EndsAt          string `json:"ends_at" yaml:"ends_at"`
}

var deadlineCmd = &cobra.Command{
	Use:   "deadline",
	Short: "Print the deadline a run started now would get",
	Long: `Deadline prints the number of whole seconds remaining until the next
hour boundary, exactly as the run command would compute it. Useful for
entrypoint scripts and for checking a container's clock alignment.`,
	RunE: runDeadline,
}

func init() {
	rootCmd.AddCommand(deadlineCmd)
	deadlineCmd.Flags().BoolVar(&deadlineUTC, "utc", false, "align to UTC hour boundaries")
	deadlineCmd.Flags().StringVarP(&deadlineOutput, "output", "o", "text", "output format: text, json, yaml")
}

func runDeadline(cmd *cobra.Command, args []string) error {
	now := time.Now()
	if deadlineUTC {
		now = now.UTC()
	}
	d := schedule.UntilNextHour(now)
	info := deadlineInfo{
		DeadlineSeconds: int(d.Seconds()),
		EndsAt:          now.Add(d).Format(time.RFC3339),
	}

	switch deadlineOutput {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		return enc.Encode(info)
	default:
		fmt.Println(info.DeadlineSeconds)
		return nil
	}
}
