package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statsJSONOutput bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show live allocation counters and pacer thresholds",
	Long: `
Connects to a running process's telemetry server and prints its current
live-allocation count and pacer thresholds.

FLAGS:
  --addr   Telemetry server address (default 127.0.0.1:7777)
  --json   Output as JSON
`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSONOutput, "json", false, "output as JSON")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	stats, err := getStats(context.Background(), addr)
	if err != nil {
		return err
	}

	if statsJSONOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	for _, k := range []string{"live_allocations", "bytes_threshold", "calls_threshold", "generation", "auto_collect"} {
		if v, ok := stats[k]; ok {
			fmt.Fprintf(cmd.OutOrStdout(), "%-18s %v\n", k+":", v)
		}
	}
	return nil
}
