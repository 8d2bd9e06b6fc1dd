package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "heapkeeperctl",
	Short: "heapkeeper control CLI",
	Long: `
heapkeeperctl inspects and drives a running heapkeeper-embedding process.

COMMANDS:
  stats     Show live allocation counters and pacer thresholds
  collect   Request a collection and wait for it to finish
  observe   Real-time monitoring dashboard (TUI)
  version   Display CLI version information
`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("addr", "127.0.0.1:7777", "telemetry server address")
}
