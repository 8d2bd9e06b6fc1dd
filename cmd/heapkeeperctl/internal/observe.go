package cmd

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/heapkeeper/heapkeeper/cmd/heapkeeperctl/observe"
	"github.com/spf13/cobra"
)

var observeCmd = &cobra.Command{
	Use:   "observe",
	Short: "Real-time monitoring dashboard for a running heapkeeper process",
	Long: `Observe polls a running heapkeeper process's telemetry server once a
second and renders live allocation counters, pacer thresholds, and a
short sparkline of the live-allocation count.

Requires telemetry to be enabled on the target process (a non-empty
TelemetryAddr in its config).`,
	Run: runObserve,
}

func init() {
	rootCmd.AddCommand(observeCmd)
}

func runObserve(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("addr")

	model := observe.NewModel(addr)
	p := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Printf("error running observe: %v\n", err)
		os.Exit(1)
	}
}
