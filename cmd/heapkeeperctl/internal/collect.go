package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Request a collection on a running process and wait for it to finish",
	RunE:  runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("waiting for collection"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWriter(cmd.OutOrStdout()),
		progressbar.OptionClearOnFinish(),
	)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()

	stats, err := collectRemote(context.Background(), addr)
	close(done)
	_ = bar.Finish()
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "collection complete")
	for _, k := range []string{"live_allocations", "bytes_threshold", "calls_threshold", "generation", "auto_collect"} {
		if v, ok := stats[k]; ok {
			fmt.Fprintf(cmd.OutOrStdout(), "%-18s %v\n", k+":", v)
		}
	}
	return nil
}
