package cmd

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Build-time variables, set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// minEngineVersion is the oldest connected-engine version this CLI build
// knows how to talk to.
const minEngineVersion = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display CLI version information",
	Long: `
Prints the CLI build version. If --addr reaches a running process, also
prints its engine version and warns when that engine predates the oldest
version this CLI build supports.
`,
	RunE: runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	fmt.Fprintf(cmd.OutOrStdout(), "heapkeeperctl %s (%s, built %s) %s/%s\n",
		normalizedVersion(Version), Commit, BuildDate, runtime.GOOS, runtime.GOARCH)

	addr, _ := cmd.Flags().GetString("addr")
	engineVersion, ok := connectedEngineVersion(addr)
	if !ok {
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "connected engine  %s\n", normalizedVersion(engineVersion))

	if warning := checkEngineVersion(engineVersion); warning != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "warning: %s\n", warning)
	}
	return nil
}

// connectedEngineVersion dials addr and reads its reported engine_version.
// Failures are silent: version has no engine to compare against most of the
// time, so a short timeout keeps the common offline case fast.
func connectedEngineVersion(addr string) (string, bool) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return "", false
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	req := &structpb.Struct{}
	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, "/heapkeeper.telemetry.Telemetry/GetStats", req, resp); err != nil {
		return "", false
	}
	v, ok := resp.Fields["engine_version"]
	if !ok {
		return "", false
	}
	return v.GetStringValue(), true
}

// checkEngineVersion compares engineVersion against minEngineVersion,
// returning a human-readable warning when the engine is too old, or an
// empty string when it satisfies the constraint (or can't be parsed).
func checkEngineVersion(engineVersion string) string {
	v, err := semver.NewVersion(engineVersion)
	if err != nil {
		return ""
	}
	c, err := semver.NewConstraint(">= " + minEngineVersion)
	if err != nil {
		return ""
	}
	if !c.Check(v) {
		return fmt.Sprintf("connected engine %s is older than the minimum supported version %s", v, minEngineVersion)
	}
	return ""
}

// normalizedVersion parses v as semver so malformed build-time strings fall
// back to the raw value instead of panicking.
func normalizedVersion(v string) string {
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return v
	}
	return "v" + parsed.String()
}
