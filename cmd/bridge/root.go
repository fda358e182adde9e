// Package main is the bridge CLI entrypoint: serve, simulate, version
// subcommands (spec.md §6, "Exit codes"). Grounded on giantswarm-muster's
// cmd/root.go (package-level rootCmd, SetVersion/Execute, exit-code
// mapping in init()).
package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/bridgeerr"
)

var rootCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Unified OT-to-Zerobus edge bridge",
	Long: `bridge connects OPC-UA, MQTT, and Modbus field sources to a
Databricks Zerobus ingest endpoint, normalizing telemetry into a single
record schema enriched with ISA-95 hierarchy and vendor metadata.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSimulateCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a returned error to spec.md §6's process exit codes.
func exitCodeFor(err error) int {
	var be *bridgeerr.Error
	if errors.As(err, &be) {
		if code := bridgeerr.ExitCode(be.Reason); code != 0 {
			return code
		}
	}
	return 5 // fatal runtime, unclassified
}
