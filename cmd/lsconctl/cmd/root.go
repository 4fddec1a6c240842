package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mezzanine-go/services/lscon/topology"
)

var (
	// Global flags
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "lsconctl",
	Short: "96boards low-speed connector bus on a simulated host",
	Long: `Attach a low-speed connector described by a YAML file or a device tree
blob to a simulated host, then add and remove mezzanine devices by hand.

Examples:
  lsconctl check --topology lscon.yaml            # Validate a topology
  lsconctl run --topology board.dtb --fdt         # Attach and open the control shell
  lsconctl supported                              # List built-in drivers`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// loadTopology reads path as YAML, or as a flattened device tree when fdt is
// set.
func loadTopology(path string, fdt bool) (*topology.Static, error) {
	if path == "" {
		return nil, errors.New("--topology is required")
	}
	if fdt {
		return topology.LoadFDT(path)
	}
	return topology.Load(path)
}
