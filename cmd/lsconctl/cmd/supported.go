package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mezzanine-go/services/lscon"
	_ "mezzanine-go/services/lsbus/mezzanines/secure96"
)

var supportedCmd = &cobra.Command{
	Use:   "supported",
	Short: "List the built-in mezzanine drivers",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), lscon.Supported())
	},
}

func init() {
	rootCmd.AddCommand(supportedCmd)
}
