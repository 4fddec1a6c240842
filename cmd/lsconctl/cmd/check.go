package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"mezzanine-go/errcode"
	"mezzanine-go/services/lscon"
	"mezzanine-go/services/lsbus"
)

var (
	checkTopology string
	checkFDT      bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Load a topology and report its links and mezzanines",
	Long: `Load a connector topology and check that it declares every link the
connector resolves (i2c0, i2c1 and spi).

Examples:
  lsconctl check --topology lscon.yaml
  lsconctl check --topology board.dtb --fdt`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVarP(&checkTopology, "topology", "t", "", "topology file")
	checkCmd.Flags().BoolVar(&checkFDT, "fdt", false, "topology is a flattened device tree blob")
}

func runCheck(cmd *cobra.Command, args []string) error {
	topo, err := loadTopology(checkTopology, checkFDT)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "connector %s\n", topo.Name())

	var errs error
	for _, link := range []string{lscon.LinkI2C0, lscon.LinkI2C1, lscon.LinkSPI} {
		ref, ok := topo.Link(link)
		if !ok {
			errs = multierr.Append(errs, errcode.New(errcode.LinkMissing, "check", link))
			ref = "-"
		}
		fmt.Fprintf(out, "  %-5s %s\n", link, ref)
	}
	reg := lsbus.DefaultRegistry()
	for _, n := range topo.Children() {
		drv := "-"
		if d := reg.MatchNode(n); d != nil {
			drv = d.Name()
		}
		fmt.Fprintf(out, "  mezzanine %s %v driver %s\n", n.Name(), n.Compatible(), drv)
	}
	return errs
}
