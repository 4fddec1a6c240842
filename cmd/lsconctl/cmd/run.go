package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mezzanine-go/bus"
	"mezzanine-go/errcode"
	"mezzanine-go/services/lsbus"
	"mezzanine-go/services/lsbus/mezzanines/secure96"
	"mezzanine-go/services/lsbus/sim"
	"mezzanine-go/services/lscon"
)

var (
	runTopology   string
	runFDT        bool
	retryInterval time.Duration
	retries       int
	settle        time.Duration
	warmup        int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Attach a simulated connector and read control commands from stdin",
	Long: `Attach the connector described by --topology to a simulated host and
read control lines from stdin:

  supported        list drivers
  inject NAME      create a device bound by name
  eject NAME       destroy it again
  devices          list live devices
  quit             detach and exit

Attach is retried while a bus reports it is not ready yet.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runTopology, "topology", "t", "", "topology file")
	runCmd.Flags().BoolVar(&runFDT, "fdt", false, "topology is a flattened device tree blob")
	runCmd.Flags().DurationVar(&retryInterval, "retry-interval", 100*time.Millisecond, "delay between attach attempts")
	runCmd.Flags().IntVar(&retries, "retries", 10, "attach attempts while a link is not ready")
	runCmd.Flags().DurationVar(&settle, "settle", secure96.DefaultSettle, "secure96 TPM reset settle time")
	runCmd.Flags().IntVar(&warmup, "warmup", 0, "attach attempts the simulated buses refuse as not ready")
}

func runRun(cmd *cobra.Command, args []string) error {
	topo, err := loadTopology(runTopology, runFDT)
	if err != nil {
		return err
	}
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	board := simBoard(topo)
	reg := lsbus.NewRegistry()
	reg.SetLogger(log)
	if err := reg.Register(secure96.New(secure96.WithSettle(settle), secure96.WithLogger(log))); err != nil {
		return err
	}

	b := bus.NewBus(32)
	go logEvents(ctx, log, b.NewConnection("lsconctl").Subscribe(bus.T("lsbus", "#")))

	prov := lscon.Providers{I2C: board.I2CProvider(), SPI: board.SPIProvider(), GPIO: board.GPIO()}
	c, err := attachWithRetry(ctx, log, func() (*lscon.Connector, error) {
		return lscon.Attach(board, topo, prov,
			lscon.WithLogger(log),
			lscon.WithRegistry(reg),
			lscon.WithEvents(b.NewConnection("lscon")))
	})
	if c == nil {
		return err
	}
	var ae *lscon.AttachError
	if errors.As(err, &ae) {
		for _, ce := range ae.Children() {
			fmt.Fprintf(cmd.ErrOrStderr(), "mezzanine %s: %v\n", ce.Node, ce.Err)
		}
	}
	defer func() {
		if err := c.Detach(); err != nil {
			log.Error("detach", zap.Error(err))
		}
	}()

	return shell(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), c)
}

// simBoard declares one simulated bus per link the topology names.
func simBoard(topo lscon.Topology) *sim.Board {
	board := sim.NewBoard(nil)
	for _, link := range []string{lscon.LinkI2C0, lscon.LinkI2C1, lscon.LinkSPI} {
		ref, ok := topo.Link(link)
		if !ok {
			continue
		}
		if link == lscon.LinkSPI {
			board.AddSPI(ref)
		} else {
			board.AddI2C(ref)
		}
		if warmup > 0 {
			board.ReadyAfter(ref, warmup)
		}
	}
	return board
}

// attachWithRetry repeats attach while it fails with LinkNotReady.
func attachWithRetry(ctx context.Context, log *zap.Logger, attach func() (*lscon.Connector, error)) (*lscon.Connector, error) {
	for attempt := 1; ; attempt++ {
		c, err := attach()
		if !errors.Is(err, errcode.LinkNotReady) || attempt >= retries {
			return c, err
		}
		log.Info("link not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("interval", retryInterval),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

func logEvents(ctx context.Context, log *zap.Logger, sub *bus.Subscription) {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-sub.Channel():
			log.Debug("event",
				zap.String("topic", strings.Join(m.Topic, "/")),
				zap.Any("payload", m.Payload),
				zap.Bool("retained", m.Retained))
		}
	}
}

func shell(ctx context.Context, in io.Reader, out io.Writer, c *lscon.Connector) error {
	sc := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		words, err := shlex.Split(sc.Text())
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			fmt.Fprint(out, "> ")
			continue
		}
		quit, err := runLine(out, c, words)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
		}
		if quit {
			return nil
		}
		fmt.Fprint(out, "> ")
	}
	return sc.Err()
}

func runLine(out io.Writer, c *lscon.Connector, words []string) (quit bool, err error) {
	if len(words) == 0 {
		return false, nil
	}
	arg := func() (string, error) {
		if len(words) != 2 {
			return "", fmt.Errorf("usage: %s NAME", words[0])
		}
		return words[1], nil
	}
	switch words[0] {
	case "supported":
		fmt.Fprint(out, lscon.Supported())
	case "inject":
		name, err := arg()
		if err != nil {
			return false, err
		}
		return false, lscon.Inject(name)
	case "eject":
		name, err := arg()
		if err != nil {
			return false, err
		}
		return false, lscon.Eject(name)
	case "devices":
		for _, d := range c.Devices() {
			drv := "-"
			if dr := d.Driver(); dr != nil {
				drv = dr.Name()
			}
			fmt.Fprintf(out, "%d\t%s\t%s\n", d.ID(), d.Name(), drv)
		}
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q", words[0])
	}
	return false, nil
}
