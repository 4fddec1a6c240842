package lscon

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mezzanine-go/bus"
	"mezzanine-go/errcode"
	"mezzanine-go/services/lsbus"
	"mezzanine-go/services/lsbus/mezzanines/secure96"
	"mezzanine-go/services/lsbus/sim"
	"mezzanine-go/services/lscon/topology"
	"mezzanine-go/types"
)

// countingDriver binds by name and counts callbacks.
type countingDriver struct {
	name     string
	compat   []string
	probeErr error

	mu      sync.Mutex
	probes  int
	removes int
}

func (d *countingDriver) Name() string         { return d.name }
func (d *countingDriver) Compatible() []string { return d.compat }

func (d *countingDriver) Probe(*lsbus.Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.probes++
	return d.probeErr
}

func (d *countingDriver) Remove(*lsbus.Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removes++
}

func (d *countingDriver) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.probes, d.removes
}

var stdLinks = map[string]string{"i2c0": "i2c@0", "i2c1": "i2c@1", "spi": "spi@0"}

type fixture struct {
	board *sim.Board
	reg   *lsbus.Registry
	blink *countingDriver
	sec   *secure96.Driver
	prov  Providers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		board: sim.NewLSBoard(nil),
		reg:   lsbus.NewRegistry(),
		blink: &countingDriver{name: "blinker"},
		sec:   secure96.New(secure96.WithSettle(0)),
	}
	for _, d := range []lsbus.Driver{f.sec, f.blink} {
		if err := f.reg.Register(d); err != nil {
			t.Fatal(err)
		}
	}
	f.prov = Providers{I2C: f.board.I2CProvider(), SPI: f.board.SPIProvider(), GPIO: f.board.GPIO()}
	return f
}

func (f *fixture) attach(t *testing.T, topo Topology, opts ...Option) (*Connector, error) {
	t.Helper()
	c, err := Attach("platform", topo, f.prov, append([]Option{WithRegistry(f.reg)}, opts...)...)
	if c != nil {
		t.Cleanup(func() { c.Detach() })
	}
	return c, err
}

func TestAttachDetachScenario(t *testing.T) {
	f := newFixture(t)
	topo := topology.New(t.Name(), stdLinks,
		topology.NewNode("secure96@0", secure96.Compatible),
		topology.NewNode("unknown@1", "acme,unknown"),
	)
	c, err := f.attach(t, topo)
	if err != nil {
		t.Fatal(err)
	}
	if Active() != c {
		t.Fatalf("connector not active")
	}
	if err := c.Inject("blinker\n"); err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, d := range c.Devices() {
		names = append(names, d.Name())
	}
	if diff := cmp.Diff([]string{"mezzanine0", "mezzanine1", "blinker"}, names); diff != "" {
		t.Fatalf("devices (-want +got):\n%s", diff)
	}
	devs := c.Devices()
	if devs[0].Driver() != lsbus.Driver(f.sec) || devs[1].Bound() || devs[2].Driver() != lsbus.Driver(f.blink) {
		t.Fatalf("bindings wrong")
	}

	j := f.board.Journal()
	mark := j.Len()
	if err := c.Detach(); err != nil {
		t.Fatalf("detach: %v", err)
	}
	after := j.Since(mark)
	var puts []string
	firstPut := -1
	for i, e := range after {
		if strings.HasPrefix(e, "put ") {
			puts = append(puts, e)
			if firstPut < 0 {
				firstPut = i
			}
		} else if firstPut >= 0 {
			t.Fatalf("%q released after the bundle", e)
		}
	}
	if diff := cmp.Diff([]string{"put spi@0", "put i2c@1", "put i2c@0"}, puts); diff != "" {
		t.Fatalf("bundle release order (-want +got):\n%s", diff)
	}
	if _, rm := f.blink.counts(); rm != 1 {
		t.Fatalf("blinker removed %d times", rm)
	}
	if f.board.GPIO().HeldCount() != 0 || f.board.HeldTotal() != 0 {
		t.Fatalf("resources leaked")
	}
	if c.Manager().Len() != 0 || Active() == c {
		t.Fatalf("state left after detach")
	}
	if err := c.Detach(); err != nil {
		t.Fatalf("second detach: %v", err)
	}
}

func TestAttachLinkMissingRollsBack(t *testing.T) {
	f := newFixture(t)
	topo := topology.New(t.Name(), map[string]string{"i2c0": "i2c@0", "spi": "spi@0"})
	c, err := f.attach(t, topo)
	if c != nil || !errors.Is(err, errcode.LinkMissing) {
		t.Fatalf("got %v, %v", c, err)
	}
	if diff := cmp.Diff([]string{"get i2c@0", "put i2c@0"}, f.board.Journal().Entries()); diff != "" {
		t.Fatalf("journal (-want +got):\n%s", diff)
	}
	if _, ok := Lookup(t.Name()); ok {
		t.Fatalf("failed attach left the connector active")
	}
}

func TestAttachUnknownProviderLinkIsMissing(t *testing.T) {
	f := newFixture(t)
	topo := topology.New(t.Name(), map[string]string{"i2c0": "i2c@0", "i2c1": "nowhere", "spi": "spi@0"})
	if _, err := f.attach(t, topo); !errors.Is(err, errcode.LinkMissing) {
		t.Fatalf("got %v", err)
	}
	if f.board.HeldTotal() != 0 {
		t.Fatalf("held %d", f.board.HeldTotal())
	}
}

func TestAttachNilProvider(t *testing.T) {
	f := newFixture(t)
	f.prov.SPI = nil
	if _, err := f.attach(t, topology.New(t.Name(), stdLinks)); !errors.Is(err, errcode.LinkMissing) {
		t.Fatalf("got %v", err)
	}
	if f.board.HeldTotal() != 0 {
		t.Fatalf("held %d", f.board.HeldTotal())
	}
}

func TestAttachNotReadyThenRetry(t *testing.T) {
	f := newFixture(t)
	f.board.ReadyAfter("spi@0", 1)
	topo := topology.New(t.Name(), stdLinks)

	c, err := f.attach(t, topo)
	if c != nil || !errors.Is(err, errcode.LinkNotReady) {
		t.Fatalf("got %v, %v", c, err)
	}
	want := []string{"get i2c@0", "get i2c@1", "put i2c@1", "put i2c@0"}
	if diff := cmp.Diff(want, f.board.Journal().Entries()); diff != "" {
		t.Fatalf("journal (-want +got):\n%s", diff)
	}
	if f.board.HeldTotal() != 0 {
		t.Fatalf("bundle partly held after LinkNotReady")
	}

	c, err = f.attach(t, topo)
	if err != nil || c == nil {
		t.Fatalf("retry: %v", err)
	}
	if !c.Bundle().Complete() {
		t.Fatalf("bundle incomplete")
	}
}

func TestAttachBusy(t *testing.T) {
	f := newFixture(t)
	topo := topology.New(t.Name(), stdLinks)
	first, err := f.attach(t, topo)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.attach(t, topo); !errors.Is(err, errcode.ConnectorBusy) {
		t.Fatalf("want ConnectorBusy, got %v", err)
	}
	if got, _ := Lookup(t.Name()); got != first {
		t.Fatalf("busy attach replaced the active connector")
	}
	if f.board.Held("i2c@0") != 1 {
		t.Fatalf("busy attach touched the providers")
	}
}

func TestAttachReportsChildErrors(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	bad := &countingDriver{name: "bad", compat: []string{"acme,bad"}, probeErr: boom}
	f.reg.Register(bad)
	topo := topology.New(t.Name(), stdLinks,
		topology.NewNode("a", "acme,bad"),
		topology.NewNode("b", "acme,none"),
		topology.NewNode("c", "acme,bad"),
	)
	c, err := f.attach(t, topo)
	if c == nil {
		t.Fatalf("partial attach returned no connector: %v", err)
	}
	var ae *AttachError
	if !errors.As(err, &ae) {
		t.Fatalf("want *AttachError, got %v", err)
	}
	kids := ae.Children()
	if len(kids) != 2 || kids[0].Node != "a" || kids[1].Node != "c" {
		t.Fatalf("children %+v", kids)
	}
	if !errors.Is(err, boom) || !errors.Is(err, errcode.ProbeFailed) {
		t.Fatalf("cause lost: %v", err)
	}
	if len(c.Devices()) != 3 {
		t.Fatalf("devices = %d", len(c.Devices()))
	}
	if !c.Bundle().Complete() || Active() != c {
		t.Fatalf("partial attach not kept")
	}
}

func TestInjectEject(t *testing.T) {
	f := newFixture(t)
	c, err := f.attach(t, topology.New(t.Name(), stdLinks, topology.NewNode("x", "acme,none")))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Inject("  secure96\n"); err != nil {
		t.Fatal(err)
	}
	d, ok := c.Manager().Lookup("secure96")
	if !ok || d.Driver() != lsbus.Driver(f.sec) {
		t.Fatalf("secure96 not bound")
	}
	if _, ok := f.sec.Board(d); !ok {
		t.Fatalf("probe did not run")
	}
	id := d.ID()

	if err := c.Eject("secure96\n"); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.sec.Board(d); ok {
		t.Fatalf("remove did not run")
	}
	if f.board.GPIO().HeldCount() != 0 {
		t.Fatalf("lines leaked")
	}
	if err := c.Inject("blinker"); err != nil {
		t.Fatal(err)
	}
	if b, _ := c.Manager().Lookup("blinker"); b.ID() != id {
		t.Fatalf("id %d not reused (got %d)", id, b.ID())
	}
}

func TestInjectEjectUnknownAreNoops(t *testing.T) {
	f := newFixture(t)
	c, err := f.attach(t, topology.New(t.Name(), stdLinks, topology.NewNode("x")))
	if err != nil {
		t.Fatal(err)
	}
	before := len(c.Devices())
	if err := c.Inject("unknown-name\n"); err != nil {
		t.Fatal(err)
	}
	if err := c.Eject("unknown-name"); err != nil {
		t.Fatal(err)
	}
	if err := c.Inject("   "); err != nil {
		t.Fatal(err)
	}
	if len(c.Devices()) != before {
		t.Fatalf("device count changed")
	}
}

func TestInjectDuplicateName(t *testing.T) {
	f := newFixture(t)
	c, err := f.attach(t, topology.New(t.Name(), stdLinks))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Inject("blinker"); err != nil {
		t.Fatal(err)
	}
	if err := c.Inject("blinker"); !errors.Is(err, errcode.DeviceExists) {
		t.Fatalf("want DeviceExists, got %v", err)
	}
	if p, _ := f.blink.counts(); p != 1 {
		t.Fatalf("probe ran %d times", p)
	}
}

func TestControlsAfterDetach(t *testing.T) {
	f := newFixture(t)
	c, err := f.attach(t, topology.New(t.Name(), stdLinks))
	if err != nil {
		t.Fatal(err)
	}
	if got := Supported(); got != "secure96\nblinker\n" {
		t.Fatalf("Supported = %q", got)
	}
	if err := Inject("blinker"); err != nil {
		t.Fatal(err)
	}
	if err := Eject("blinker"); err != nil {
		t.Fatal(err)
	}
	c.Detach()
	if err := c.Inject("blinker"); !errors.Is(err, errcode.NotAttached) {
		t.Fatalf("inject after detach: %v", err)
	}
	if Active() == nil {
		if err := Inject("blinker"); !errors.Is(err, errcode.NotAttached) {
			t.Fatalf("want NotAttached, got %v", err)
		}
		if err := Eject("blinker"); !errors.Is(err, errcode.NotAttached) {
			t.Fatalf("want NotAttached, got %v", err)
		}
		if !strings.Contains(Supported(), secure96.Name+"\n") {
			t.Fatalf("fallback list lacks secure96: %q", Supported())
		}
	}
}

func TestSharedManagerKeepsIDsUnique(t *testing.T) {
	f := newFixture(t)
	mgr := lsbus.NewManager(f.reg)
	other := sim.NewLSBoard(nil)
	a, err := f.attach(t, topology.New(t.Name()+"-a", stdLinks, topology.NewNode("n")), WithManager(mgr))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Attach("p2", topology.New(t.Name()+"-b", stdLinks, topology.NewNode("n")),
		Providers{I2C: other.I2CProvider(), SPI: other.SPIProvider(), GPIO: other.GPIO()},
		WithManager(mgr))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Detach()
	if a.Devices()[0].Name() != "mezzanine0" || b.Devices()[0].Name() != "mezzanine1" {
		t.Fatalf("names %s %s", a.Devices()[0].Name(), b.Devices()[0].Name())
	}
	if Active() != b {
		t.Fatalf("latest connector not active")
	}
	if diff := cmp.Diff([]string{t.Name() + "-a", t.Name() + "-b"}, Connectors()); diff != "" {
		t.Fatalf("connectors (-want +got):\n%s", diff)
	}
	a.Detach()
	if mgr.Len() != 1 {
		t.Fatalf("detaching a touched b: %d devices left", mgr.Len())
	}
}

func TestStateEvents(t *testing.T) {
	f := newFixture(t)
	b := bus.NewBus(8)
	conn := b.NewConnection("lscon")
	c, err := f.attach(t, topology.New(t.Name(), stdLinks, topology.NewNode("x")), WithEvents(conn))
	if err != nil {
		t.Fatal(err)
	}

	sub := b.NewConnection("test").Subscribe(StateTopic(t.Name()))
	expect := func(level types.ConnectorLevel, devices int) {
		t.Helper()
		select {
		case m := <-sub.Channel():
			st := m.Payload.(types.ConnectorState)
			if st.Level != level || st.Devices != devices || !m.Retained {
				t.Fatalf("state %+v", st)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %s state", level)
		}
	}
	expect(types.ConnectorAttached, 1)
	c.Detach()
	expect(types.ConnectorDetached, 0)
}
