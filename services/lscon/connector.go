// services/lscon/connector.go
package lscon

import (
	"errors"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mezzanine-go/bus"
	"mezzanine-go/errcode"
	"mezzanine-go/services/lsbus"
	"mezzanine-go/types"
	"mezzanine-go/x/strx"
	"mezzanine-go/x/timex"
)

// PlatformCompatible identifies a low-speed connector node in a device tree.
const PlatformCompatible = "96boards,low-speed-connector"

// Link names a connector resolves, in resolution order.
const (
	LinkI2C0 = "i2c0"
	LinkI2C1 = "i2c1"
	LinkSPI  = "spi"
)

// Topology describes one connector: its upstream links and its statically
// declared mezzanines.
type Topology interface {
	Name() string
	Link(name string) (lsbus.LinkRef, bool)
	Children() []lsbus.Node
}

// Providers are the host services the connector draws its buses and lines
// from.
type Providers struct {
	I2C  lsbus.I2CProvider
	SPI  lsbus.SPIProvider
	GPIO lsbus.GPIOProvider
}

// Connector is one attached low-speed header. It owns the bus bundle lent to
// its devices and is the lsbus.Owner of each of them.
type Connector struct {
	name     string
	platform any
	topo     Topology
	prov     Providers
	mgr      *lsbus.Manager
	log      *zap.Logger
	events   *bus.Connection

	// mu serialises attach, detach, inject and eject on this connector.
	mu       sync.Mutex
	bundle   lsbus.Bundle
	detached bool
}

var _ lsbus.Owner = (*Connector)(nil)

type config struct {
	log        *zap.Logger
	reg        *lsbus.Registry
	mgr        *lsbus.Manager
	events     *bus.Connection
	maxDevices int
}

type Option func(*config)

func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRegistry selects the driver registry; the default registry otherwise.
func WithRegistry(r *lsbus.Registry) Option { return func(c *config) { c.reg = r } }

// WithManager shares a device manager (and its id pool) between connectors.
// It takes precedence over WithRegistry, WithEvents and WithMaxDevices.
func WithManager(m *lsbus.Manager) Option { return func(c *config) { c.mgr = m } }

// WithEvents publishes device and connector state on conn.
func WithEvents(conn *bus.Connection) Option { return func(c *config) { c.events = conn } }

// WithMaxDevices bounds the device id pool.
func WithMaxDevices(n int) Option { return func(c *config) { c.maxDevices = n } }

// Attach resolves i2c0, i2c1 and spi from topo, registers the connector as
// active and creates a device per child node.
//
// A link that is not declared, or whose provider refuses it, fails with
// LinkMissing. A provider that has not probed yet fails with LinkNotReady and
// the caller should retry later. On either error nothing stays acquired.
//
// Child failures do not fail the attach: the connector is returned together
// with an *AttachError listing them.
func Attach(platform any, topo Topology, prov Providers, opts ...Option) (*Connector, error) {
	const op = "attach"
	cfg := config{log: zap.NewNop(), reg: lsbus.DefaultRegistry()}
	for _, o := range opts {
		o(&cfg)
	}
	if topo == nil {
		return nil, errcode.New(errcode.InvalidName, op, "nil topology")
	}
	name := strx.Coalesce(topo.Name(), "lscon")
	log := cfg.log.With(zap.String("connector", name))

	mgr := cfg.mgr
	if mgr == nil {
		mgr = lsbus.NewManager(cfg.reg,
			lsbus.WithLogger(log),
			lsbus.WithEvents(cfg.events),
			lsbus.WithMaxIDs(cfg.maxDevices))
	}
	c := &Connector{
		name:     name,
		platform: platform,
		topo:     topo,
		prov:     prov,
		mgr:      mgr,
		log:      log,
		events:   cfg.events,
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var u lsbus.Unwinder
	defer u.Unwind()

	if err := setActive(c); err != nil {
		return nil, err
	}
	u.Push("active", func() { clearActive(c) })

	i2c0, err := resolve[lsbus.I2CAdapter](topo, LinkI2C0, prov.I2C)
	if err != nil {
		log.Warn("resolve link", zap.String("link", LinkI2C0), zap.Error(err))
		return nil, err
	}
	u.Push(LinkI2C0, func() { c.put(LinkI2C0, prov.I2C.Put(i2c0)) })

	i2c1, err := resolve[lsbus.I2CAdapter](topo, LinkI2C1, prov.I2C)
	if err != nil {
		log.Warn("resolve link", zap.String("link", LinkI2C1), zap.Error(err))
		return nil, err
	}
	u.Push(LinkI2C1, func() { c.put(LinkI2C1, prov.I2C.Put(i2c1)) })

	spi, err := resolve[lsbus.SPIController](topo, LinkSPI, prov.SPI)
	if err != nil {
		log.Warn("resolve link", zap.String("link", LinkSPI), zap.Error(err))
		return nil, err
	}
	u.Push(LinkSPI, func() { c.put(LinkSPI, prov.SPI.Put(spi)) })

	c.bundle = lsbus.Bundle{I2C0: i2c0, I2C1: i2c1, SPI: spi}
	u.Disarm()

	var errs error
	for _, n := range topo.Children() {
		if _, err := c.mgr.Create(c, "", n); err != nil {
			log.Error("populate child", zap.String("node", n.Name()), zap.Error(err))
			errs = multierr.Append(errs, &ChildError{Node: n.Name(), Err: err})
		}
	}
	log.Info("attached", zap.Int("devices", len(c.mgr.OwnedBy(c))))
	c.publishState(types.ConnectorAttached, len(multierr.Errors(errs)))
	if errs != nil {
		return c, &AttachError{Connector: name, Err: errs}
	}
	return c, nil
}

type getter[T any] interface {
	Get(ref lsbus.LinkRef) (T, error)
}

func resolve[T any](topo Topology, link string, p getter[T]) (T, error) {
	const op = "attach"
	var zero T
	ref, ok := topo.Link(link)
	if !ok || p == nil {
		return zero, errcode.New(errcode.LinkMissing, op, "no "+link+" link")
	}
	v, err := p.Get(ref)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, errcode.LinkNotReady) {
		return zero, &errcode.E{C: errcode.LinkNotReady, Op: op, Msg: link, Err: err}
	}
	return zero, &errcode.E{C: errcode.LinkMissing, Op: op, Msg: link, Err: err}
}

func (c *Connector) put(link string, err error) {
	if err != nil {
		c.log.Warn("release link", zap.String("link", link), zap.Error(err))
	}
}

func (c *Connector) Name() string { return c.name }

// Platform returns the opaque platform handle given to Attach.
func (c *Connector) Platform() any { return c.platform }

func (c *Connector) Topology() Topology { return c.topo }

// Bundle returns the buses lent to child devices. It is empty once detached.
func (c *Connector) Bundle() lsbus.Bundle { return c.bundle }

func (c *Connector) GPIO() lsbus.GPIOProvider { return c.prov.GPIO }

func (c *Connector) Manager() *lsbus.Manager { return c.mgr }

// Devices returns this connector's live devices by id.
func (c *Connector) Devices() []*lsbus.Device { return c.mgr.OwnedBy(c) }

// Attached reports whether Detach has not run yet.
func (c *Connector) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.detached
}

// ListSupported returns registered driver names in registration order.
func (c *Connector) ListSupported() []string { return c.mgr.Registry().Names() }

// Inject creates a device named after buf (surrounding whitespace trimmed).
// A name that no driver carries is accepted and ignored.
func (c *Connector) Inject(buf string) error {
	name := strx.Strip(buf)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return errcode.New(errcode.NotAttached, "inject", c.name)
	}
	if !c.mgr.Registry().Has(name) {
		c.log.Debug("inject: no such driver", zap.String("name", name))
		return nil
	}
	c.log.Info("create " + name + " device")
	_, err := c.mgr.Create(c, name, nil)
	return err
}

// Eject destroys this connector's device named buf. An unknown name is
// ignored.
func (c *Connector) Eject(buf string) error {
	name := strx.Strip(buf)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return errcode.New(errcode.NotAttached, "eject", c.name)
	}
	d, ok := c.mgr.Lookup(name)
	if !ok || d.Owner() != lsbus.Owner(c) {
		c.log.Debug("eject: no such device", zap.String("name", name))
		return nil
	}
	c.log.Info("destroy " + name + " device")
	c.mgr.Destroy(d)
	return nil
}

// Detach destroys every child and then releases spi, i2c1 and i2c0 before
// giving up the active slot. Every step runs even if an earlier one failed;
// the failures are returned together. Detaching twice does nothing.
func (c *Connector) Detach() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return nil
	}
	c.detached = true

	n := c.mgr.DestroyAll(c)

	var errs error
	if c.bundle.SPI != nil {
		errs = multierr.Append(errs, c.prov.SPI.Put(c.bundle.SPI))
	}
	if c.bundle.I2C1 != nil {
		errs = multierr.Append(errs, c.prov.I2C.Put(c.bundle.I2C1))
	}
	if c.bundle.I2C0 != nil {
		errs = multierr.Append(errs, c.prov.I2C.Put(c.bundle.I2C0))
	}
	c.bundle = lsbus.Bundle{}
	clearActive(c)

	c.log.Info("detached", zap.Int("destroyed", n), zap.Error(errs))
	c.publishState(types.ConnectorDetached, len(multierr.Errors(errs)))
	return errs
}

// StateTopic is where a connector's retained state is published.
func StateTopic(name string) bus.Topic { return bus.T("lsbus", "connector", name, "state") }

func (c *Connector) publishState(level types.ConnectorLevel, errs int) {
	if c.events == nil {
		return
	}
	st := types.ConnectorState{
		Name:    c.name,
		Level:   level,
		Devices: len(c.mgr.OwnedBy(c)),
		Errors:  errs,
		TS:      timex.NowMs(),
	}
	c.events.Publish(c.events.NewMessage(StateTopic(c.name), st, true))
}
