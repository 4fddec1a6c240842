// services/lsbus/registry.go
package lsbus

import (
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"mezzanine-go/errcode"
)

// Driver binds to devices by compatible string or by name.
type Driver interface {
	// Name is matched against device names and listed by the "supported"
	// control. It must be unique within a registry.
	Name() string
	// Compatible lists topology identifiers, e.g. "96boards,secure96".
	Compatible() []string
	Probe(d *Device) error
	Remove(d *Device)
}

// Registry holds registered drivers and the current device bindings.
// A newly registered driver does not bind to devices already on the bus.
type Registry struct {
	mu      sync.RWMutex
	drivers []Driver // registration order
	bound   map[*Device]Driver
	log     *zap.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		bound: make(map[*Device]Driver),
		log:   zap.NewNop(),
	}
}

// SetLogger replaces the registry logger; nil restores the no-op logger.
func (r *Registry) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	r.mu.Lock()
	r.log = l
	r.mu.Unlock()
}

func (r *Registry) logger() *zap.Logger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.log
}

var defaultRegistry = NewRegistry()

// DefaultRegistry is the process-wide registry drivers add themselves to
// from init().
func DefaultRegistry() *Registry { return defaultRegistry }

// MustRegister adds drv to the default registry.
// It panics on duplicate registration to catch mistakes at start-up.
func MustRegister(drv Driver) {
	if err := defaultRegistry.Register(drv); err != nil {
		panic("lsbus: " + err.Error())
	}
}

// Register adds drv. It fails with DuplicateDriver if the name is taken.
func (r *Registry) Register(drv Driver) error {
	const op = "register driver"
	if drv == nil || drv.Name() == "" {
		return errcode.New(errcode.InvalidName, op, "empty driver name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexLocked(drv.Name()) >= 0 {
		return errcode.New(errcode.DuplicateDriver, op, drv.Name())
	}
	r.drivers = append(r.drivers, drv)
	r.log.Debug("driver registered", zap.String("driver", drv.Name()))
	return nil
}

// Unregister removes every binding to drv (calling its Remove) and then drops
// the driver. It fails with DriverNotFound if drv is not registered.
func (r *Registry) Unregister(drv Driver) error {
	const op = "unregister driver"
	if drv == nil {
		return errcode.New(errcode.DriverNotFound, op, "nil driver")
	}
	name := drv.Name()

	r.mu.RLock()
	if r.indexLocked(name) < 0 {
		r.mu.RUnlock()
		return errcode.New(errcode.DriverNotFound, op, name)
	}
	var devs []*Device
	for d, b := range r.bound {
		if b.Name() == name {
			devs = append(devs, d)
		}
	}
	r.mu.RUnlock()

	sort.Slice(devs, func(i, j int) bool { return devs[i].id < devs[j].id })
	for _, d := range devs {
		r.Unbind(d)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(name); i >= 0 {
		r.drivers = slices.Delete(r.drivers, i, i+1)
	}
	r.log.Debug("driver unregistered", zap.String("driver", name), zap.Int("unbound", len(devs)))
	return nil
}

func (r *Registry) indexLocked(name string) int {
	return slices.IndexFunc(r.drivers, func(d Driver) bool { return d.Name() == name })
}

// Lookup finds a driver by exact name.
func (r *Registry) Lookup(name string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexLocked(name); i >= 0 {
		return r.drivers[i], true
	}
	return nil, false
}

// Has reports whether a driver with exactly this name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names lists driver names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.drivers))
	for i, d := range r.drivers {
		out[i] = d.Name()
	}
	return out
}

// Match picks the driver for d: first by topology compatible string, then by
// exact name. It returns nil when nothing matches, which is not an error.
func (r *Registry) Match(d *Device) Driver {
	var compat []string
	if d.node != nil {
		compat = d.node.Compatible()
	}
	return r.match(compat, d.name)
}

// MatchNode reports the driver a device created for n with no explicit name
// would bind to.
func (r *Registry) MatchNode(n Node) Driver {
	if n == nil {
		return nil
	}
	return r.match(n.Compatible(), "")
}

func (r *Registry) match(compat []string, name string) Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, drv := range r.drivers {
		for _, c := range drv.Compatible() {
			if slices.Contains(compat, c) {
				return drv
			}
		}
	}
	if name == "" {
		return nil
	}
	for _, drv := range r.drivers {
		if drv.Name() == name {
			return drv
		}
	}
	return nil
}

// Bind matches d and probes the matched driver. A device that matches nothing
// stays unbound and Bind returns nil. A failed probe leaves d unbound and is
// returned as ProbeFailed wrapping the driver's error.
func (r *Registry) Bind(d *Device) error {
	if d.Bound() {
		return nil
	}
	drv := r.Match(d)
	if drv == nil {
		return nil
	}
	if err := drv.Probe(d); err != nil {
		d.setDriver(nil)
		r.logger().Warn("probe failed",
			zap.String("device", d.name), zap.String("driver", drv.Name()), zap.Error(err))
		return &errcode.E{C: errcode.ProbeFailed, Op: "bind", Msg: d.name + " -> " + drv.Name(), Err: err}
	}
	d.setDriver(drv)
	r.mu.Lock()
	r.bound[d] = drv
	r.mu.Unlock()
	return nil
}

// Unbind calls the bound driver's Remove and clears the binding. Unbinding an
// unbound device does nothing.
func (r *Registry) Unbind(d *Device) {
	drv := d.Driver()
	if drv == nil {
		return
	}
	drv.Remove(d)
	d.setDriver(nil)
	r.mu.Lock()
	delete(r.bound, d)
	r.mu.Unlock()
}

// BoundDevices returns the devices currently bound to any driver, by id.
func (r *Registry) BoundDevices() []*Device {
	r.mu.RLock()
	devs := maps.Keys(r.bound)
	r.mu.RUnlock()
	sort.Slice(devs, func(i, j int) bool { return devs[i].id < devs[j].id })
	return devs
}
