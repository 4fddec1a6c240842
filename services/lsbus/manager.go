// services/lsbus/manager.go
package lsbus

import (
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"mezzanine-go/bus"
	"mezzanine-go/errcode"
	"mezzanine-go/services/lsbus/internal/idpool"
	"mezzanine-go/types"
	"mezzanine-go/x/strx"
	"mezzanine-go/x/timex"
)

// Manager creates and destroys devices on one bus instance and owns the id
// pool. All devices under all connectors of the bus share the pool.
type Manager struct {
	reg    *Registry
	ids    *idpool.Pool
	log    *zap.Logger
	events *bus.Connection

	mu     sync.Mutex
	byName map[string]*Device
}

type ManagerOption func(*Manager)

func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithEvents publishes device lifecycle events on conn.
func WithEvents(conn *bus.Connection) ManagerOption {
	return func(m *Manager) { m.events = conn }
}

// WithMaxIDs bounds the id pool to [0, n).
func WithMaxIDs(n int) ManagerOption {
	return func(m *Manager) { m.ids = idpool.New(n) }
}

// NewManager returns a manager binding through reg. A nil reg selects the
// default registry.
func NewManager(reg *Registry, opts ...ManagerOption) *Manager {
	if reg == nil {
		reg = defaultRegistry
	}
	m := &Manager{
		reg:    reg,
		ids:    idpool.New(0),
		log:    zap.NewNop(),
		byName: make(map[string]*Device),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Registry() *Registry { return m.reg }

// Create allocates an id, names the device (name if non-empty, otherwise
// "mezzanine<id>") and binds it. A probe failure is returned together with the
// still-live, unbound device.
func (m *Manager) Create(owner Owner, name string, node Node) (*Device, error) {
	const op = "create device"
	id, err := m.ids.Get()
	if err != nil {
		return nil, err
	}
	name = strx.Coalesce(strx.Strip(name), "mezzanine"+strconv.Itoa(id))

	d := &Device{
		id:    id,
		name:  name,
		node:  node,
		owner: owner,
		log:   m.log.With(zap.String("device", name), zap.Int("id", id)),
	}
	if owner != nil {
		d.bundle = owner.Bundle()
	}

	m.mu.Lock()
	if _, dup := m.byName[name]; dup {
		m.mu.Unlock()
		m.ids.Put(id)
		return nil, errcode.New(errcode.DeviceExists, op, name)
	}
	m.byName[name] = d
	m.mu.Unlock()

	d.log.Info("create device")
	m.publish(types.ActionAdd, d, "", nil)

	if err := m.reg.Bind(d); err != nil {
		if n := d.releaseLines(); n > 0 {
			d.log.Warn("failed probe left gpio lines held", zap.Int("lines", n))
		}
		m.publish(types.ActionBind, d, "", err)
		return d, err
	}
	if drv := d.Driver(); drv != nil {
		d.log.Debug("bound", zap.String("driver", drv.Name()))
		m.publish(types.ActionBind, d, drv.Name(), nil)
	}
	return d, nil
}

// Destroy unbinds d, returns any lines its driver did not release and frees
// its id. Destroying a device this manager does not hold does nothing.
func (m *Manager) Destroy(d *Device) {
	if d == nil {
		return
	}
	m.mu.Lock()
	if cur, ok := m.byName[d.name]; !ok || cur != d {
		m.mu.Unlock()
		return
	}
	delete(m.byName, d.name)
	m.mu.Unlock()

	if drv := d.Driver(); drv != nil {
		m.reg.Unbind(d)
		m.publish(types.ActionUnbind, d, drv.Name(), nil)
	}
	if n := d.releaseLines(); n > 0 {
		d.log.Warn("driver left gpio lines held", zap.Int("lines", n))
	}
	m.ids.Put(d.id)
	d.log.Info("destroy device")
	m.publish(types.ActionRemove, d, "", nil)
}

// DestroyAll destroys every device owned by owner, newest first, and reports
// how many were destroyed.
func (m *Manager) DestroyAll(owner Owner) int {
	devs := m.Devices()
	n := 0
	for i := len(devs) - 1; i >= 0; i-- {
		if devs[i].owner == owner {
			m.Destroy(devs[i])
			n++
		}
	}
	return n
}

// Lookup finds a live device by display name.
func (m *Manager) Lookup(name string) (*Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byName[name]
	return d, ok
}

// Devices returns the live devices ordered by id.
func (m *Manager) Devices() []*Device {
	m.mu.Lock()
	out := make([]*Device, 0, len(m.byName))
	for _, d := range m.byName {
		out = append(out, d)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// OwnedBy returns the live devices of one owner ordered by id.
func (m *Manager) OwnedBy(owner Owner) []*Device {
	var out []*Device
	for _, d := range m.Devices() {
		if d.owner == owner {
			out = append(out, d)
		}
	}
	return out
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byName)
}

// DeviceTopic is where lifecycle events for a device are published.
func DeviceTopic(name string, act types.DeviceAction) bus.Topic {
	return bus.T("lsbus", "device", name, string(act))
}

func (m *Manager) publish(act types.DeviceAction, d *Device, driver string, err error) {
	if m.events == nil {
		return
	}
	ev := types.DeviceEvent{
		Action: act,
		Name:   d.name,
		ID:     d.id,
		Driver: driver,
		TS:     timex.NowMs(),
	}
	if d.node != nil {
		ev.Node = d.node.Name()
	}
	if err != nil {
		ev.Error = string(errcode.Of(err))
	}
	m.events.Publish(m.events.NewMessage(DeviceTopic(d.name, act), ev, false))
}
