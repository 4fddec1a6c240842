// services/lscon/active.go
package lscon

import (
	"sync"

	"golang.org/x/exp/slices"

	"mezzanine-go/errcode"
)

// Process-wide registry of attached connectors. An entry is set when Attach
// starts and cleared by Detach or by a failed Attach. The most recently
// attached connector is the one the bus controls act on.
var active = struct {
	sync.RWMutex
	byName map[string]*Connector
	order  []string // attach order
}{byName: make(map[string]*Connector)}

func setActive(c *Connector) error {
	active.Lock()
	defer active.Unlock()
	if _, busy := active.byName[c.name]; busy {
		return errcode.New(errcode.ConnectorBusy, "attach", c.name+" already attached")
	}
	active.byName[c.name] = c
	active.order = append(active.order, c.name)
	return nil
}

func clearActive(c *Connector) {
	active.Lock()
	defer active.Unlock()
	if active.byName[c.name] != c {
		return
	}
	delete(active.byName, c.name)
	if i := slices.Index(active.order, c.name); i >= 0 {
		active.order = slices.Delete(active.order, i, i+1)
	}
}

// Active returns the most recently attached connector still attached, or nil.
func Active() *Connector {
	active.RLock()
	defer active.RUnlock()
	if len(active.order) == 0 {
		return nil
	}
	return active.byName[active.order[len(active.order)-1]]
}

// Lookup returns the attached connector called name.
func Lookup(name string) (*Connector, bool) {
	active.RLock()
	defer active.RUnlock()
	c, ok := active.byName[name]
	return c, ok
}

// Connectors lists attached connector names in attach order.
func Connectors() []string {
	active.RLock()
	defer active.RUnlock()
	return slices.Clone(active.order)
}
