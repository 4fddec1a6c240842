// services/lsbus/device.go
package lsbus

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// Device is one mezzanine board (or injected virtual device) on the bus.
// It exists independently of whether a driver is bound to it.
type Device struct {
	id     int
	name   string
	node   Node // nil for injected devices
	owner  Owner
	bundle Bundle
	log    *zap.Logger

	mu     sync.Mutex
	driver Driver
	data   any
	lines  []*Line // held lines acquired through Acquire
}

func (d *Device) ID() int        { return d.id }
func (d *Device) Name() string   { return d.name }
func (d *Device) Node() Node     { return d.node }
func (d *Device) Owner() Owner   { return d.owner }
func (d *Device) Bundle() Bundle { return d.bundle }

// Logger returns a logger annotated with the device name.
func (d *Device) Logger() *zap.Logger { return d.log }

// Driver returns the bound driver, or nil.
func (d *Device) Driver() Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.driver
}

// Bound reports whether a driver is bound.
func (d *Device) Bound() bool { return d.Driver() != nil }

// SetDriverData stores per-binding driver state.
func (d *Device) SetDriverData(v any) {
	d.mu.Lock()
	d.data = v
	d.mu.Unlock()
}

func (d *Device) DriverData() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.data
}

// Lines returns the lines currently held on behalf of the device.
func (d *Device) Lines() []*Line {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.lines)
}

func (d *Device) setDriver(drv Driver) {
	d.mu.Lock()
	d.driver = drv
	if drv == nil {
		d.data = nil
	}
	d.mu.Unlock()
}

func (d *Device) trackLine(l *Line) {
	d.mu.Lock()
	d.lines = append(d.lines, l)
	d.mu.Unlock()
}

func (d *Device) untrackLine(l *Line) {
	d.mu.Lock()
	if i := slices.Index(d.lines, l); i >= 0 {
		d.lines = slices.Delete(d.lines, i, i+1)
	}
	d.mu.Unlock()
}

// releaseLines returns any line the driver left behind, newest first.
func (d *Device) releaseLines() int {
	left := d.Lines()
	for i := len(left) - 1; i >= 0; i-- {
		if err := left[i].Release(); err != nil {
			d.log.Warn("release gpio", zap.Stringer("pin", left[i].Pin()), zap.Error(err))
		}
	}
	return len(left)
}
