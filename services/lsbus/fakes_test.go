package lsbus

import (
	"errors"
	"sync"
)

// ---- topology node ----

type fakeNode struct {
	name   string
	compat []string
}

func (n fakeNode) Name() string         { return n.name }
func (n fakeNode) Compatible() []string { return n.compat }

// ---- gpio provider ----

type fakeGPIO struct {
	mu     sync.Mutex
	held   map[Pin]string
	levels map[Pin]bool
	closed []Pin
	fail   map[Pin]error
}

func newFakeGPIO() *fakeGPIO {
	return &fakeGPIO{held: map[Pin]string{}, levels: map[Pin]bool{}, fail: map[Pin]error{}}
}

var errBusy = errors.New("line busy")

func (g *fakeGPIO) Request(pin Pin, label string, mode Mode) (GPIOHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail[pin]; err != nil {
		return nil, err
	}
	if _, ok := g.held[pin]; ok {
		return nil, errBusy
	}
	g.held[pin] = label
	g.levels[pin] = mode == OutHigh
	return &fakeHandle{g: g, pin: pin}, nil
}

func (g *fakeGPIO) isHeld(p Pin) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[p]
	return ok
}

type fakeHandle struct {
	g   *fakeGPIO
	pin Pin
}

func (h *fakeHandle) Set(v bool) {
	h.g.mu.Lock()
	h.g.levels[h.pin] = v
	h.g.mu.Unlock()
}

func (h *fakeHandle) Get() bool {
	h.g.mu.Lock()
	defer h.g.mu.Unlock()
	return h.g.levels[h.pin]
}

func (h *fakeHandle) Close() error {
	h.g.mu.Lock()
	defer h.g.mu.Unlock()
	delete(h.g.held, h.pin)
	h.g.closed = append(h.g.closed, h.pin)
	return nil
}

// ---- owner ----

type fakeOwner struct {
	name string
	gpio GPIOProvider
}

func (o *fakeOwner) Name() string       { return o.name }
func (o *fakeOwner) Bundle() Bundle     { return Bundle{} }
func (o *fakeOwner) GPIO() GPIOProvider { return o.gpio }

// ---- driver ----

type fakeDriver struct {
	name     string
	compat   []string
	probeErr error
	probe    func(d *Device) error

	mu      sync.Mutex
	probed  []string
	removed []string
}

func (f *fakeDriver) Name() string         { return f.name }
func (f *fakeDriver) Compatible() []string { return f.compat }

func (f *fakeDriver) Probe(d *Device) error {
	f.mu.Lock()
	f.probed = append(f.probed, d.Name())
	f.mu.Unlock()
	if f.probe != nil {
		return f.probe(d)
	}
	return f.probeErr
}

func (f *fakeDriver) Remove(d *Device) {
	f.mu.Lock()
	f.removed = append(f.removed, d.Name())
	f.mu.Unlock()
}

func (f *fakeDriver) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.probed), len(f.removed)
}
