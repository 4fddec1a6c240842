// services/lsbus/sim/gpio.go
package sim

import (
	"sync"

	"mezzanine-go/errcode"
	"mezzanine-go/services/lsbus"
)

type chipLine struct {
	held  bool
	label string
	mode  lsbus.Mode
	level bool
}

// Chip is a twelve-line GPIO provider for one connector header.
type Chip struct {
	j *Journal

	mu    sync.Mutex
	lines [lsbus.NumPins]chipLine
	fail  map[lsbus.Pin]error
}

var _ lsbus.GPIOProvider = (*Chip)(nil)

func NewChip(j *Journal) *Chip {
	return &Chip{j: j, fail: make(map[lsbus.Pin]error)}
}

// Fail makes the next requests for pin fail with err; nil clears it.
func (c *Chip) Fail(pin lsbus.Pin, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.fail, pin)
		return
	}
	c.fail[pin] = err
}

func (c *Chip) Request(pin lsbus.Pin, label string, mode lsbus.Mode) (lsbus.GPIOHandle, error) {
	const op = "gpio request"
	if !pin.Valid() {
		return nil, errcode.New(errcode.UnknownPin, op, pin.String())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail[pin]; err != nil {
		return nil, err
	}
	ln := &c.lines[pin]
	if ln.held {
		return nil, errcode.New(errcode.PinInUse, op, pin.String()+" held by "+ln.label)
	}
	*ln = chipLine{held: true, label: label, mode: mode, level: mode == lsbus.OutHigh || (mode == lsbus.In && ln.level)}
	c.j.Record("gpio: request %s %s %s", pin, label, mode)
	return &chipHandle{c: c, pin: pin}, nil
}

// Held reports whether pin is claimed.
func (c *Chip) Held(pin lsbus.Pin) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return pin.Valid() && c.lines[pin].held
}

// HeldCount returns the number of claimed lines.
func (c *Chip) HeldCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, l := range c.lines {
		if l.held {
			n++
		}
	}
	return n
}

func (c *Chip) Label(pin lsbus.Pin) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines[pin].label
}

func (c *Chip) Level(pin lsbus.Pin) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines[pin].level
}

// Drive sets the external level seen by an input line.
func (c *Chip) Drive(pin lsbus.Pin, level bool) {
	c.mu.Lock()
	c.lines[pin].level = level
	c.mu.Unlock()
}

type chipHandle struct {
	c      *Chip
	pin    lsbus.Pin
	closed bool
}

func (h *chipHandle) Set(level bool) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if h.closed || h.c.lines[h.pin].mode == lsbus.In {
		return
	}
	h.c.lines[h.pin].level = level
}

func (h *chipHandle) Get() bool {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.c.lines[h.pin].level
}

func (h *chipHandle) Close() error {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if h.closed {
		return errcode.New(errcode.Error, "gpio free", h.pin.String()+" already freed")
	}
	h.closed = true
	h.c.lines[h.pin].held = false
	h.c.j.Record("gpio: free %s", h.pin)
	return nil
}
