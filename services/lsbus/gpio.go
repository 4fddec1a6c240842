// services/lsbus/gpio.go
package lsbus

import (
	"strconv"
	"strings"
	"sync"

	"mezzanine-go/errcode"
)

// Pin is one of the twelve GPIO lines on the low-speed connector.
type Pin uint8

const (
	PinA Pin = iota
	PinB
	PinC
	PinD
	PinE
	PinF
	PinG
	PinH
	PinI
	PinJ
	PinK
	PinL

	NumPins = 12
)

func (p Pin) Valid() bool { return p < NumPins }

func (p Pin) String() string {
	if !p.Valid() {
		return "Pin(" + strconv.Itoa(int(p)) + ")"
	}
	return string(rune('A' + p))
}

// ParsePin accepts "F", "f", "GPIO-F" or "gpio_f".
func ParsePin(s string) (Pin, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "GPIO")
	s = strings.TrimLeft(s, "-_")
	if len(s) != 1 || s[0] < 'A' || s[0] >= 'A'+NumPins {
		return 0, errcode.New(errcode.UnknownPin, "parse pin", s)
	}
	return Pin(s[0] - 'A'), nil
}

// Mode selects the direction and initial level of a requested line.
type Mode uint8

const (
	OutLow Mode = iota
	OutHigh
	In
)

func (m Mode) String() string {
	switch m {
	case OutLow:
		return "out-low"
	case OutHigh:
		return "out-high"
	case In:
		return "in"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// GPIOHandle is a line handed out by the provider.
type GPIOHandle interface {
	Set(level bool)
	Get() bool
	Close() error
}

// GPIOProvider supplies the connector's physical lines. The connector defines
// the pin to physical line mapping; stacked mezzanines share it.
type GPIOProvider interface {
	Request(pin Pin, label string, mode Mode) (GPIOHandle, error)
}

// Line is a GPIO line acquired on behalf of a device. It owns the provider
// handle until Release moves it out; after that the Line is inert.
type Line struct {
	mu    sync.Mutex
	h     GPIOHandle
	dev   *Device
	pin   Pin
	label string
	mode  Mode
}

// Acquire requests pin from the device's connector and records the line on
// the device so a teardown that races a forgetful driver still returns it.
func Acquire(d *Device, pin Pin, label string, mode Mode) (*Line, error) {
	const op = "gpio acquire"
	if !pin.Valid() {
		return nil, &errcode.E{C: errcode.GpioUnavailable, Op: op, Msg: pin.String() + " out of range"}
	}
	var prov GPIOProvider
	if d.owner != nil {
		prov = d.owner.GPIO()
	}
	if prov == nil {
		return nil, &errcode.E{C: errcode.GpioUnavailable, Op: op, Msg: "no gpio provider for " + d.name}
	}
	h, err := prov.Request(pin, label, mode)
	if err != nil {
		return nil, &errcode.E{C: errcode.GpioUnavailable, Op: op, Msg: "line " + pin.String(), Err: err}
	}
	l := &Line{h: h, dev: d, pin: pin, label: label, mode: mode}
	d.trackLine(l)
	return l, nil
}

func (l *Line) Pin() Pin      { return l.pin }
func (l *Line) Label() string { return l.label }
func (l *Line) Mode() Mode    { return l.mode }

// Held reports whether the line still owns its provider handle.
func (l *Line) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.h != nil
}

// Set drives an output line. It is ignored once the line is released.
func (l *Line) Set(level bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.h != nil {
		l.h.Set(level)
	}
}

// Get samples the line; a released line reads low.
func (l *Line) Get() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.h != nil && l.h.Get()
}

// Release returns the line to the provider. The handle is moved out of the
// Line before it is closed, so only the first Release reaches the provider.
func (l *Line) Release() error {
	l.mu.Lock()
	h := l.h
	l.h = nil
	l.mu.Unlock()
	if h == nil {
		return nil
	}
	if l.dev != nil {
		l.dev.untrackLine(l)
	}
	return h.Close()
}
