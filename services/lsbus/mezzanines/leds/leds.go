// services/lsbus/mezzanines/leds/leds.go
package leds

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mezzanine-go/errcode"
	"mezzanine-go/services/lsbus"
)

const (
	TriggerNone      = "none"
	TriggerHeartbeat = "heartbeat"
)

// DefaultPeriod is the heartbeat period at zero load.
const DefaultPeriod = 1260 * time.Millisecond

// LED describes one GPIO-backed LED. The Line stays owned by the caller.
type LED struct {
	Name           string
	Line           *lsbus.Line
	DefaultTrigger string
}

type led struct {
	name    string
	line    *lsbus.Line
	trigger string
	on      bool
}

// Group is an LED sub-device registered under a parent device.
type Group struct {
	parent string
	log    *zap.Logger
	period time.Duration

	mu     sync.Mutex
	leds   []*led
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Group)

func WithLogger(l *zap.Logger) Option {
	return func(g *Group) {
		if l != nil {
			g.log = l
		}
	}
}

// WithPeriod sets the heartbeat period.
func WithPeriod(d time.Duration) Option {
	return func(g *Group) {
		if d > 0 {
			g.period = d
		}
	}
}

// Register creates a group for parent. LED names must be unique and every LED
// needs a line. All LEDs start off.
func Register(parent string, list []LED, opts ...Option) (*Group, error) {
	const op = "register leds"
	g := &Group{parent: parent, log: zap.NewNop(), period: DefaultPeriod}
	for _, o := range opts {
		o(g)
	}
	seen := make(map[string]bool, len(list))
	for _, l := range list {
		if l.Name == "" || l.Line == nil {
			return nil, errcode.New(errcode.InvalidName, op, parent+": led without name or line")
		}
		if seen[l.Name] {
			return nil, errcode.New(errcode.DeviceExists, op, l.Name)
		}
		seen[l.Name] = true
		trig := l.DefaultTrigger
		if trig == "" {
			trig = TriggerNone
		}
		g.leds = append(g.leds, &led{name: l.Name, line: l.Line, trigger: trig})
		l.Line.Set(false)
	}
	g.log.Debug("leds registered", zap.String("parent", parent), zap.Int("count", len(g.leds)))
	return g, nil
}

func (g *Group) Parent() string { return g.parent }

// Names lists LED names in registration order.
func (g *Group) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.leds))
	for i, l := range g.leds {
		out[i] = l.name
	}
	return out
}

func (g *Group) find(name string) (*led, error) {
	for _, l := range g.leds {
		if l.name == name {
			return l, nil
		}
	}
	return nil, errcode.New(errcode.InvalidName, "led", "no led "+name)
}

// Set drives an LED and detaches it from its trigger.
func (g *Group) Set(name string, on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, err := g.find(name)
	if err != nil {
		return err
	}
	l.trigger = TriggerNone
	g.drive(l, on)
	return nil
}

func (g *Group) Toggle(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, err := g.find(name)
	if err != nil {
		return err
	}
	l.trigger = TriggerNone
	g.drive(l, !l.on)
	return nil
}

// Get reports the last level driven onto the LED.
func (g *Group) Get(name string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, err := g.find(name)
	if err != nil {
		return false, err
	}
	return l.on, nil
}

func (g *Group) Trigger(name string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, err := g.find(name)
	if err != nil {
		return "", err
	}
	return l.trigger, nil
}

// SetTrigger attaches an LED to "heartbeat" or detaches it with "none".
func (g *Group) SetTrigger(name, trigger string) error {
	if trigger != TriggerNone && trigger != TriggerHeartbeat {
		return errcode.New(errcode.InvalidName, "led trigger", trigger)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	l, err := g.find(name)
	if err != nil {
		return err
	}
	l.trigger = trigger
	if trigger == TriggerNone {
		g.drive(l, false)
	}
	return nil
}

func (g *Group) drive(l *led, on bool) {
	l.on = on
	l.line.Set(on)
}

// Start runs the heartbeat trigger until ctx ends or Unregister is called.
// Starting a running group does nothing.
func (g *Group) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return
	}
	ctx, g.cancel = context.WithCancel(ctx)
	g.done = make(chan struct{})
	go g.heartbeatLoop(ctx, g.done)
}

// heartbeatPattern is on, off, on, off for one period: two short pulses
// then a long pause.
func heartbeatPattern(period time.Duration) [4]time.Duration {
	pulse := period / 18
	gap := period/4 - pulse
	return [4]time.Duration{pulse, gap, pulse, period - 2*pulse - gap}
}

func (g *Group) heartbeatLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	phases := heartbeatPattern(g.period)
	timer := time.NewTimer(0)
	defer timer.Stop()
	phase := 0
	for {
		select {
		case <-ctx.Done():
			g.beat(false)
			return
		case <-timer.C:
			g.beat(phase%2 == 0)
			timer.Reset(phases[phase])
			phase = (phase + 1) % len(phases)
		}
	}
}

func (g *Group) beat(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, l := range g.leds {
		if l.trigger == TriggerHeartbeat {
			g.drive(l, on)
		}
	}
}

// Unregister stops the heartbeat and turns every LED off. The lines are left
// for the caller to release.
func (g *Group) Unregister() {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.cancel, g.done = nil, nil
	g.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	g.mu.Lock()
	for _, l := range g.leds {
		g.drive(l, false)
	}
	g.mu.Unlock()
	g.log.Debug("leds unregistered", zap.String("parent", g.parent))
}
