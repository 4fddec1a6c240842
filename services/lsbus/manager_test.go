package lsbus

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mezzanine-go/bus"
	"mezzanine-go/errcode"
	"mezzanine-go/types"
)

func newTestManager(t *testing.T, drivers ...Driver) *Manager {
	t.Helper()
	r := NewRegistry()
	for _, d := range drivers {
		if err := r.Register(d); err != nil {
			t.Fatal(err)
		}
	}
	return NewManager(r)
}

func TestCreateDerivesName(t *testing.T) {
	m := newTestManager(t)
	own := &fakeOwner{name: "lscon"}
	for want := 0; want < 3; want++ {
		d, err := m.Create(own, "", fakeNode{name: "m"})
		if err != nil {
			t.Fatal(err)
		}
		if d.ID() != want || d.Name() != "mezzanine"+string(rune('0'+want)) {
			t.Fatalf("got %s id=%d", d.Name(), d.ID())
		}
		if d.Bound() {
			t.Fatalf("unmatched device must stay unbound")
		}
	}
	if m.Len() != 3 {
		t.Fatalf("Len = %d", m.Len())
	}
}

func TestCreateExplicitNameBindsOnce(t *testing.T) {
	drv := &fakeDriver{name: "secure96"}
	m := newTestManager(t, drv)
	d, err := m.Create(&fakeOwner{}, "secure96", nil)
	if err != nil {
		t.Fatal(err)
	}
	if d.Driver() != drv {
		t.Fatalf("not bound to secure96")
	}
	if p, _ := drv.counts(); p != 1 {
		t.Fatalf("probe count %d", p)
	}
	if got, ok := m.Lookup("secure96"); !ok || got != d {
		t.Fatalf("Lookup failed")
	}
}

func TestCreateDuplicateName(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Create(nil, "x", nil); err != nil {
		t.Fatal(err)
	}
	_, err := m.Create(nil, "x", nil)
	if !errors.Is(err, errcode.DeviceExists) {
		t.Fatalf("want DeviceExists, got %v", err)
	}
	d, err := m.Create(nil, "", nil)
	if err != nil || d.ID() != 1 {
		t.Fatalf("failed create leaked its id: %v id=%d", err, d.ID())
	}
}

func TestCreateProbeFailureKeepsDevice(t *testing.T) {
	cause := errors.New("boom")
	m := newTestManager(t, &fakeDriver{name: "secure96", probeErr: cause})
	d, err := m.Create(nil, "secure96", nil)
	if !errors.Is(err, errcode.ProbeFailed) || !errors.Is(err, cause) {
		t.Fatalf("want ProbeFailed(cause), got %v", err)
	}
	if d == nil || d.Bound() || m.Len() != 1 {
		t.Fatalf("device should exist unbound")
	}
}

func TestCreateProbeFailureReturnsLeakedLines(t *testing.T) {
	g := newFakeGPIO()
	drv := &fakeDriver{name: "leaky", probe: func(d *Device) error {
		if _, err := Acquire(d, PinF, "led", OutLow); err != nil {
			return err
		}
		return errors.New("later step failed")
	}}
	m := newTestManager(t, drv)
	if _, err := m.Create(&fakeOwner{gpio: g}, "leaky", nil); err == nil {
		t.Fatal("expected probe error")
	}
	if g.isHeld(PinF) {
		t.Fatalf("line F still held after failed probe")
	}
}

func TestDestroyFreesIDForReuse(t *testing.T) {
	drv := &fakeDriver{name: "secure96"}
	m := newTestManager(t, drv)
	m.Create(nil, "", nil)
	d, _ := m.Create(nil, "secure96", nil)
	m.Create(nil, "", nil)

	m.Destroy(d)
	m.Destroy(d)
	if _, rm := drv.counts(); rm != 1 {
		t.Fatalf("remove count = %d, want 1", rm)
	}
	if _, ok := m.Lookup("secure96"); ok {
		t.Fatalf("destroyed device still visible")
	}
	n, err := m.Create(nil, "", nil)
	if err != nil || n.ID() != d.ID() || n.Name() != "mezzanine1" {
		t.Fatalf("freed id not reused: %v %s", err, n.Name())
	}
}

func TestDestroyReleasesOnlyUnreleasedLines(t *testing.T) {
	g := newFakeGPIO()
	var keep *Line
	drv := &fakeDriver{name: "gpio"}
	drv.probe = func(d *Device) error {
		a, err := Acquire(d, PinA, "a", OutLow)
		if err != nil {
			return err
		}
		if _, err := Acquire(d, PinB, "b", In); err != nil {
			return err
		}
		keep = a
		return nil
	}
	m := newTestManager(t, drv)
	d, err := m.Create(&fakeOwner{gpio: g}, "gpio", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := keep.Release(); err != nil {
		t.Fatal(err)
	}
	m.Destroy(d)
	if diff := cmp.Diff([]Pin{PinA, PinB}, g.closed); diff != "" {
		t.Fatalf("close order (-want +got):\n%s", diff)
	}
}

func TestDestroyAllOnlyOwner(t *testing.T) {
	drv := &fakeDriver{name: "secure96"}
	m := newTestManager(t, drv)
	a, b := &fakeOwner{name: "a"}, &fakeOwner{name: "b"}
	m.Create(a, "", nil)
	m.Create(b, "", nil)
	m.Create(a, "secure96", nil)

	if n := m.DestroyAll(a); n != 2 {
		t.Fatalf("destroyed %d, want 2", n)
	}
	left := m.Devices()
	if len(left) != 1 || left[0].Owner() != b {
		t.Fatalf("wrong survivors: %v", left)
	}
	if _, rm := drv.counts(); rm != 1 {
		t.Fatalf("remove count %d", rm)
	}
}

func TestRandomCreateDestroyKeepsIDsUnique(t *testing.T) {
	m := newTestManager(t)
	rng := rand.New(rand.NewSource(7))
	var live []*Device
	for step := 0; step < 500; step++ {
		if len(live) > 0 && rng.Intn(2) == 0 {
			i := rng.Intn(len(live))
			m.Destroy(live[i])
			live = append(live[:i], live[i+1:]...)
			continue
		}
		d, err := m.Create(nil, "", nil)
		if err != nil {
			t.Fatal(err)
		}
		live = append(live, d)
		seen := map[int]bool{}
		for _, x := range m.Devices() {
			if seen[x.ID()] {
				t.Fatalf("step %d: duplicate id %d", step, x.ID())
			}
			seen[x.ID()] = true
		}
	}
}

func TestResourceExhausted(t *testing.T) {
	m := NewManager(NewRegistry(), WithMaxIDs(1))
	if _, err := m.Create(nil, "", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create(nil, "", nil); !errors.Is(err, errcode.ResourceExhausted) {
		t.Fatalf("want ResourceExhausted, got %v", err)
	}
}

func TestLifecycleEvents(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("test")
	sub := conn.Subscribe(bus.T("lsbus", "device", "secure96", "#"))

	r := NewRegistry()
	r.Register(&fakeDriver{name: "secure96"})
	m := NewManager(r, WithEvents(b.NewConnection("lsbus")))

	d, _ := m.Create(nil, "secure96", nil)
	m.Destroy(d)

	var got []types.DeviceAction
	for len(got) < 4 {
		select {
		case msg := <-sub.Channel():
			ev := msg.Payload.(types.DeviceEvent)
			if ev.Name != "secure96" || ev.ID != 0 {
				t.Fatalf("bad event %+v", ev)
			}
			got = append(got, ev.Action)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	want := []types.DeviceAction{types.ActionAdd, types.ActionBind, types.ActionUnbind, types.ActionRemove}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
}
