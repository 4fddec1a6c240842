// services/lsbus/sim/board.go
package sim

import (
	"sync"

	"mezzanine-go/errcode"
	"mezzanine-go/services/lsbus"
)

type link struct {
	i2c *I2C
	spi *SPI

	notReady int // Get fails with LinkNotReady while > 0; -1 means until SetReady
	held     int
}

// Board is a simulated host platform: upstream buses keyed by link and one
// GPIO chip for the header. It hands out I2C and SPI providers for Attach.
type Board struct {
	j    *Journal
	gpio *Chip

	mu    sync.Mutex
	links map[lsbus.LinkRef]*link
}

// NewBoard creates an empty board. A nil journal gets a fresh one.
func NewBoard(j *Journal) *Board {
	if j == nil {
		j = &Journal{}
	}
	return &Board{j: j, gpio: NewChip(j), links: make(map[lsbus.LinkRef]*link)}
}

// NewLSBoard creates a board with the usual header wiring: I2C "i2c@0" and
// "i2c@1" and SPI "spi@0".
func NewLSBoard(j *Journal) *Board {
	b := NewBoard(j)
	b.AddI2C("i2c@0")
	b.AddI2C("i2c@1")
	b.AddSPI("spi@0")
	return b
}

func (b *Board) Journal() *Journal { return b.j }
func (b *Board) GPIO() *Chip       { return b.gpio }

// AddI2C declares an adapter under ref and returns it.
func (b *Board) AddI2C(ref lsbus.LinkRef) *I2C {
	a := NewI2C(string(ref), b.j)
	b.mu.Lock()
	b.links[ref] = &link{i2c: a}
	b.mu.Unlock()
	return a
}

func (b *Board) AddSPI(ref lsbus.LinkRef) *SPI {
	s := NewSPI(string(ref), b.j)
	b.mu.Lock()
	b.links[ref] = &link{spi: s}
	b.mu.Unlock()
	return s
}

func (b *Board) I2CBus(ref lsbus.LinkRef) *I2C {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l := b.links[ref]; l != nil {
		return l.i2c
	}
	return nil
}

func (b *Board) SPIBus(ref lsbus.LinkRef) *SPI {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l := b.links[ref]; l != nil {
		return l.spi
	}
	return nil
}

// SetReady toggles whether ref's provider has probed.
func (b *Board) SetReady(ref lsbus.LinkRef, ready bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l := b.links[ref]; l != nil {
		if ready {
			l.notReady = 0
		} else {
			l.notReady = -1
		}
	}
}

// ReadyAfter makes the next n Gets of ref fail with LinkNotReady.
func (b *Board) ReadyAfter(ref lsbus.LinkRef, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l := b.links[ref]; l != nil {
		l.notReady = n
	}
}

// Held reports the outstanding Get count for ref.
func (b *Board) Held(ref lsbus.LinkRef) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l := b.links[ref]; l != nil {
		return l.held
	}
	return 0
}

// HeldTotal sums outstanding Gets over all links.
func (b *Board) HeldTotal() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, l := range b.links {
		n += l.held
	}
	return n
}

func (b *Board) get(ref lsbus.LinkRef, wantI2C bool) (*link, error) {
	const op = "link get"
	b.mu.Lock()
	defer b.mu.Unlock()
	l := b.links[ref]
	if l == nil || (wantI2C && l.i2c == nil) || (!wantI2C && l.spi == nil) {
		return nil, errcode.New(errcode.LinkMissing, op, string(ref))
	}
	if l.notReady != 0 {
		if l.notReady > 0 {
			l.notReady--
		}
		return nil, errcode.New(errcode.LinkNotReady, op, string(ref))
	}
	l.held++
	b.j.Record("get %s", ref)
	return l, nil
}

// put drops one reference. Children still registered on the bus make it
// fail with BusInUse after the reference is dropped.
func (b *Board) put(ref lsbus.LinkRef, children int) error {
	const op = "link put"
	b.mu.Lock()
	defer b.mu.Unlock()
	l := b.links[ref]
	if l == nil || l.held == 0 {
		return errcode.New(errcode.Error, op, string(ref)+" not held")
	}
	l.held--
	b.j.Record("put %s", ref)
	if children > 0 {
		return errcode.New(errcode.BusInUse, op, string(ref)+" still has children")
	}
	return nil
}

// I2CProvider returns the board's I2C side.
func (b *Board) I2CProvider() lsbus.I2CProvider { return i2cProvider{b} }

// SPIProvider returns the board's SPI side.
func (b *Board) SPIProvider() lsbus.SPIProvider { return spiProvider{b} }

type i2cProvider struct{ b *Board }

func (p i2cProvider) Get(ref lsbus.LinkRef) (lsbus.I2CAdapter, error) {
	l, err := p.b.get(ref, true)
	if err != nil {
		return nil, err
	}
	return l.i2c, nil
}

func (p i2cProvider) Put(a lsbus.I2CAdapter) error {
	s, ok := a.(*I2C)
	if !ok {
		return errcode.New(errcode.Error, "link put", "foreign adapter")
	}
	return p.b.put(lsbus.LinkRef(s.name), s.clientCount())
}

type spiProvider struct{ b *Board }

func (p spiProvider) Get(ref lsbus.LinkRef) (lsbus.SPIController, error) {
	l, err := p.b.get(ref, false)
	if err != nil {
		return nil, err
	}
	return l.spi, nil
}

func (p spiProvider) Put(c lsbus.SPIController) error {
	s, ok := c.(*SPI)
	if !ok {
		return errcode.New(errcode.Error, "link put", "foreign controller")
	}
	return p.b.put(lsbus.LinkRef(s.name), s.deviceCount())
}
