// services/lsbus/sim/i2c.go
package sim

import (
	"errors"
	"sort"
	"sync"

	"mezzanine-go/errcode"
	"mezzanine-go/services/lsbus"
)

// ErrNak is returned by Tx when nothing answers at the address.
var ErrNak = errors.New("i2c: no ack")

// Responder emulates a chip behind an address. w is the write phase and r
// the buffer to fill for the read phase.
type Responder func(w, r []byte) error

// Tx is one recorded transaction.
type Tx struct {
	Addr uint16
	W    []byte
	Rn   int
}

// I2C is an in-memory adapter. It implements lsbus.I2CAdapter and therefore
// tinygo drivers.I2C.
type I2C struct {
	name string
	j    *Journal

	mu      sync.Mutex
	txs     []Tx
	resp    map[uint16]Responder
	clients map[uint16]*I2CClient
	failNew map[string]error // by chip type
}

var _ lsbus.I2CAdapter = (*I2C)(nil)

func NewI2C(name string, j *Journal) *I2C {
	return &I2C{
		name:    name,
		j:       j,
		resp:    make(map[uint16]Responder),
		clients: make(map[uint16]*I2CClient),
		failNew: make(map[string]error),
	}
}

func (b *I2C) Name() string { return b.name }

// Respond installs (or with nil removes) the responder for addr.
func (b *I2C) Respond(addr uint16, fn Responder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fn == nil {
		delete(b.resp, addr)
		return
	}
	b.resp[addr] = fn
}

// FailNew makes NewClient fail for chipType with err; nil clears it.
func (b *I2C) FailNew(chipType string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failNew, chipType)
		return
	}
	b.failNew[chipType] = err
}

// Tx records the transaction and hands it to the responder at addr. An
// address with a registered client but no responder reads as zeros.
func (b *I2C) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	b.txs = append(b.txs, Tx{Addr: addr, W: append([]byte(nil), w...), Rn: len(r)})
	fn := b.resp[addr]
	_, known := b.clients[addr]
	b.mu.Unlock()

	if fn != nil {
		return fn(w, r)
	}
	if !known {
		return ErrNak
	}
	for i := range r {
		r[i] = 0
	}
	return nil
}

// Transactions returns a copy of the transaction log.
func (b *I2C) Transactions() []Tx {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Tx(nil), b.txs...)
}

// NewClient registers a chip at info.Addr. A second client at the same
// address fails with errcode.DeviceExists.
func (b *I2C) NewClient(info lsbus.I2CBoardInfo) (lsbus.I2CClient, error) {
	const op = "i2c new client"
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failNew[info.Type]; err != nil {
		return nil, err
	}
	if c, ok := b.clients[info.Addr]; ok {
		return nil, errcode.New(errcode.DeviceExists, op, b.name+": address taken by "+c.info.Type)
	}
	c := &I2CClient{bus: b, info: info}
	b.clients[info.Addr] = c
	b.j.Record("%s: new %s@%#02x", b.name, info.Type, info.Addr)
	return c, nil
}

// Clients lists registered chips by address.
func (b *I2C) Clients() []lsbus.I2CBoardInfo {
	b.mu.Lock()
	out := make([]lsbus.I2CBoardInfo, 0, len(b.clients))
	for _, c := range b.clients {
		out = append(out, c.info)
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

func (b *I2C) clientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// I2CClient is a chip registered on a simulated adapter.
type I2CClient struct {
	bus  *I2C
	info lsbus.I2CBoardInfo
}

func (c *I2CClient) Name() string { return c.info.Type }
func (c *I2CClient) Addr() uint16 { return c.info.Addr }

// Unregister removes the chip. Only the first call has an effect.
func (c *I2CClient) Unregister() {
	b := c.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clients[c.info.Addr] != c {
		return
	}
	delete(b.clients, c.info.Addr)
	b.j.Record("%s: del %s@%#02x", b.name, c.info.Type, c.info.Addr)
}
