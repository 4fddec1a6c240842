// services/lsbus/sim/spi.go
package sim

import (
	"sort"
	"strconv"
	"sync"

	"mezzanine-go/errcode"
	"mezzanine-go/services/lsbus"
)

// SPI is an in-memory controller handing out per-chip-select devices.
type SPI struct {
	name string
	j    *Journal

	mu      sync.Mutex
	devs    map[int]*SPIDevice // by chip select
	resp    map[int]Responder
	failNew map[string]error // by modalias
}

var _ lsbus.SPIController = (*SPI)(nil)

func NewSPI(name string, j *Journal) *SPI {
	return &SPI{
		name:    name,
		j:       j,
		devs:    make(map[int]*SPIDevice),
		resp:    make(map[int]Responder),
		failNew: make(map[string]error),
	}
}

func (s *SPI) Name() string { return s.name }

// Respond installs the responder for chip select cs; nil removes it.
func (s *SPI) Respond(cs int, fn Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.resp, cs)
		return
	}
	s.resp[cs] = fn
}

func (s *SPI) FailNew(modalias string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failNew, modalias)
		return
	}
	s.failNew[modalias] = err
}

func (s *SPI) NewDevice(info lsbus.SPIBoardInfo) (lsbus.SPIDevice, error) {
	const op = "spi new device"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNew[info.Modalias]; err != nil {
		return nil, err
	}
	if info.ChipSelect < 0 {
		return nil, errcode.New(errcode.InvalidName, op, "negative chip select")
	}
	if d, ok := s.devs[info.ChipSelect]; ok {
		return nil, errcode.New(errcode.DeviceExists, op, s.name+": cs"+strconv.Itoa(info.ChipSelect)+" taken by "+d.info.Modalias)
	}
	d := &SPIDevice{ctl: s, info: info}
	s.devs[info.ChipSelect] = d
	s.j.Record("%s: new %s cs%d", s.name, info.Modalias, info.ChipSelect)
	return d, nil
}

// Devices lists registered devices by chip select.
func (s *SPI) Devices() []lsbus.SPIBoardInfo {
	s.mu.Lock()
	out := make([]lsbus.SPIBoardInfo, 0, len(s.devs))
	for _, d := range s.devs {
		out = append(out, d.info)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ChipSelect < out[j].ChipSelect })
	return out
}

func (s *SPI) deviceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devs)
}

// SPIDevice implements lsbus.SPIDevice, and so tinygo drivers.SPI.
type SPIDevice struct {
	ctl  *SPI
	info lsbus.SPIBoardInfo

	mu  sync.Mutex
	txs []Tx
}

func (d *SPIDevice) Modalias() string { return d.info.Modalias }

// Info returns the board info the device was created with.
func (d *SPIDevice) Info() lsbus.SPIBoardInfo { return d.info }

// Tx runs a full-duplex transfer. Without a responder the read side is 0xFF.
func (d *SPIDevice) Tx(w, r []byte) error {
	d.mu.Lock()
	d.txs = append(d.txs, Tx{W: append([]byte(nil), w...), Rn: len(r)})
	d.mu.Unlock()

	d.ctl.mu.Lock()
	fn := d.ctl.resp[d.info.ChipSelect]
	d.ctl.mu.Unlock()
	if fn != nil {
		return fn(w, r)
	}
	for i := range r {
		r[i] = 0xFF
	}
	return nil
}

func (d *SPIDevice) Transfer(b byte) (byte, error) {
	r := []byte{0}
	err := d.Tx([]byte{b}, r)
	return r[0], err
}

// Transactions returns a copy of this device's transfers.
func (d *SPIDevice) Transactions() []Tx {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Tx(nil), d.txs...)
}

func (d *SPIDevice) Unregister() {
	s := d.ctl
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.devs[d.info.ChipSelect] != d {
		return
	}
	delete(s.devs, d.info.ChipSelect)
	s.j.Record("%s: del %s cs%d", s.name, d.info.Modalias, d.info.ChipSelect)
}
