// services/lsbus/sim/eeprom.go
package sim

import "sync"

// EEPROM emulates a 16-bit addressed serial EEPROM. Writes are ignored while
// the write-protect input reads high.
type EEPROM struct {
	mu  sync.Mutex
	mem []byte
	wp  func() bool
}

// NewEEPROM creates a device of size bytes, erased to 0xFF. wp may be nil.
func NewEEPROM(size int, wp func() bool) *EEPROM {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &EEPROM{mem: mem, wp: wp}
}

// Tx is a Responder: two address bytes, then data to write, then the read.
func (e *EEPROM) Tx(w, r []byte) error {
	if len(w) < 2 {
		return ErrNak
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.mem)
	addr := (int(w[0])<<8 | int(w[1])) % n
	if data := w[2:]; len(data) > 0 && (e.wp == nil || !e.wp()) {
		for i, b := range data {
			e.mem[(addr+i)%n] = b
		}
	}
	for i := range r {
		r[i] = e.mem[(addr+i)%n]
	}
	return nil
}

// Bytes returns a copy of the contents.
func (e *EEPROM) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.mem...)
}
