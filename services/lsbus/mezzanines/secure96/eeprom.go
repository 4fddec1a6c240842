// services/lsbus/mezzanines/secure96/eeprom.go
package secure96

import (
	"sync"

	"tinygo.org/x/drivers/at24cx"

	"mezzanine-go/errcode"
	"mezzanine-go/services/lsbus"
)

// CAT21M01, driven as a 24c128 with 16-bit addressing.
const (
	EEPROMType = "24c128"
	EEPROMAddr = 0x50
	EEPROMSize = 16 * 1024 / 8
	EEPROMPage = 256
)

// EEPROM is the board's serial EEPROM. Writes lower the write-protect line
// for their duration when the board has one.
type EEPROM struct {
	client lsbus.I2CClient
	wp     *lsbus.Line

	mu  sync.Mutex
	dev at24cx.Device
}

func newEEPROM(bus lsbus.I2CAdapter, wp *lsbus.Line) (*EEPROM, error) {
	c, err := bus.NewClient(lsbus.I2CBoardInfo{Type: EEPROMType, Addr: EEPROMAddr})
	if err != nil {
		return nil, err
	}
	dev := at24cx.New(bus)
	dev.Address = EEPROMAddr
	dev.Configure(at24cx.Config{PageSize: EEPROMPage, EndRAMAddress: EEPROMSize})
	return &EEPROM{client: c, wp: wp, dev: dev}, nil
}

func (e *EEPROM) Size() int { return EEPROMSize }

// WriteProtectLine returns the write-protect line, or nil if the board
// registered the EEPROM without one.
func (e *EEPROM) WriteProtectLine() *lsbus.Line { return e.wp }

func checkRange(op string, n int, off int64) error {
	if off < 0 || off+int64(n) > EEPROMSize {
		return errcode.New(errcode.Error, op, "out of range")
	}
	return nil
}

func (e *EEPROM) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange("eeprom read", len(p), off); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dev.ReadAt(p, off)
}

func (e *EEPROM) WriteAt(p []byte, off int64) (int, error) {
	if err := checkRange("eeprom write", len(p), off); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wp != nil {
		e.wp.Set(false)
		defer e.wp.Set(true)
	}
	return e.dev.WriteAt(p, off)
}

func (e *EEPROM) unregister() { e.client.Unregister() }
