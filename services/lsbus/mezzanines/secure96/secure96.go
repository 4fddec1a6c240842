// services/lsbus/mezzanines/secure96/secure96.go
package secure96

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mezzanine-go/errcode"
	"mezzanine-go/services/lsbus"
	"mezzanine-go/services/lsbus/mezzanines/leds"
	"mezzanine-go/x/timex"
)

const (
	Name       = "secure96"
	Compatible = "96boards,secure96"

	CryptoType = "atecc508a"
	CryptoAddr = 0x60
	HashType   = "atsha204a"
	HashAddr   = 0x64

	TPMModalias = "tpm_tis_spi"
	TPMSpeedHz  = 22500000 // SLB9670 at 1.8V
	TPMChipSel  = 0

	// DefaultSettle is how long TPM reset is held low before release.
	DefaultSettle = 80 * time.Microsecond
)

func init() { lsbus.MustRegister(New()) }

// GPIO-F, G, H and I carry the LEDs, two red and two green.
var ledInfos = [...]struct {
	pin  lsbus.Pin
	name string
}{
	{lsbus.PinF, "secure96:red:0"},
	{lsbus.PinG, "secure96:red:1"},
	{lsbus.PinH, "secure96:green:0"},
	{lsbus.PinI, "secure96:green:1"},
}

// Board is the state of one bound secure96.
type Board struct {
	LEDs     *leds.Group
	EEPROM   *EEPROM
	Crypto   lsbus.I2CClient
	Hash     lsbus.I2CClient
	TPMReset *lsbus.Line
	TPMIRQ   *lsbus.Line
	TPM      lsbus.SPIDevice

	teardown lsbus.Unwinder
}

// Driver binds secure96 boards. Each bound device has its own Board.
type Driver struct {
	settle  time.Duration
	log     *zap.Logger
	ledOpts []leds.Option

	registerLEDs func(parent string, list []leds.LED, opts ...leds.Option) (*leds.Group, error)

	mu     sync.Mutex
	boards map[*lsbus.Device]*Board
}

type Option func(*Driver)

// WithSettle overrides the TPM reset settle delay.
func WithSettle(d time.Duration) Option {
	return func(drv *Driver) { drv.settle = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(drv *Driver) {
		if l != nil {
			drv.log = l
		}
	}
}

// WithLEDOptions passes options to the LED group of every board.
func WithLEDOptions(opts ...leds.Option) Option {
	return func(drv *Driver) { drv.ledOpts = append(drv.ledOpts, opts...) }
}

func New(opts ...Option) *Driver {
	drv := &Driver{
		settle:       DefaultSettle,
		log:          zap.NewNop(),
		registerLEDs: leds.Register,
		boards:       make(map[*lsbus.Device]*Board),
	}
	for _, o := range opts {
		o(drv)
	}
	return drv
}

func (drv *Driver) Name() string         { return Name }
func (drv *Driver) Compatible() []string { return []string{Compatible} }

// Board returns the state of a bound device.
func (drv *Driver) Board(d *lsbus.Device) (*Board, bool) {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	b, ok := drv.boards[d]
	return b, ok
}

func (drv *Driver) logger(d *lsbus.Device) *zap.Logger {
	if l := d.Logger(); l != nil {
		return l
	}
	return drv.log.With(zap.String("device", d.Name()))
}

func releaser(log *zap.Logger, l *lsbus.Line) func() {
	return func() {
		if err := l.Release(); err != nil {
			log.Warn("release gpio", zap.Stringer("pin", l.Pin()), zap.Error(err))
		}
	}
}

func stepErr(step string, err error) error {
	return &errcode.E{C: errcode.Of(err), Op: "secure96 probe", Msg: step, Err: err}
}

// Probe acquires, in order: LED lines F..I and the LED group, the EEPROM
// write-protect line and the EEPROM, the crypto chip, the hash chip, the TPM
// reset and IRQ lines and the TPM. A failure releases what was acquired so
// far in reverse order.
func (drv *Driver) Probe(d *lsbus.Device) error {
	log := drv.logger(d)
	bundle := d.Bundle()
	if bundle.I2C0 == nil || bundle.SPI == nil {
		return errcode.New(errcode.LinkMissing, "secure96 probe", "bundle lacks i2c0 or spi")
	}
	log.Info("populate secure96")

	var u lsbus.Unwinder
	defer u.Unwind()
	b := &Board{}

	list := make([]leds.LED, 0, len(ledInfos))
	for i, li := range ledInfos {
		l, err := lsbus.Acquire(d, li.pin, li.name, lsbus.OutLow)
		if err != nil {
			log.Error("failed to get GPIO line", zap.Stringer("pin", li.pin), zap.Error(err))
			return stepErr("led "+li.name, err)
		}
		u.Push("gpio "+li.pin.String(), releaser(log, l))
		led := leds.LED{Name: li.name, Line: l}
		if i == 0 {
			led.DefaultTrigger = leds.TriggerHeartbeat
		}
		list = append(list, led)
	}
	g, err := drv.registerLEDs(d.Name(), list, append([]leds.Option{leds.WithLogger(log)}, drv.ledOpts...)...)
	if err != nil {
		log.Error("failed to populate LEDs device", zap.Error(err))
		return stepErr("leds", err)
	}
	g.Start(context.Background())
	u.Push("leds", g.Unregister)
	b.LEDs = g

	wp, err := lsbus.Acquire(d, lsbus.PinB, "cat21m01-wp", lsbus.OutHigh)
	if err != nil {
		log.Error("no CAT21M01 write-protect GPIO", zap.Error(err))
		wp = nil
	} else {
		u.Push("gpio B", releaser(log, wp))
	}
	ee, err := newEEPROM(bundle.I2C0, wp)
	if err != nil {
		log.Error("failed to populate EEPROM", zap.Error(err))
		return stepErr("eeprom", err)
	}
	u.Push("eeprom", ee.unregister)
	b.EEPROM = ee

	if b.Crypto, err = bundle.I2C0.NewClient(lsbus.I2CBoardInfo{Type: CryptoType, Addr: CryptoAddr}); err != nil {
		log.Error("failed to populate crypto device", zap.Error(err))
		return stepErr("crypto", err)
	}
	u.Push("crypto", b.Crypto.Unregister)

	if b.Hash, err = bundle.I2C0.NewClient(lsbus.I2CBoardInfo{Type: HashType, Addr: HashAddr}); err != nil {
		log.Error("failed to populate hash device", zap.Error(err))
		return stepErr("hash", err)
	}
	u.Push("hash", b.Hash.Unregister)

	if b.TPMReset, err = lsbus.Acquire(d, lsbus.PinD, "tpm-slb9670-rst", lsbus.OutLow); err != nil {
		log.Error("failed to get TPM RESET", zap.Error(err))
		return stepErr("tpm reset", err)
	}
	u.Push("gpio D", releaser(log, b.TPMReset))
	timex.Busy(drv.settle)
	b.TPMReset.Set(true)

	if b.TPMIRQ, err = lsbus.Acquire(d, lsbus.PinC, "tpm-slb9670-irq", lsbus.In); err != nil {
		log.Error("failed to get TPM IRQ GPIO", zap.Error(err))
		return stepErr("tpm irq", err)
	}
	u.Push("gpio C", releaser(log, b.TPMIRQ))

	if b.TPM, err = bundle.SPI.NewDevice(lsbus.SPIBoardInfo{
		Modalias:   TPMModalias,
		MaxSpeedHz: TPMSpeedHz,
		ChipSelect: TPMChipSel,
		IRQ:        b.TPMIRQ,
	}); err != nil {
		log.Error("failed to populate TPM device", zap.Error(err))
		return stepErr("tpm", err)
	}
	u.Push("tpm", b.TPM.Unregister)

	b.teardown = u.Disarm()
	drv.mu.Lock()
	drv.boards[d] = b
	drv.mu.Unlock()
	d.SetDriverData(b)
	return nil
}

// Remove releases everything Probe acquired, last first.
func (drv *Driver) Remove(d *lsbus.Device) {
	drv.mu.Lock()
	b, ok := drv.boards[d]
	delete(drv.boards, d)
	drv.mu.Unlock()
	if !ok {
		return
	}
	drv.logger(d).Info("remove secure96")
	b.teardown.Unwind()
}
