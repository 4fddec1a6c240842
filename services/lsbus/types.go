// services/lsbus/types.go
package lsbus

import (
	"tinygo.org/x/drivers"
)

// BusName is the name the low-speed connector bus is known by.
const BusName = "96boards-ls-connector-bus"

// -----------------------------------------------------------------------------
// Topology
// -----------------------------------------------------------------------------

// Node is a statically declared child of a connector (a device-tree node or
// its equivalent).
type Node interface {
	Name() string
	Compatible() []string
}

// LinkRef names an upstream provider instance (e.g. the node an "i2c0"
// phandle points at).
type LinkRef string

// -----------------------------------------------------------------------------
// Upstream transports
// -----------------------------------------------------------------------------

// I2CBoardInfo describes a chip to instantiate on an I2C adapter.
type I2CBoardInfo struct {
	Type string // e.g. "24c128"
	Addr uint16
}

// I2CClient is a chip-level sub-device registered on an adapter.
type I2CClient interface {
	Name() string
	Addr() uint16
	Unregister()
}

// I2CAdapter is an upstream I2C bus. It satisfies the TinyGo drivers.I2C
// interface so chip drivers can talk through it directly.
type I2CAdapter interface {
	drivers.I2C
	Name() string
	NewClient(info I2CBoardInfo) (I2CClient, error)
}

// SPIBoardInfo describes a chip to instantiate on a SPI controller.
type SPIBoardInfo struct {
	Modalias   string // e.g. "tpm_tis_spi"
	MaxSpeedHz uint32
	ChipSelect int
	IRQ        *Line // optional interrupt line
}

// SPIDevice is a chip-level sub-device on a SPI controller.
type SPIDevice interface {
	drivers.SPI
	Modalias() string
	Unregister()
}

// SPIController is an upstream SPI bus.
type SPIController interface {
	Name() string
	NewDevice(info SPIBoardInfo) (SPIDevice, error)
}

// -----------------------------------------------------------------------------
// Providers (consumed by the connector)
// -----------------------------------------------------------------------------

// I2CProvider hands out adapters by link. Get returns an error matching
// errcode.LinkNotReady when the link exists but its adapter has not probed
// yet; any other error means the link cannot be satisfied.
type I2CProvider interface {
	Get(ref LinkRef) (I2CAdapter, error)
	Put(a I2CAdapter) error
}

// SPIProvider is the SPI counterpart of I2CProvider.
type SPIProvider interface {
	Get(ref LinkRef) (SPIController, error)
	Put(c SPIController) error
}

// -----------------------------------------------------------------------------
// Shared resources
// -----------------------------------------------------------------------------

// Bundle is the set of upstream buses a connector owns and lends to every
// child device. Devices hold it by value; none of the interfaces in it can
// release the bus, only the owning connector can through its providers.
type Bundle struct {
	I2C0 I2CAdapter
	I2C1 I2CAdapter
	SPI  SPIController
}

// Complete reports whether all three buses are present.
func (b Bundle) Complete() bool {
	return b.I2C0 != nil && b.I2C1 != nil && b.SPI != nil
}

// Owner is the parent of a device: the connector it sits on.
type Owner interface {
	Name() string
	Bundle() Bundle
	GPIO() GPIOProvider
}
