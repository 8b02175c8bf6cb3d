package pindriver

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// i2cAddr is the expander's 7-bit slave address, matching
// original_source/include/gpio.h's I2C_ADDR.
const i2cAddr = 0x3E

// Expander register addresses, matching original_source/include/gpio.h.
const (
	regInput = 0x00
	regOut   = 0x01
	regCtrl  = 0x03
)

type i2cBus struct {
	dev *i2c.Dev
	bus i2c.BusCloser
}

// NewI2CDriver opens the port expander on the named I²C bus (e.g.
// "/dev/i2c-0", matching original_source's I2C_DEV) and returns a
// ready-to-use Driver.
func NewI2CDriver(busName string) (Driver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("pindriver: periph host init: %w", err)
	}
	b, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("pindriver: open i2c bus %s: %w", busName, err)
	}
	dev := &i2c.Dev{Bus: b, Addr: i2cAddr}
	e, err := newExpander(&i2cBus{dev: dev, bus: b})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (b *i2cBus) readOut() (byte, error) {
	var out [1]byte
	if err := b.dev.Tx([]byte{regOut}, out[:]); err != nil {
		return 0, err
	}
	return out[0], nil
}

func (b *i2cBus) writeOut(v byte) error {
	return b.dev.Tx([]byte{regOut, v}, nil)
}

func (b *i2cBus) writeCtrl(v byte) error {
	return b.dev.Tx([]byte{regCtrl, v}, nil)
}

func (b *i2cBus) close() error {
	return b.bus.Close()
}
