package pindriver

import (
	"github.com/jmore-reachtech/stm32f3-programmer/internal/spi"
)

// spiExpanderSpeedHz is a conservative clock for register-oriented SPI
// GPIO expanders (MCP23S-class parts commonly top out well above this,
// but this driver favors reliability over throughput for a two-bit
// control line).
const spiExpanderSpeedHz = 1_000_000

// spi register opcodes for an MCP23S17-style expander: a one-byte
// opcode carrying the chip's hardware address, followed by register
// address and data bytes, matching the same ctrl/out register layout
// as the I²C variant.
const (
	spiOpcodeWrite = 0x40
	spiOpcodeRead  = 0x41
)

type spiBus struct {
	dev *spi.Device
}

// NewSPIDriver opens the port expander on the named spidev device
// (e.g. "/dev/spidev0.0") for fixtures that wire BOOT0/NRST through an
// SPI GPIO expander instead of I²C.
func NewSPIDriver(path string) (Driver, error) {
	dev, err := spi.Open(path, &spi.Config{Speed: spiExpanderSpeedHz, Bits: 8})
	if err != nil {
		return nil, err
	}
	return newExpander(&spiBus{dev: dev})
}

func (b *spiBus) readOut() (byte, error) {
	resp, err := b.dev.Tx([]byte{spiOpcodeRead, regOut, 0x00})
	if err != nil {
		return 0, err
	}
	return resp[2], nil
}

func (b *spiBus) writeOut(v byte) error {
	_, err := b.dev.Tx([]byte{spiOpcodeWrite, regOut, v})
	return err
}

func (b *spiBus) writeCtrl(v byte) error {
	_, err := b.dev.Tx([]byte{spiOpcodeWrite, regCtrl, v})
	return err
}

func (b *spiBus) close() error {
	return b.dev.Close()
}
