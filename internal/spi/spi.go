// Package spi is a thin Linux spidev transfer helper, adapted from
// github.com/daedaluz/goserial's spi subpackage. internal/pindriver
// uses it for port-expander boards wired over SPI instead of I²C
// (NewSPIDriver), shifting the BOOT0/NRST output byte through a
// register-oriented SPI GPIO expander.
package spi

import (
	"reflect"
	"syscall"
	"unsafe"

	ioctl "github.com/daedaluz/goioctl"
)

const spiIOCMagic = 'k'

type spiIOCTransfer struct {
	txBuf uint64
	rxBuf uint64

	len     uint32
	speedHz uint32

	delayUsecs     uint16
	bitsPerWord    uint8
	csChange       uint8
	txNBits        uint8
	rxNBits        uint8
	wordDelayUsecs uint8
	pad            uint8
}

var (
	spiIOCWRMaxSpeedHz  = ioctl.IOW(spiIOCMagic, 4, 4)
	spiIOCWRBitsPerWord = ioctl.IOW(spiIOCMagic, 3, 1)
	spiIOCWRMode32      = ioctl.IOW(spiIOCMagic, 5, 4)
	spiIOCMessage       = ioctl.IOW(spiIOCMagic, 0, unsafe.Sizeof(spiIOCTransfer{}))
)

// Mode is the SPI clock polarity/phase mode (SPI_MODE_0..SPI_MODE_3).
type Mode uint32

// Config is the device's fixed transfer parameters.
type Config struct {
	Mode      Mode
	Bits      uint8
	Speed     uint32
	DelayUsec uint16
	CSChange  bool
}

// Device is an open spidev file descriptor.
type Device struct {
	fd  int
	cfg *Config
}

// Tx shifts data out while simultaneously shifting in the same number
// of bytes, the full-duplex semantics a register-oriented GPIO
// expander over SPI relies on to read back its own output register.
func (d *Device) Tx(data []byte) (read []byte, err error) {
	read = make([]byte, len(data))

	dataHeader := (*reflect.SliceHeader)(unsafe.Pointer(&data))
	readHeader := (*reflect.SliceHeader)(unsafe.Pointer(&read))

	xfer := &spiIOCTransfer{
		txBuf:       uint64(dataHeader.Data),
		rxBuf:       uint64(readHeader.Data),
		len:         uint32(dataHeader.Len),
		speedHz:     d.cfg.Speed,
		delayUsecs:  d.cfg.DelayUsec,
		bitsPerWord: d.cfg.Bits,
	}
	if d.cfg.CSChange {
		xfer.csChange = 1
	}
	err = ioctl.Ioctl(uintptr(d.fd), spiIOCMessage, uintptr(unsafe.Pointer(xfer)))
	return
}

// Close closes the underlying file descriptor.
func (d *Device) Close() error {
	return syscall.Close(d.fd)
}

// Open configures and returns a ready-to-use SPI device.
func Open(path string, cfg *Config) (*Device, error) {
	fd, err := syscall.Open(path, syscall.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	if err := ioctl.Ioctl(uintptr(fd), spiIOCWRMaxSpeedHz, uintptr(unsafe.Pointer(&cfg.Speed))); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	if err := ioctl.Ioctl(uintptr(fd), spiIOCWRBitsPerWord, uintptr(unsafe.Pointer(&cfg.Bits))); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	if err := ioctl.Ioctl(uintptr(fd), spiIOCWRMode32, uintptr(unsafe.Pointer(&cfg.Mode))); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	return &Device{fd: fd, cfg: cfg}, nil
}
