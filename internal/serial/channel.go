// Package serial implements the host side of the bootloader UART link:
// an 8E1 raw-mode termios channel over a Linux tty device, adapted from
// github.com/daedaluz/goserial's ioctl-driven Port down to the
// open/read_exact/read_some/write_all/flush_input/close contract
// internal/bootproto needs.
package serial

import (
	"time"

	"github.com/sirupsen/logrus"
)

// InterByteTimeout is the 50ms silent-target timeout: how long
// ReadExact and ReadSome wait for input before each read. Open also
// sets VMIN=0, VTIME=5 (500ms) as the tty's bound on a single read.
const InterByteTimeout = 50 * time.Millisecond

var log = logrus.StandardLogger()

// SetLogger overrides the package logger.
func SetLogger(l *logrus.Logger) { log = l }

// Options describes how to open a Channel. fd is unset (-1) until Open
// and reset to -1 on Close, replacing the C original's fd==0 sentinel
// with an explicit, unambiguous "not open" value (spec.md §9).
type Options struct {
	Device string
	Baud   BaudKey
	fd     int
}

// NewOptions returns Options with fd marked unset.
func NewOptions(device string, baud BaudKey) *Options {
	return &Options{Device: device, Baud: baud, fd: -1}
}

// Channel is a blocking byte stream to the target bootloader UART.
type Channel struct {
	opts *Options
	p    *port
}

// Open puts the line into 8E1 raw mode (parity enabled, canonical mode
// and echo off, no flow control), sets the requested baud on both
// input and output, configures the inter-byte read timeout, flushes
// the input queue, and returns the ready channel.
func Open(opts *Options) (*Channel, error) {
	p, err := openPort(opts.Device)
	if err != nil {
		return nil, wrapErr("serial: open "+opts.Device, err)
	}

	attrs, err := p.getAttr()
	if err != nil {
		p.close()
		return nil, wrapErr("serial: get attr", err)
	}
	attrs.MakeRaw()
	attrs.SetEvenParity()
	attrs.SetSpeed(opts.Baud)
	attrs.SetInterByteTimeout(5) // VTIME in deciseconds: 500ms per read
	if err := p.setAttr(TCSANOW, attrs); err != nil {
		p.close()
		return nil, wrapErr("serial: set attr", err)
	}

	if err := p.flush(TCIFLUSH); err != nil {
		p.close()
		return nil, wrapErr("serial: flush input", err)
	}

	opts.fd = p.f
	log.WithFields(logrus.Fields{"device": opts.Device, "baud": KeyToString(opts.Baud)}).Debug("serial: opened")
	return &Channel{opts: opts, p: p}, nil
}

// ReadExact reads until exactly n bytes are delivered into buf[:n], or
// returns an error. A timeout before n bytes arrive is reported as a
// short read — callers at an ACK phase translate that into "no ACK".
func (c *Channel) ReadExact(buf []byte, n int) error {
	got := 0
	for got < n {
		m, err := c.p.readTimeout(buf[got:n], InterByteTimeout)
		if err != nil {
			return wrapErr("serial: read", err)
		}
		if m == 0 {
			return ErrShortRead
		}
		got += m
	}
	return nil
}

// ReadSome performs a single underlying read and returns whatever
// arrived, used by the daemon's serial-fd readiness handler which must
// not block waiting for a fixed count.
func (c *Channel) ReadSome(buf []byte) (int, error) {
	n, err := c.p.readTimeout(buf, InterByteTimeout)
	if err != nil {
		return 0, wrapErr("serial: read", err)
	}
	return n, nil
}

// WriteAll writes buf in full, returning success only if the kernel
// accepted every byte.
func (c *Channel) WriteAll(buf []byte) error {
	written := 0
	for written < len(buf) {
		n, err := c.p.write(buf[written:])
		if err != nil {
			return wrapErr("serial: write", err)
		}
		if n == 0 {
			return ErrShortWrite
		}
		written += n
	}
	return nil
}

// FlushInput discards unread bytes from the kernel's input queue.
func (c *Channel) FlushInput() error {
	return wrapErr("serial: flush input", c.p.flush(TCIFLUSH))
}

// Fd returns the underlying file descriptor, or -1 if closed. Used by
// the daemon's readiness multiplex.
func (c *Channel) Fd() int {
	return c.p.f
}

// Close closes the descriptor and marks the options' fd unset.
func (c *Channel) Close() error {
	err := c.p.close()
	c.opts.fd = -1
	return err
}
