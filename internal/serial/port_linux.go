package serial

import (
	"syscall"
	"time"
	"unsafe"

	"github.com/daedaluz/fdev/poll"
	ioctl "github.com/daedaluz/goioctl"
)

// port is the raw fd wrapper, adapted from the reference serial
// library's Port type down to the operations this bootloader channel
// needs: open/read/write/close and termios attribute get/set. The
// explicit -1 "unset" sentinel replaces the reference type's
// atomic.Bool-guarded fd, per the session model's no-magic-fd rule.
type port struct {
	f int
}

func openPort(name string) (*port, error) {
	fd, err := syscall.Open(name, syscall.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, err
	}
	return &port{f: fd}, nil
}

func (p *port) write(data []byte) (int, error) {
	if p.f < 0 {
		return 0, ErrClosed
	}
	return syscall.Write(p.f, data)
}

func (p *port) readTimeout(data []byte, timeout time.Duration) (int, error) {
	if err := poll.WaitInput(p.f, timeout); err != nil {
		return 0, err
	}
	return syscall.Read(p.f, data)
}

func (p *port) close() error {
	if p.f < 0 {
		return ErrClosed
	}
	fd := p.f
	p.f = -1
	return syscall.Close(fd)
}

func (p *port) getAttr() (*Termios, error) {
	attrs := &Termios{}
	if err := ioctl.Ioctl(uintptr(p.f), tcgets, uintptr(unsafe.Pointer(attrs))); err != nil {
		return nil, err
	}
	return attrs, nil
}

func (p *port) setAttr(when Action, attrs *Termios) error {
	return ioctl.Ioctl(uintptr(p.f), tcsets+uintptr(when), uintptr(unsafe.Pointer(attrs)))
}

func (p *port) flush(queue Queue) error {
	return ioctl.Ioctl(uintptr(p.f), tcflsh, uintptr(queue))
}
