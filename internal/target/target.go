// Package target sequences the pin driver, serial channel and protocol
// engine to enter bootloader mode, run one action, and return the
// target to application mode. It owns the session state spec.md §3
// names, replacing the C original's global work struct with an
// explicit value every front-end threads through (spec.md §9).
//
// Grounded on original_source/src/prog/isp.c's micro_init/micro_deinit/
// reset_micro.
package target

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jmore-reachtech/stm32f3-programmer/internal/bootproto"
	"github.com/jmore-reachtech/stm32f3-programmer/internal/pindriver"
	"github.com/jmore-reachtech/stm32f3-programmer/internal/serial"
)

var log = logrus.StandardLogger()

// SetLogger overrides the package logger.
func SetLogger(l *logrus.Logger) { log = l }

// SessionState is the target session's lifecycle, spec.md §3.
type SessionState int

const (
	Idle SessionState = iota
	Ready
	Failed
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// pinDwell is the conservative one-second bound spec.md §4.4 requires
// around every BOOT0/NRST edge, absorbing port-expander latency and
// the target's power-on reset. It may be tightened by an implementer
// who has verified against real target timing, but must never be zero.
// Var, not const, so tests can shrink it.
var pinDwell = 1 * time.Second

// goQuiesce is the delay after GO before the host assumes the target
// has resumed running its application and stops talking on the link
// (spec.md Open Question (b): 5s, the conservative revision). Var, not
// const, so tests can shrink it.
var goQuiesce = 5 * time.Second

// Link is the serial contract the controller and its callers need:
// bootproto's framing plus the extra surface the daemon's readiness
// multiplex and CLI teardown use. *serial.Channel satisfies it
// directly; tests substitute an in-memory fake.
type Link interface {
	bootproto.Link
	ReadSome(buf []byte) (int, error)
	Fd() int
	Close() error
}

// Controller owns one target session: the pin driver, serial link and
// current state. The same Controller serves both the CLI (one action,
// then exit) and the daemon (many actions across one socket
// connection).
type Controller struct {
	Pins  pindriver.Driver
	Link  Link
	State SessionState

	device string
	baud   serial.BaudKey

	opener func(device string, baud serial.BaudKey) (Link, error)
}

// New returns a Controller bound to the given pin driver and serial
// device. The serial channel itself is opened by EnterBootloader.
func New(pins pindriver.Driver, device string, baud serial.BaudKey) *Controller {
	return &Controller{
		Pins: pins, device: device, baud: baud, State: Idle,
		opener: func(device string, baud serial.BaudKey) (Link, error) {
			return serial.Open(serial.NewOptions(device, baud))
		},
	}
}

// newWithOpener is New with an injectable link opener, used by tests to
// substitute an in-memory fake for the real serial device.
func newWithOpener(pins pindriver.Driver, opener func(device string, baud serial.BaudKey) (Link, error)) *Controller {
	c := New(pins, "", 0)
	c.opener = opener
	return c
}

// EnterBootloader brings the target into bootloader mode and performs
// the init handshake. If resetEnabled is false, the caller is assumed
// to have already put the target in bootloader mode externally, and
// the controller only waits briefly before opening the link.
func (c *Controller) EnterBootloader(ctx context.Context, resetEnabled bool) error {
	if resetEnabled {
		log.Debug("target: asserting boot0 and pulsing reset")
		c.Pins.SetBoot(ctx, pindriver.High)
		time.Sleep(pinDwell)
		c.Pins.SetReset(ctx, pindriver.Low)
		time.Sleep(pinDwell)
		c.Pins.SetReset(ctx, pindriver.High)
		time.Sleep(pinDwell)
	} else {
		time.Sleep(pinDwell)
	}

	link, err := c.opener(c.device, c.baud)
	if err != nil {
		c.State = Failed
		return err
	}
	c.Link = link

	if err := bootproto.Init(c.Link); err != nil {
		c.State = Failed
		return err
	}
	c.State = Ready
	log.Info("target: entered bootloader mode")
	return nil
}

// LeaveBootloader returns the target to application mode: drive BOOT0
// low, pulse NRST, close the link, and release the pin driver.
func (c *Controller) LeaveBootloader(ctx context.Context, resetEnabled bool) error {
	if resetEnabled {
		log.Debug("target: releasing boot0 and pulsing reset")
		c.Pins.SetBoot(ctx, pindriver.Low)
		time.Sleep(pinDwell)
		c.Pins.SetReset(ctx, pindriver.Low)
		time.Sleep(pinDwell)
		c.Pins.SetReset(ctx, pindriver.High)
		time.Sleep(pinDwell)
	}
	var err error
	if c.Link != nil {
		err = c.Link.Close()
		c.Link = nil
	}
	if closeErr := c.Pins.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	c.State = Idle
	log.Info("target: left bootloader mode")
	return err
}

// Teardown is the signal-safe shutdown path: drive BOOT0 low, pulse
// NRST, and deinitialize both drivers, regardless of session state.
// It never returns an error to a caller that cannot act on one — the
// event loop logs and exits.
func (c *Controller) Teardown(ctx context.Context) {
	if err := c.LeaveBootloader(ctx, true); err != nil {
		log.WithError(err).Warn("target: teardown error")
	}
}

// SetTimingForTest overrides the pin-dwell and post-GO quiescent
// delays package-wide, for tests outside this package that would
// otherwise block for several real seconds per Controller call.
func SetTimingForTest(dwell, quiesce time.Duration) {
	pinDwell = dwell
	goQuiesce = quiesce
}

// ForTest returns a Controller already in the Ready state with link
// bound to the given Link, for packages downstream of target (firmware,
// the CLI, the daemon) to exercise their own logic against an
// in-memory fake without driving a real pin/serial handshake.
func ForTest(link Link) *Controller {
	return &Controller{Link: link, State: Ready}
}

// Go sends the GO command at addr and waits out the post-GO quiescent
// delay before returning, per spec.md §4.3's "no second ack" rule.
func (c *Controller) Go(addr uint32) error {
	if err := bootproto.Go(c.Link, addr); err != nil {
		c.State = Failed
		return err
	}
	time.Sleep(goQuiesce)
	return nil
}
