// Package pindriver drives the target's BOOT0 and NRST pins through an
// I²C-attached port expander (or, on fixtures wired that way, an SPI
// shift register). Grounded on original_source/lib/gpio.c's register
// layout: a control-direction register and an output register, with
// BOOT0 on bit 2 and NRST on bit 3.
//
// Per spec.md §4.1, failures are logged and swallowed here, never
// returned to the caller: a bus glitch on the expander is indistinguishable
// from "the target didn't come up", and the downstream bootloader
// handshake will fail cleanly either way.
package pindriver

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var log = logrus.StandardLogger()

// SetLogger overrides the package logger.
func SetLogger(l *logrus.Logger) { log = l }

// Level is a two-valued pin level.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// Driver is the two-bit output contract spec.md §4.1 names: set the
// named pin and block until the level is effective.
type Driver interface {
	SetBoot(ctx context.Context, level Level)
	SetReset(ctx context.Context, level Level)
	Close() error
}

// Register bit positions on the expander's output register, matching
// original_source/include/gpio.h (GPIO_BOOTP_MASK / GPIO_RESET_MASK).
const (
	bitBoot  = 1 << 2
	bitReset = 1 << 3
)

// maxOpsPerSec rate-limits expander register writes, grounded on the
// ~500 ops/sec budget used for daisy-chained STM32 preamp expanders in
// the pack (brianhealey-ampli-pi4), protecting the shared bus from
// back-to-back BOOT0/NRST toggles during rapid CLI retries.
const maxOpsPerSec = 500

// settleDelay is how long a register write is assumed to take effect,
// satisfying the "block until the level is effective" contract for
// expanders with no readback-confirm path.
const settleDelay = 2 * time.Millisecond

// bus is the minimal register-level contract an expander transport
// must satisfy; i2cBus and spiBus below each implement it.
type bus interface {
	readOut() (byte, error)
	writeOut(byte) error
	writeCtrl(byte) error
	close() error
}

// Expander is a Driver backed by a two-register (ctrl, out) port
// expander reached over I²C or SPI.
type Expander struct {
	b       bus
	limiter *rate.Limiter
	out     byte
}

func newExpander(b bus) (*Expander, error) {
	// Drive both control bits as outputs; everything else left as the
	// device's power-on default, matching gpio_init's 0xF3 ctrl write
	// (all pins input except bits 2 and 3).
	if err := b.writeCtrl(0xF3); err != nil {
		b.close()
		return nil, err
	}
	if err := b.writeOut(0x00); err != nil {
		b.close()
		return nil, err
	}
	return &Expander{b: b, limiter: rate.NewLimiter(rate.Limit(maxOpsPerSec), 10)}, nil
}

func (e *Expander) setBit(ctx context.Context, bit byte, level Level) {
	if err := e.limiter.Wait(ctx); err != nil {
		log.WithError(err).Warn("pindriver: rate limiter wait failed")
	}
	reg, err := e.b.readOut()
	if err != nil {
		log.WithError(err).Warn("pindriver: read output register failed")
		reg = e.out
	}
	if level == High {
		reg |= bit
	} else {
		reg &^= bit
	}
	if err := e.b.writeOut(reg); err != nil {
		log.WithError(err).Warn("pindriver: write output register failed")
		return
	}
	e.out = reg
	time.Sleep(settleDelay)
}

// SetBoot drives BOOT0 to level.
func (e *Expander) SetBoot(ctx context.Context, level Level) {
	log.WithField("level", level).Debug("pindriver: set boot")
	e.setBit(ctx, bitBoot, level)
}

// SetReset drives NRST to level.
func (e *Expander) SetReset(ctx context.Context, level Level) {
	log.WithField("level", level).Debug("pindriver: set reset")
	e.setBit(ctx, bitReset, level)
}

// Close resets the expander to an all-input, all-low state and
// releases the underlying transport, matching gpio_deinit.
func (e *Expander) Close() error {
	if err := e.b.writeCtrl(0xFF); err != nil {
		log.WithError(err).Warn("pindriver: deinit ctrl write failed")
	}
	if err := e.b.writeOut(0x00); err != nil {
		log.WithError(err).Warn("pindriver: deinit out write failed")
	}
	return e.b.close()
}
