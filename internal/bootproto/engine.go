// Package bootproto implements the STM32 UART bootloader wire protocol
// (AN3155): the init handshake, GET_ID, READ_MEMORY, WRITE_MEMORY, the
// extended (mass) ERASE_MEMORY, and GO. It is stateless between calls —
// every exported function is one complete request/response transaction
// over a Link, with no engine-level retry (spec.md §4.3, §7).
//
// Grounded on original_source/lib/stm32.c and include/stm32.h.
package bootproto

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"
)

var log = logrus.StandardLogger()

// SetLogger overrides the package logger.
func SetLogger(l *logrus.Logger) { log = l }

// Link is the minimal blocking byte stream the engine needs. serial.Channel
// satisfies it directly; tests substitute an in-memory fake.
type Link interface {
	WriteAll(buf []byte) error
	ReadExact(buf []byte, n int) error
}

// Opcodes from include/stm32.h. GET (0x00) is sent only by the GetCmds
// diagnostic; the protect/unprotect commands are not implemented.
const (
	opInit      = 0x7F
	opGetCmds   = 0x00
	opGetID     = 0x02
	opReadMem   = 0x11
	opWriteMem  = 0x31
	opEraseExt  = 0x44
	opGo        = 0x21
	ackByte     = 0x79
	nackByte    = 0x1F
	massEraseHi = 0xFF
	massEraseLo = 0xFF
)

// AckStatus classifies a single response byte.
type AckStatus int

const (
	AckOK AckStatus = iota
	AckNACK
	AckUnknown
)

// ReadAck reads exactly one byte and classifies it. Every framed
// command phase in this package calls it after writing its frame.
func ReadAck(l Link) (AckStatus, error) {
	var b [1]byte
	if err := l.ReadExact(b[:], 1); err != nil {
		return AckUnknown, newErr("no-ack", "reading ack", err)
	}
	switch b[0] {
	case ackByte:
		return AckOK, nil
	case nackByte:
		return AckNACK, nil
	default:
		return AckUnknown, nil
	}
}

// expectAck reads one ack byte and turns a non-OK result into the
// matching *Err, per spec.md's "engine does not resync" rule: on any
// non-OK ack the transaction is abandoned immediately.
func expectAck(l Link) error {
	status, err := ReadAck(l)
	if err != nil {
		return err
	}
	switch status {
	case AckOK:
		return nil
	case AckNACK:
		return newErr("nack", "target rejected command", nil)
	default:
		return newErr("unknown-response", "target returned neither ack nor nack", nil)
	}
}

// Init performs the bootloader entry handshake: write 0x7F, expect one
// ack byte. The target must already be in bootloader mode (BOOT0 high
// at reset); calling Init twice without an intervening reset is
// permitted by the wire protocol but may NACK.
func Init(l Link) error {
	if err := l.WriteAll([]byte{opInit}); err != nil {
		return newErr("io", "writing init byte", err)
	}
	if err := expectAck(l); err != nil {
		log.WithError(err).Debug("bootproto: init handshake failed")
		return err
	}
	log.Debug("bootproto: init handshake ok")
	return nil
}

func sendCommand(l Link, op byte) error {
	frame := commandFrame(op)
	if err := l.WriteAll(frame[:]); err != nil {
		return newErr("io", "writing command frame", err)
	}
	return expectAck(l)
}

func sendAddress(l Link, addr uint32) error {
	frame := addressFrame(addr)
	if err := l.WriteAll(frame[:]); err != nil {
		return newErr("io", "writing address frame", err)
	}
	return expectAck(l)
}

// GetID sends GET_ID and returns the target's 16-bit product ID.
func GetID(l Link) (uint16, error) {
	if err := sendCommand(l, opGetID); err != nil {
		return 0, err
	}
	var buf [3]byte // N, PID_H, PID_L (N+1 == 2)
	if err := l.ReadExact(buf[:], 3); err != nil {
		return 0, newErr("short-read", "reading product id", err)
	}
	if err := expectAck(l); err != nil {
		return 0, err
	}
	id := binary.BigEndian.Uint16(buf[1:3])
	log.WithField("id", id).Debug("bootproto: get id")
	return id, nil
}

// ReadMemory reads len(data) bytes (1..256) from addr into data.
func ReadMemory(l Link, addr uint32, data []byte) error {
	n := len(data)
	if n < 1 || n > 256 {
		panic("bootproto: ReadMemory length must be in [1,256]")
	}
	if err := sendCommand(l, opReadMem); err != nil {
		return err
	}
	if err := sendAddress(l, addr); err != nil {
		return err
	}
	lf := lengthFrame(n)
	if err := l.WriteAll(lf[:]); err != nil {
		return newErr("io", "writing read length", err)
	}
	if err := expectAck(l); err != nil {
		return err
	}
	if err := l.ReadExact(data, n); err != nil {
		return newErr("short-read", "reading memory", err)
	}
	return nil
}

// WriteMemory writes data (length a multiple of 4, 1..256 bytes) to
// addr. Callers must pre-pad to a 4-byte multiple; the bootloader NACKs
// unaligned lengths.
func WriteMemory(l Link, addr uint32, data []byte) error {
	n := len(data)
	if n < 1 || n > 256 || n%4 != 0 {
		panic("bootproto: WriteMemory length must be a multiple of 4 in [1,256]")
	}
	if err := sendCommand(l, opWriteMem); err != nil {
		return err
	}
	if err := sendAddress(l, addr); err != nil {
		return err
	}
	frame := dataFrame(data)
	if err := l.WriteAll(frame); err != nil {
		return newErr("io", "writing data frame", err)
	}
	return expectAck(l)
}

// EraseMemory performs a full mass erase via the extended-erase opcode
// (0x44) with the special code 0xFFFF. Selective/sector erase is not
// implemented (spec.md Non-goals, Open Question (c)).
func EraseMemory(l Link) error {
	if err := sendCommand(l, opEraseExt); err != nil {
		return err
	}
	special := []byte{massEraseHi, massEraseLo, massEraseHi ^ massEraseLo}
	if err := l.WriteAll(special); err != nil {
		return newErr("io", "writing mass erase code", err)
	}
	return expectAck(l)
}

// Go sends the GO command and its target address. It does not wait for
// a second ack: a correctly functioning target begins executing user
// code immediately and may never respond. Callers should treat
// write-success as success and follow with a post-GO quiescent delay
// (5s, per spec.md Open Question (b)).
func Go(l Link, addr uint32) error {
	if err := sendCommand(l, opGo); err != nil {
		return err
	}
	frame := addressFrame(addr)
	if err := l.WriteAll(frame[:]); err != nil {
		return newErr("io", "writing go address", err)
	}
	return nil
}

// GetCmds sends the GET command (0x00) and returns the bootloader
// version byte and the list of supported command opcodes. This is a
// debug-only diagnostic (SPEC_FULL §7): nothing in this repo surfaces
// it as a user-facing action, only as a Debug-level log line during
// interactive "status" and the daemon's MV handler.
func GetCmds(l Link) (bootloaderVersion byte, cmds []byte, err error) {
	if err := sendCommand(l, opGetCmds); err != nil {
		return 0, nil, err
	}
	var n [1]byte
	if err := l.ReadExact(n[:], 1); err != nil {
		return 0, nil, newErr("short-read", "reading command count", err)
	}
	buf := make([]byte, int(n[0])+1)
	if err := l.ReadExact(buf, len(buf)); err != nil {
		return 0, nil, newErr("short-read", "reading command list", err)
	}
	if err := expectAck(l); err != nil {
		return 0, nil, err
	}
	return buf[0], buf[1:], nil
}
