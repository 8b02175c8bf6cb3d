// Package firmware implements the chunked flash programmer and the
// target version query, spec.md §4.5/§4.6. Grounded on
// original_source/src/prog/isp.c's update_firmware.
package firmware

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/jmore-reachtech/stm32f3-programmer/internal/bootproto"
	"github.com/jmore-reachtech/stm32f3-programmer/internal/config"
	"github.com/jmore-reachtech/stm32f3-programmer/internal/target"
)

var log = logrus.StandardLogger()

// SetLogger overrides the package logger.
func SetLogger(l *logrus.Logger) { log = l }

// VersionCheck is the three-valued comparison result from spec.md §4.6.
type VersionCheck int

const (
	Match VersionCheck = iota
	Mismatch
	Unchecked
)

func (v VersionCheck) String() string {
	switch v {
	case Match:
		return "match"
	case Mismatch:
		return "mismatch"
	default:
		return "unchecked"
	}
}

// VersionWord is the 32-bit MAJOR/MINOR/PATCH/REVISION nibble layout
// from spec.md §3.
type VersionWord uint32

func (v VersionWord) Major() uint8    { return uint8((v >> 12) & 0xF) }
func (v VersionWord) Minor() uint8    { return uint8((v >> 8) & 0xF) }
func (v VersionWord) Patch() uint8    { return uint8((v >> 4) & 0xF) }
func (v VersionWord) Revision() uint8 { return uint8(v & 0xF) }

// Program erases the target's flash and writes path in 256-byte
// chunks starting at config.FlashBase. progress is called once per
// chunk, after it is written, with the number of chunks remaining
// counting that chunk: the first call reports the total and the final
// call reports 1. Any failed chunk aborts
// the whole operation; the flash is left in an undefined state and
// recovery is a full retry (spec.md §4.5, §7).
func Program(ctrl *target.Controller, path string, progress func(remaining int)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	numChunks := int((size + config.ChunkSize - 1) / config.ChunkSize)

	log.WithField("chunks", numChunks).Info("firmware: erasing flash")
	if err := bootproto.EraseMemory(ctrl.Link); err != nil {
		return err
	}

	buf := make([]byte, config.ChunkSize)
	addr := config.FlashBase
	remaining := numChunks
	for {
		n, err := io.ReadFull(f, buf)
		if n == 0 {
			if err == io.EOF {
				break
			}
			return err
		}
		if n < len(buf) {
			for i := n; i < len(buf); i++ {
				buf[i] = 0xFF
			}
		}
		if werr := bootproto.WriteMemory(ctrl.Link, addr, buf); werr != nil {
			return werr
		}
		if progress != nil {
			progress(remaining)
		}
		remaining--
		addr += config.ChunkSize
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
	}
	log.Info("firmware: programming complete")
	return nil
}

// QueryVersion reads the stored version word at config.UserDataOffset
// and compares it against config.AppVersion. The word is stored
// little-endian by the target (a native 32-bit constant); the wire
// itself carries raw bytes untouched by the protocol engine.
func QueryVersion(ctrl *target.Controller) (VersionWord, VersionCheck, error) {
	var raw [4]byte
	if err := bootproto.ReadMemory(ctrl.Link, config.UserDataOffset, raw[:]); err != nil {
		return 0, Unchecked, err
	}
	word := VersionWord(uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24)
	check := Mismatch
	if uint32(word) == config.AppVersion {
		check = Match
	}
	log.WithFields(logrus.Fields{
		"major": word.Major(), "minor": word.Minor(), "patch": word.Patch(),
		"check": check,
	}).Info("firmware: queried version")
	return word, check, nil
}
