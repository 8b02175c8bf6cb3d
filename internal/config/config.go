// Package config holds the compile-time defaults for the programmer,
// replacing the C original's global work struct with an explicit value
// every entry point threads through instead of reaching for.
package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

const (
	// DefaultDevice is the bootloader UART device.
	DefaultDevice = "/dev/ttyUSB0"

	// DefaultBaud is the handshake baud rate (57600 8E1, AN3155).
	DefaultBaud = 57600

	// DefaultFirmwarePath is the image the daemon's MU command programs
	// and the interactive CLI's initial firmware path. Daemon clients
	// have no command to change it.
	DefaultFirmwarePath = "/home/root/main.bin"

	// DefaultSocketPath is the daemon's UNIX control socket.
	DefaultSocketPath = "/tmp/tioSocket"

	// FlashBase is the target's flash origin (STM32 Cat.3/4 parts).
	FlashBase uint32 = 0x0800_0000

	// UserDataOffset is the address of the application's stored
	// version word within the linker-reserved slot.
	UserDataOffset uint32 = 0x0800_0188

	// AppVersion is the version this host expects the target to report.
	AppVersion uint32 = 0x0000_1200

	// ChunkSize is the fixed WRITE_MEMORY transaction size.
	ChunkSize = 256
)

// Defaults is the full set of overridable compile-time values.
type Defaults struct {
	Device       string `yaml:"device"`
	Baud         int    `yaml:"baud"`
	SocketPath   string `yaml:"socket_path"`
	FirmwarePath string `yaml:"firmware_path"`
}

// New returns the compiled-in defaults.
func New() Defaults {
	return Defaults{
		Device:       DefaultDevice,
		Baud:         DefaultBaud,
		SocketPath:   DefaultSocketPath,
		FirmwarePath: DefaultFirmwarePath,
	}
}

// LoadOverrides reads a YAML file grouping any subset of Defaults'
// fields and applies them on top of d. Unset fields in the file leave
// d's value untouched.
func LoadOverrides(d Defaults, path string) (Defaults, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}
	var override Defaults
	if err := yaml.Unmarshal(buf, &override); err != nil {
		return d, err
	}
	if override.Device != "" {
		d.Device = override.Device
	}
	if override.Baud != 0 {
		d.Baud = override.Baud
	}
	if override.SocketPath != "" {
		d.SocketPath = override.SocketPath
	}
	if override.FirmwarePath != "" {
		d.FirmwarePath = override.FirmwarePath
	}
	return d, nil
}
