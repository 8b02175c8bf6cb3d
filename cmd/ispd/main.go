// Command ispd is the long-running daemon front-end: it owns the
// target session across many client commands, serialized through a
// single UNIX-domain control socket. Grounded on
// original_source/src/progd/ispd_socket.c and main.c.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/jmore-reachtech/stm32f3-programmer/internal/config"
	"github.com/jmore-reachtech/stm32f3-programmer/internal/daemon"
	"github.com/jmore-reachtech/stm32f3-programmer/internal/firmware"
	"github.com/jmore-reachtech/stm32f3-programmer/internal/pindriver"
	"github.com/jmore-reachtech/stm32f3-programmer/internal/serial"
	"github.com/jmore-reachtech/stm32f3-programmer/internal/target"
)

func main() {
	os.Exit(run())
}

func run() int {
	socketPath := flag.String("socket", "", "UNIX control socket path")
	device := flag.String("t", "", "serial device path")
	baudStr := flag.String("b", "", "baud rate")
	profile := flag.String("profile", "", "YAML file overriding defaults")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	expanderBus := flag.String("expander-bus", "i2c", "port-expander transport: i2c or spi")
	expanderDev := flag.String("expander-dev", "", "port-expander device path (default /dev/i2c-1 or /dev/spidev0.0)")
	flag.Parse()

	log := logrus.StandardLogger()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	serial.SetLogger(log)
	target.SetLogger(log)
	firmware.SetLogger(log)
	pindriver.SetLogger(log)
	daemon.SetLogger(log)

	defaults := config.New()
	if *profile != "" {
		var err error
		defaults, err = config.LoadOverrides(defaults, *profile)
		if err != nil {
			log.WithError(err).Error("ispd: failed to load profile")
			return 1
		}
	}
	if *device != "" {
		defaults.Device = *device
	}
	if *socketPath != "" {
		defaults.SocketPath = *socketPath
	}
	baudKey, ok := serial.BaudFromInt(defaults.Baud)
	if !ok {
		log.Warnf("ispd: unrecognized baud %d, falling back to max", defaults.Baud)
		baudKey = serial.BaudMax
	}
	if *baudStr != "" {
		if key, ok := serial.BaudFromString(*baudStr); ok {
			baudKey = key
			if n, err := strconv.Atoi(strings.TrimSuffix(*baudStr, "bps")); err == nil {
				defaults.Baud = n
			}
		} else {
			log.Warnf("ispd: unrecognized baud %q, falling back to max", *baudStr)
			baudKey = serial.BaudMax
		}
	}

	pins, err := openExpander(*expanderBus, *expanderDev)
	if err != nil {
		log.WithError(err).Error("ispd: failed to open pin driver")
		return 1
	}
	ctrl := target.New(pins, defaults.Device, baudKey)

	lp, err := daemon.New(defaults.SocketPath, ctrl, defaults.FirmwarePath, config.FlashBase)
	if err != nil {
		log.WithError(err).Error("ispd: failed to start listener")
		return 1
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Info("ispd: signal received, shutting down")
		lp.Stop()
	}()

	ctx := context.Background()
	if err := lp.Run(ctx, defaults.SocketPath); err != nil {
		log.WithError(err).Error("ispd: event loop exited with error")
		return 1
	}
	return 0
}

// openExpander opens the port-expander pin driver over the requested
// transport. i2c is the common case (fixed at /dev/i2c-1 in the field);
// spi is wired for boards whose expander is a register-oriented SPI
// GPIO part instead.
func openExpander(bus, dev string) (pindriver.Driver, error) {
	switch bus {
	case "spi":
		if dev == "" {
			dev = "/dev/spidev0.0"
		}
		return pindriver.NewSPIDriver(dev)
	case "i2c", "":
		if dev == "" {
			dev = "/dev/i2c-1"
		}
		return pindriver.NewI2CDriver(dev)
	default:
		return nil, fmt.Errorf("ispd: unknown expander bus %q", bus)
	}
}
