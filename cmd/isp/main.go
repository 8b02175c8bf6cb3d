// Command isp is the one-shot CLI front-end: parse flags, run exactly
// one task against the target, print the result, and exit. Grounded on
// original_source/src/prog/isp.c's main and amrbekhit-microchipboot's
// cmd/microchipboot/main.go flag shape.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jmore-reachtech/stm32f3-programmer/internal/bootproto"
	"github.com/jmore-reachtech/stm32f3-programmer/internal/config"
	"github.com/jmore-reachtech/stm32f3-programmer/internal/firmware"
	"github.com/jmore-reachtech/stm32f3-programmer/internal/pindriver"
	"github.com/jmore-reachtech/stm32f3-programmer/internal/serial"
	"github.com/jmore-reachtech/stm32f3-programmer/internal/target"
)

// appVersion is config.AppVersion printed as MAJOR.MINOR.PATCH.
var appVersion = fmt.Sprintf("%d.%d.%d",
	firmware.VersionWord(config.AppVersion).Major(),
	firmware.VersionWord(config.AppVersion).Minor(),
	firmware.VersionWord(config.AppVersion).Patch())

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("isp", flag.ContinueOnError)
	help := fs.Bool("h", false, "print help and exit")
	printVersion := fs.Bool("v", false, "print compiled app version and exit")
	writePath := fs.String("w", "", "write flash from `path` (erase + program)")
	readPath := fs.String("r", "", "read flash to `path` (reserved; not implemented)")
	query := fs.Bool("q", false, "query and print target version")
	interactive := fs.Bool("i", false, "interactive mode")
	baudStr := fs.String("b", "", "baud rate, e.g. 57600 or 115200bps")
	device := fs.String("t", "", "serial device path")
	skipReset := fs.Bool("s", false, "skip reset (assume caller already put target in bootloader mode)")
	before := fs.String("before", "", "command to run before the action")
	after := fs.String("after", "", "command to run after the action completes successfully")
	profile := fs.String("profile", "", "YAML file overriding device/baud/socket_path/firmware_path defaults")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	expanderBus := fs.String("expander-bus", "i2c", "port-expander transport: i2c or spi")
	expanderDev := fs.String("expander-dev", "", "port-expander device path (default /dev/i2c-1 or /dev/spidev0.0)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	log := logrus.StandardLogger()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	serial.SetLogger(log)
	target.SetLogger(log)
	firmware.SetLogger(log)
	pindriver.SetLogger(log)

	if *help {
		fs.Usage()
		return 0
	}
	if *printVersion {
		fmt.Println(appVersion)
		return 0
	}

	tasks := 0
	for _, set := range []bool{*writePath != "", *readPath != "", *query, *interactive} {
		if set {
			tasks++
		}
	}
	if tasks > 1 {
		fmt.Fprintln(os.Stderr, "isp: -w, -r, -q and -i are mutually exclusive")
		return 2
	}
	if tasks == 0 {
		fmt.Fprintln(os.Stderr, "isp: no task given, use -h for usage")
		return 2
	}
	if *readPath != "" {
		fmt.Fprintln(os.Stderr, "isp: -r is reserved and not implemented")
		return 2
	}

	defaults := config.New()
	if *profile != "" {
		var err error
		defaults, err = config.LoadOverrides(defaults, *profile)
		if err != nil {
			log.WithError(err).Error("isp: failed to load profile")
			return 1
		}
	}
	if *device != "" {
		defaults.Device = *device
	}
	baudKey, ok := serial.BaudFromInt(defaults.Baud)
	if !ok {
		log.Warnf("isp: unrecognized baud %d, falling back to max", defaults.Baud)
		baudKey = serial.BaudMax
	}
	if *baudStr != "" {
		if key, ok := serial.BaudFromString(*baudStr); ok {
			baudKey = key
			if n, err := strconv.Atoi(strings.TrimSuffix(*baudStr, "bps")); err == nil {
				defaults.Baud = n
			}
		} else {
			log.Warnf("isp: unrecognized baud %q, falling back to max", *baudStr)
			baudKey = serial.BaudMax
		}
	}

	pins, err := openExpander(*expanderBus, *expanderDev)
	if err != nil {
		log.WithError(err).Error("isp: failed to open pin driver")
		return 1
	}
	ctrl := target.New(pins, defaults.Device, baudKey)

	if *before != "" {
		if err := exec.Command(*before).Run(); err != nil {
			log.WithError(err).Error("isp: before-hook failed")
			return 1
		}
	}

	ctx := context.Background()
	if err := ctrl.EnterBootloader(ctx, !*skipReset); err != nil {
		log.WithError(err).Error("isp: failed to enter bootloader mode")
		return 1
	}
	defer ctrl.Teardown(ctx)

	var actionErr error
	switch {
	case *writePath != "":
		actionErr = doWrite(ctrl, *writePath)
	case *query:
		actionErr = doQuery(ctrl)
	case *interactive:
		actionErr = runInteractive(ctrl, defaults)
	}
	if actionErr != nil {
		log.WithError(actionErr).Error("isp: action failed")
		return 1
	}

	if *after != "" {
		if err := exec.Command(*after).Run(); err != nil {
			log.WithError(err).Error("isp: after-hook failed")
			return 1
		}
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
		return nil, fmt.Errorf("isp: unknown expander bus %q", bus)
	}
}

func doWrite(ctrl *target.Controller, path string) error {
	return firmware.Program(ctrl, path, func(remaining int) {
		fmt.Printf("%d chunks remaining\n", remaining)
	})
}

func doQuery(ctrl *target.Controller) error {
	word, check, err := firmware.QueryVersion(ctrl)
	if err != nil {
		return err
	}
	fmt.Printf("%d.%d.%d (%s)\n", word.Major(), word.Minor(), word.Patch(), check)
	return nil
}

// runInteractive implements spec.md §6's line-buffered command loop.
func runInteractive(ctrl *target.Controller, defaults config.Defaults) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("isp interactive mode, type 'help' for commands")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return nil
		}
		cmd := strings.TrimSpace(scanner.Text())
		switch cmd {
		case "help":
			fmt.Println("commands: help, micro-ver, app-ver, status, update, firmware, exit")
		case "micro-ver":
			if err := doQuery(ctrl); err != nil {
				fmt.Println("error:", err)
			}
		case "app-ver":
			fmt.Println(appVersion)
		case "status":
			fmt.Println("state:", ctrl.State)
			if ctrl.State == target.Ready {
				if version, cmds, err := bootproto.GetCmds(ctrl.Link); err == nil {
					logrus.StandardLogger().WithField("bootloader_version", version).
						WithField("cmds", cmds).Debug("isp: target command list")
				}
			}
		case "firmware":
			fmt.Print("firmware path: ")
			if !scanner.Scan() {
				return nil
			}
			path := strings.TrimSpace(scanner.Text())
			if path != "" {
				defaults.FirmwarePath = path
			}
			fmt.Println("firmware path set to", defaults.FirmwarePath)
		case "update":
			if err := doWrite(ctrl, defaults.FirmwarePath); err != nil {
				fmt.Println("error:", err)
			} else {
				fmt.Println("update complete")
			}
		case "exit":
			return nil
		case "":
		default:
			fmt.Println("unknown command, type 'help'")
		}
	}
}
