// Package daemon implements the long-running ISP front-end: a UNIX
// socket accepting a single control client, multiplexed against the
// target's serial fd with a readiness-based wait. Grounded on
// original_source/src/prog/ispd.c's event loop and
// src/include/server_p.h's command table; the multiplex itself is
// grounded on golang.org/x/sys/unix.Select, sized for exactly the
// three file descriptors this loop ever waits on.
package daemon

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/jmore-reachtech/stm32f3-programmer/internal/bootproto"
	"github.com/jmore-reachtech/stm32f3-programmer/internal/firmware"
	"github.com/jmore-reachtech/stm32f3-programmer/internal/target"
)

var log = logrus.StandardLogger()

// SetLogger overrides the package logger.
func SetLogger(l *logrus.Logger) { log = l }

// Command bytes the control socket accepts, spec.md §4.8.
const (
	CmdEnter   = 'S'
	CmdVersion = 'V'
	CmdUpdate  = 'U'
	CmdGo      = 'G'
	CmdQuit    = 'Q'
)

// Status notification values, spec.md §3's fixed table.
const (
	statusReady    = "Ready"
	statusBusy     = "Busy"
	statusIdle     = "Idle"
	statusUpdating = "Updating"
	statusComplete = "Complete"
)

// Loop owns the daemon's three long-lived resources and the session
// controller it drives. One Loop serves the socket's whole lifetime;
// a fresh Controller session begins at each MS and ends at each MQ.
type Loop struct {
	listener *net.UnixListener
	client   net.Conn
	Ctrl     *target.Controller

	firmwarePath string
	flashBase    uint32

	stop atomic.Bool
}

// New returns a Loop listening on socketPath, unlinking any stale
// socket file left by a prior unclean exit.
func New(socketPath string, ctrl *target.Controller, firmwarePath string, flashBase uint32) (*Loop, error) {
	_ = os.Remove(socketPath)
	addr, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, err
	}
	return &Loop{listener: ln, Ctrl: ctrl, firmwarePath: firmwarePath, flashBase: flashBase}, nil
}

// Stop requests the loop to exit at the next readiness wakeup. Safe to
// call from a signal handler goroutine.
func (lp *Loop) Stop() { lp.stop.Store(true) }

// listenerFd returns the listening socket's raw descriptor for the
// select(2) wait set.
func listenerFd(ln *net.UnixListener) (int, error) {
	sc, err := ln.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	cerr := sc.Control(func(f uintptr) { fd = int(f) })
	if cerr != nil {
		return -1, cerr
	}
	return fd, nil
}

func connFd(conn *net.UnixConn) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	cerr := sc.Control(func(f uintptr) { fd = int(f) })
	if cerr != nil {
		return -1, cerr
	}
	return fd, nil
}

// Run drives the event loop until Stop is called or an unrecoverable
// select error occurs. It always tears down the target session and
// unlinks the socket path before returning, per spec.md §4.7's
// unconditional teardown.
func (lp *Loop) Run(ctx context.Context, socketPath string) error {
	defer lp.teardown(ctx, socketPath)

	lFd, err := listenerFd(lp.listener)
	if err != nil {
		return err
	}

	for !lp.stop.Load() {
		var rfds unix.FdSet
		maxFd := lFd
		if lp.client == nil {
			// Single-client policy: the listener leaves the wait set
			// while a client is connected.
			fdSetAdd(&rfds, lFd)
		}

		serialFd := -1
		if lp.Ctrl.Link != nil {
			serialFd = lp.Ctrl.Link.Fd()
			fdSetAdd(&rfds, serialFd)
			if serialFd > maxFd {
				maxFd = serialFd
			}
		}

		clientFd := -1
		if lp.client != nil {
			if uc, ok := lp.client.(*net.UnixConn); ok {
				clientFd, err = connFd(uc)
				if err == nil {
					fdSetAdd(&rfds, clientFd)
					if clientFd > maxFd {
						maxFd = clientFd
					}
				}
			}
		}

		n, err := unix.Select(maxFd+1, &rfds, nil, nil, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("daemon: select: %w", err)
		}
		if n == 0 {
			continue
		}

		if fdSetHas(&rfds, lFd) {
			lp.acceptClient()
		}
		if clientFd != -1 && fdSetHas(&rfds, clientFd) {
			lp.handleClient(ctx)
		}
		if serialFd != -1 && fdSetHas(&rfds, serialFd) {
			lp.handleSerial()
		}
	}
	return nil
}

func (lp *Loop) acceptClient() {
	conn, err := lp.listener.Accept()
	if err != nil {
		log.WithError(err).Warn("daemon: accept failed")
		return
	}
	if lp.client != nil {
		// Single-client policy: refuse a second connection outright.
		conn.Close()
		return
	}
	lp.client = conn
	log.Info("daemon: client connected")
	lp.notify(statusReady)
}

func (lp *Loop) handleClient(ctx context.Context) {
	buf := make([]byte, 3)
	n, err := lp.client.Read(buf)
	if err != nil || n <= 0 {
		log.Info("daemon: client disconnected")
		lp.client.Close()
		lp.client = nil
		return
	}
	if buf[2] != '\n' {
		return
	}
	lp.dispatch(ctx, buf[1])
}

func (lp *Loop) handleSerial() {
	buf := make([]byte, 256)
	n, err := lp.Ctrl.Link.ReadSome(buf)
	if err != nil {
		log.WithError(err).Debug("daemon: serial read failed")
		return
	}
	if n == 0 {
		return
	}
	lp.writeClient(string(buf[:n]) + "\n")
}

// dispatch implements spec.md §4.8's command table.
func (lp *Loop) dispatch(ctx context.Context, cmd byte) {
	switch cmd {
	case CmdEnter:
		lp.notify(statusBusy)
		if err := lp.Ctrl.EnterBootloader(ctx, true); err != nil {
			log.WithError(err).Warn("daemon: MS failed")
			return
		}
		lp.notify(statusReady)
	case CmdVersion:
		word, _, err := firmware.QueryVersion(lp.Ctrl)
		if err != nil {
			log.WithError(err).Warn("daemon: MV failed")
			return
		}
		if _, vcmds, err := bootproto.GetCmds(lp.Ctrl.Link); err == nil {
			log.WithField("cmds", vcmds).Debug("daemon: target command list")
		}
		lp.writeClient(fmt.Sprintf("micro_input.text=%d.%d.%d\n", word.Major(), word.Minor(), word.Patch()))
	case CmdUpdate:
		lp.notify(statusUpdating)
		err := firmware.Program(lp.Ctrl, lp.firmwarePath, func(remaining int) {
			lp.writeClient(fmt.Sprintf("txtStatus.text=%d\n", remaining))
		})
		if err != nil {
			log.WithError(err).Warn("daemon: MU failed")
			return
		}
		lp.notify(statusComplete)
	case CmdGo:
		if err := lp.Ctrl.Go(lp.flashBase); err != nil {
			log.WithError(err).Warn("daemon: MG failed")
		}
	case CmdQuit:
		if err := lp.Ctrl.LeaveBootloader(ctx, true); err != nil {
			log.WithError(err).Warn("daemon: MQ failed")
		}
		lp.notify(statusIdle)
		lp.Stop()
	default:
		lp.writeClient("IV\n")
	}
}

func (lp *Loop) notify(status string) {
	lp.writeClient(fmt.Sprintf("txtStatus.text=%s\n", status))
}

func (lp *Loop) writeClient(line string) {
	if lp.client == nil {
		return
	}
	w := bufio.NewWriter(lp.client)
	if _, err := w.WriteString(line); err != nil {
		log.WithError(err).Debug("daemon: write to client failed")
		return
	}
	_ = w.Flush()
}

func (lp *Loop) teardown(ctx context.Context, socketPath string) {
	if lp.Ctrl.State == target.Ready {
		if err := lp.Ctrl.LeaveBootloader(ctx, true); err != nil {
			log.WithError(err).Warn("daemon: teardown leave bootloader failed")
		}
	}
	if lp.client != nil {
		lp.client.Close()
	}
	if err := lp.listener.Close(); err != nil {
		log.WithError(err).Warn("daemon: closing listener failed")
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("daemon: unlinking socket path failed")
	}
}

func fdSetAdd(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= int64(1 << (uint(fd) % 64))
}

func fdSetHas(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&int64(1<<(uint(fd)%64)) != 0
}
