package target

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmore-reachtech/stm32f3-programmer/internal/pindriver"
	"github.com/jmore-reachtech/stm32f3-programmer/internal/serial"
)

func init() {
	pinDwell = time.Millisecond
	goQuiesce = time.Millisecond
}

type fakePins struct {
	boots, resets []pindriver.Level
	closed        bool
}

func (p *fakePins) SetBoot(ctx context.Context, level pindriver.Level)  { p.boots = append(p.boots, level) }
func (p *fakePins) SetReset(ctx context.Context, level pindriver.Level) { p.resets = append(p.resets, level) }
func (p *fakePins) Close() error                                       { p.closed = true; return nil }

type fakeLink struct {
	writes    [][]byte
	initAck   byte
	closed    bool
	goAddr    []byte
	readQueue []byte
}

func (l *fakeLink) WriteAll(buf []byte) error {
	cp := append([]byte(nil), buf...)
	l.writes = append(l.writes, cp)
	return nil
}

func (l *fakeLink) ReadExact(buf []byte, n int) error {
	if len(l.readQueue) < n {
		return errors.New("fakeLink: short read")
	}
	copy(buf, l.readQueue[:n])
	l.readQueue = l.readQueue[n:]
	return nil
}

func (l *fakeLink) ReadSome(buf []byte) (int, error) { return 0, nil }
func (l *fakeLink) Fd() int                          { return 3 }
func (l *fakeLink) Close() error                     { l.closed = true; return nil }

func newTestController(pins *fakePins, link *fakeLink) *Controller {
	return newWithOpener(pins, func(device string, baud serial.BaudKey) (Link, error) {
		return link, nil
	})
}

func TestEnterBootloaderPulsesPinsAndHandshakes(t *testing.T) {
	pins := &fakePins{}
	link := &fakeLink{readQueue: []byte{0x79}}
	ctrl := newTestController(pins, link)

	if err := ctrl.EnterBootloader(context.Background(), true); err != nil {
		t.Fatalf("EnterBootloader: %v", err)
	}
	if ctrl.State != Ready {
		t.Fatalf("state = %v, want Ready", ctrl.State)
	}
	if len(pins.boots) != 1 || pins.boots[0] != pindriver.High {
		t.Fatalf("boots = %v, want one High", pins.boots)
	}
	if len(pins.resets) != 2 || pins.resets[0] != pindriver.Low || pins.resets[1] != pindriver.High {
		t.Fatalf("resets = %v, want [Low, High]", pins.resets)
	}
	if len(link.writes) != 1 || link.writes[0][0] != 0x7F {
		t.Fatalf("expected a single init byte write, got %v", link.writes)
	}
}

func TestEnterBootloaderFailsOnNACK(t *testing.T) {
	pins := &fakePins{}
	link := &fakeLink{readQueue: []byte{0x1F}}
	ctrl := newTestController(pins, link)

	if err := ctrl.EnterBootloader(context.Background(), true); err == nil {
		t.Fatal("expected error on NACK handshake")
	}
	if ctrl.State != Failed {
		t.Fatalf("state = %v, want Failed", ctrl.State)
	}
}

func TestLeaveBootloaderClosesLinkAndPins(t *testing.T) {
	pins := &fakePins{}
	link := &fakeLink{readQueue: []byte{0x79}}
	ctrl := newTestController(pins, link)
	if err := ctrl.EnterBootloader(context.Background(), true); err != nil {
		t.Fatalf("EnterBootloader: %v", err)
	}

	if err := ctrl.LeaveBootloader(context.Background(), true); err != nil {
		t.Fatalf("LeaveBootloader: %v", err)
	}
	if !link.closed {
		t.Fatal("expected link to be closed")
	}
	if !pins.closed {
		t.Fatal("expected pins to be closed")
	}
	if ctrl.State != Idle {
		t.Fatalf("state = %v, want Idle", ctrl.State)
	}
	if ctrl.Link != nil {
		t.Fatal("expected Link cleared after LeaveBootloader")
	}
}

func TestGoSendsCommandAndAddressFrames(t *testing.T) {
	pins := &fakePins{}
	link := &fakeLink{readQueue: []byte{0x79}}
	ctrl := newTestController(pins, link)
	ctrl.Link = link

	link.writes = nil
	if err := ctrl.Go(0x0800_0000); err != nil {
		t.Fatalf("Go: %v", err)
	}
	if len(link.writes) != 2 {
		t.Fatalf("expected command + address frame writes, got %d", len(link.writes))
	}
}
