package bootproto

import (
	"bytes"
	"errors"
	"testing"
)

// fakeLink is an in-memory Link: reads come from a canned response
// buffer, writes are appended to a log for assertion, mirroring
// spec.md §8's scripted scenarios.
type fakeLink struct {
	in      *bytes.Buffer
	written [][]byte
}

func newFakeLink(responses ...byte) *fakeLink {
	return &fakeLink{in: bytes.NewBuffer(responses)}
}

func (f *fakeLink) WriteAll(buf []byte) error {
	cp := append([]byte(nil), buf...)
	f.written = append(f.written, cp)
	return nil
}

func (f *fakeLink) ReadExact(buf []byte, n int) error {
	if f.in.Len() < n {
		return ErrShortRead
	}
	got, err := f.in.Read(buf[:n])
	if err != nil || got != n {
		return ErrShortRead
	}
	return nil
}

func TestInitHappyPath(t *testing.T) {
	l := newFakeLink(0x79)
	if err := Init(l); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if len(l.written) != 1 || !bytes.Equal(l.written[0], []byte{0x7F}) {
		t.Fatalf("unexpected write sequence: %v", l.written)
	}
}

func TestInitNACK(t *testing.T) {
	l := newFakeLink(0x1F)
	err := Init(l)
	if err == nil {
		t.Fatal("expected error on NACK")
	}
	if !errors.Is(err, ErrNACK) {
		t.Fatalf("expected ErrNACK, got %v", err)
	}
}

func TestInitUnknownResponse(t *testing.T) {
	l := newFakeLink(0x42)
	err := Init(l)
	if !errors.Is(err, ErrUnknownResponse) {
		t.Fatalf("expected ErrUnknownResponse, got %v", err)
	}
}

func TestGetID(t *testing.T) {
	l := newFakeLink(0x79, 0x01, 0x04, 0x13, 0x79)
	id, err := GetID(l)
	if err != nil {
		t.Fatalf("GetID: %v", err)
	}
	if id != 0x0413 {
		t.Fatalf("id = 0x%04x, want 0x0413", id)
	}
	wantCmd := commandFrame(opGetID)
	if !bytes.Equal(l.written[0], wantCmd[:]) {
		t.Fatalf("command frame = %x, want %x", l.written[0], wantCmd)
	}
}

func TestEraseMemory(t *testing.T) {
	l := newFakeLink(0x79, 0x79)
	if err := EraseMemory(l); err != nil {
		t.Fatalf("EraseMemory: %v", err)
	}
	if len(l.written) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(l.written))
	}
	if !bytes.Equal(l.written[1], []byte{0xFF, 0xFF, 0x00}) {
		t.Fatalf("mass erase frame = %x", l.written[1])
	}
}

func TestWriteMemoryFraming(t *testing.T) {
	l := newFakeLink(0x79, 0x79, 0x79)
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	padded := append(append([]byte(nil), data...), bytes.Repeat([]byte{0xFF}, 156)...)
	if err := WriteMemory(l, 0x08000000, padded); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}
	addr := l.written[1]
	wantAddr := addressFrame(0x08000000)
	if !bytes.Equal(addr, wantAddr[:]) {
		t.Fatalf("address frame = %x, want %x", addr, wantAddr)
	}
	df := l.written[2]
	if df[0] != 0xFF {
		t.Fatalf("length byte = 0x%02x, want 0xFF", df[0])
	}
	if len(df) != 258 {
		t.Fatalf("data frame length = %d, want 258", len(df))
	}
	cs := df[0]
	for _, b := range padded {
		cs ^= b
	}
	if df[257] != cs {
		t.Fatalf("checksum = 0x%02x, want 0x%02x", df[257], cs)
	}
}

func TestGoNoSecondAck(t *testing.T) {
	l := newFakeLink(0x79) // only one ack: for the command phase
	if err := Go(l, 0x08000000); err != nil {
		t.Fatalf("Go: %v", err)
	}
	if len(l.written) != 2 {
		t.Fatalf("expected command+address writes, got %d", len(l.written))
	}
}

func TestGetCmds(t *testing.T) {
	// ack, count=2, bootloader version, two command opcodes, ack
	l := newFakeLink(0x79, 0x02, 0x10, 0x02, 0x11, 0x79)
	version, cmds, err := GetCmds(l)
	if err != nil {
		t.Fatalf("GetCmds: %v", err)
	}
	if version != 0x10 {
		t.Fatalf("version = 0x%02x, want 0x10", version)
	}
	want := []byte{0x02, 0x11}
	if !bytes.Equal(cmds, want) {
		t.Fatalf("cmds = %v, want %v", cmds, want)
	}
}

func TestAddressFrameChecksum(t *testing.T) {
	for _, addr := range []uint32{0, 0x08000000, 0xFFFFFFFF, 0x12345678} {
		f := addressFrame(addr)
		want := f[0] ^ f[1] ^ f[2] ^ f[3]
		if f[4] != want {
			t.Fatalf("addr 0x%x: checksum = 0x%02x, want 0x%02x", addr, f[4], want)
		}
		got := uint32(f[0])<<24 | uint32(f[1])<<16 | uint32(f[2])<<8 | uint32(f[3])
		if got != addr {
			t.Fatalf("addr round-trip = 0x%x, want 0x%x", got, addr)
		}
	}
}

func TestDataFrameChecksum(t *testing.T) {
	for _, n := range []int{1, 4, 100, 256} {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i * 7)
		}
		f := dataFrame(payload)
		if f[0] != byte(n-1) {
			t.Fatalf("n=%d: length byte = %d, want %d", n, f[0], n-1)
		}
		cs := f[0]
		for _, b := range payload {
			cs ^= b
		}
		if f[len(f)-1] != cs {
			t.Fatalf("n=%d: checksum mismatch", n)
		}
	}
}

func TestCommandFrameChecksum(t *testing.T) {
	for _, op := range []byte{0x00, 0x02, 0x11, 0x21, 0x31, 0x44} {
		f := commandFrame(op)
		if f[1] != f[0]^0xFF {
			t.Fatalf("op 0x%02x: checksum byte wrong", op)
		}
	}
}
