package firmware

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jmore-reachtech/stm32f3-programmer/internal/config"
	"github.com/jmore-reachtech/stm32f3-programmer/internal/target"
)

type fakeLink struct {
	writes    [][]byte
	readQueue []byte
}

func (l *fakeLink) WriteAll(buf []byte) error {
	l.writes = append(l.writes, append([]byte(nil), buf...))
	return nil
}

func (l *fakeLink) ReadExact(buf []byte, n int) error {
	copy(buf, l.readQueue[:n])
	l.readQueue = l.readQueue[n:]
	return nil
}

func (l *fakeLink) ReadSome(buf []byte) (int, error) { return 0, nil }
func (l *fakeLink) Fd() int                          { return 3 }
func (l *fakeLink) Close() error                     { return nil }

// acks is a readQueue builder: n ack bytes (0x79), one for each ack
// phase of the erase-then-N-chunk sequence Program drives.
func acks(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = 0x79
	}
	return buf
}

func controllerWithLink(link *fakeLink) *target.Controller {
	ctrl := target.ForTest(link)
	return ctrl
}

func TestProgramPadsLastChunkAndErasesFirst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.bin")
	// One full chunk plus a 10-byte tail that must be padded to 256.
	data := make([]byte, config.ChunkSize+10)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// erase: command+ack, mass-erase-code+ack (2 acks)
	// chunk 1: command+ack, address+ack, data+ack (3 acks)
	// chunk 2: same (3 acks)
	link := &fakeLink{readQueue: acks(2 + 3 + 3)}
	ctrl := controllerWithLink(link)

	var remainders []int
	if err := Program(ctrl, path, func(remaining int) { remainders = append(remainders, remaining) }); err != nil {
		t.Fatalf("Program: %v", err)
	}
	if len(remainders) != 2 || remainders[0] != 2 || remainders[1] != 1 {
		t.Fatalf("progress callbacks = %v, want [2, 1]", remainders)
	}

	// The last write to the link before the final ack-read is the
	// second chunk's data frame; verify it was padded with 0xFF.
	lastDataFrame := link.writes[len(link.writes)-1]
	payload := lastDataFrame[1 : len(lastDataFrame)-1]
	if len(payload) != config.ChunkSize {
		t.Fatalf("last chunk payload len = %d, want %d", len(payload), config.ChunkSize)
	}
	for i := 10; i < len(payload); i++ {
		if payload[i] != 0xFF {
			t.Fatalf("payload[%d] = 0x%02x, want 0xFF padding", i, payload[i])
		}
	}
}

func TestQueryVersionDecodesNibblesAndMatches(t *testing.T) {
	// Three acks for ReadMemory's command/address/length frames, then
	// the four raw version-word bytes.
	link := &fakeLink{readQueue: []byte{0x79, 0x79, 0x79, 0x00, 0x12, 0x00, 0x00}}
	ctrl := controllerWithLink(link)

	word, check, err := QueryVersion(ctrl)
	if err != nil {
		t.Fatalf("QueryVersion: %v", err)
	}
	if check != Match {
		t.Fatalf("check = %v, want Match", check)
	}
	if word.Major() != 1 || word.Minor() != 2 {
		t.Fatalf("major=%d minor=%d, want 1,2", word.Major(), word.Minor())
	}
}

func TestQueryVersionReportsMismatch(t *testing.T) {
	link := &fakeLink{readQueue: []byte{0x79, 0x79, 0x79, 0xAA, 0xBB, 0x00, 0x00}}
	ctrl := controllerWithLink(link)

	_, check, err := QueryVersion(ctrl)
	if err != nil {
		t.Fatalf("QueryVersion: %v", err)
	}
	if check != Mismatch {
		t.Fatalf("check = %v, want Mismatch", check)
	}
}
