package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOverridesAppliesSubsetOfFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	contents := "device: /dev/ttyUSB1\nbaud: 115200\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	d, err := LoadOverrides(New(), path)
	if err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	if d.Device != "/dev/ttyUSB1" {
		t.Fatalf("Device = %q, want /dev/ttyUSB1", d.Device)
	}
	if d.Baud != 115200 {
		t.Fatalf("Baud = %d, want 115200", d.Baud)
	}
	if d.SocketPath != DefaultSocketPath {
		t.Fatalf("SocketPath = %q, want default unchanged", d.SocketPath)
	}
	if d.FirmwarePath != DefaultFirmwarePath {
		t.Fatalf("FirmwarePath = %q, want default unchanged", d.FirmwarePath)
	}
}

func TestLoadOverridesMissingFileReturnsError(t *testing.T) {
	if _, err := LoadOverrides(New(), "/nonexistent/profile.yaml"); err == nil {
		t.Fatal("expected error for missing profile file")
	}
}

func TestNewReturnsCompiledDefaults(t *testing.T) {
	d := New()
	if d.Device != DefaultDevice || d.Baud != DefaultBaud {
		t.Fatalf("New() = %+v, want compiled defaults", d)
	}
}
