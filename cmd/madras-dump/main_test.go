package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestProcessPrintsDecodedInstructions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "func.bin")
	if err := os.WriteFile(path, []byte{0x1f, 0x20, 0x03, 0xd5}, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var out bytes.Buffer
	if err := process(&out, path, "aarch64", "entry", 0x1000); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "hint") {
		t.Fatalf("output missing decoded mnemonic:\n%s", got)
	}
	if !strings.Contains(got, "1000:") {
		t.Fatalf("output missing base address:\n%s", got)
	}
}

func TestProcessReportsMissingFile(t *testing.T) {
	var out bytes.Buffer
	if err := process(&out, filepath.Join(t.TempDir(), "nope.bin"), "aarch64", "entry", 0); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
