package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile %q: %v", path, err)
	}
	return path
}

func TestPatchFileDeletesInstruction(t *testing.T) {
	dir := t.TempDir()
	bin := writeFile(t, dir, "func.bin", []byte{
		0x1f, 0x20, 0x03, 0xd5, // hint/nop at 0x0
		0x1f, 0x20, 0x03, 0xd5, // hint/nop at 0x4
	})
	script := writeFile(t, dir, "patch.txt", []byte("delete 0x4\n"))

	image, err := patchFile(bin, script, "aarch64")
	if err != nil {
		t.Fatalf("patchFile: %v", err)
	}
	if len(image) != 8 {
		t.Fatalf("len(image) = %d, want 8", len(image))
	}
	want := []byte{0x1f, 0x20, 0x03, 0xd5}
	if !bytes.Equal(image[4:], want) {
		t.Fatalf("deleted instruction not padded to a NOP: got %x", image[4:])
	}
}

func TestPatchFileRejectsUnknownDirective(t *testing.T) {
	dir := t.TempDir()
	bin := writeFile(t, dir, "func.bin", []byte{0x1f, 0x20, 0x03, 0xd5})
	script := writeFile(t, dir, "patch.txt", []byte("frobnicate 0x0\n"))

	if _, err := patchFile(bin, script, "aarch64"); err == nil {
		t.Fatal("expected an error for an unknown directive")
	}
}

func TestPatchFileRejectsMissingScript(t *testing.T) {
	dir := t.TempDir()
	bin := writeFile(t, dir, "func.bin", []byte{0x1f, 0x20, 0x03, 0xd5})

	if _, err := patchFile(bin, filepath.Join(dir, "missing.txt"), "aarch64"); err == nil {
		t.Fatal("expected an error for a missing script")
	}
}
