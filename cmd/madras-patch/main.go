// Command madras-patch applies a small text patch script to a flat binary
// file and writes out the patched image, demonstrating the session API of
// spec §6.3 end to end: disassemble, queue modifications, pre-commit,
// commit, write. Grounded on the teacher's cmd/wasm-run/main.go shape (one
// flag-parsed entry point opening a file, driving one subsystem, and
// reporting per-step failures via log.Fatalf) adapted from running a WASM
// module to running a patch script.
//
// Script format, one directive per line, blank lines and "#" comments
// ignored:
//
//	delete <hex-address>
//	replace <hex-address> <mnemonic>
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	_ "github.com/maqao-project/madras-core/arch/aarch64"
	"github.com/maqao-project/madras-core/insn"
	"github.com/maqao-project/madras-core/internal/loader"
	"github.com/maqao-project/madras-core/madras"
)

func main() {
	log.SetPrefix("madras-patch: ")
	log.SetFlags(0)

	archName := flag.String("arch", "aarch64", "architecture descriptor name")
	script := flag.String("script", "", "patch script file")
	out := flag.String("o", "", "output file (default: <input>.patched)")

	flag.Parse()
	if flag.NArg() < 1 || *script == "" {
		fmt.Fprintln(os.Stderr, "Usage: madras-patch -script patch.txt [-arch aarch64] [-o out.bin] file.bin")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fname := flag.Arg(0)
	outName := *out
	if outName == "" {
		outName = fname + ".patched"
	}

	image, err := patchFile(fname, *script, *archName)
	if err != nil {
		log.Fatal(err)
	}
	if err := os.WriteFile(outName, image, 0o644); err != nil {
		log.Fatalf("write %q: %v", outName, err)
	}
	fmt.Printf("wrote %d bytes to %s\n", len(image), outName)
}

// patchFile reads fname as a flat binary, disassembles it as archName,
// applies the directives in scriptPath, and returns the committed image.
func patchFile(fname, scriptPath, archName string) ([]byte, error) {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return nil, fmt.Errorf("could not open %q: %w", fname, err)
	}

	bin := &loader.Static{
		Mach: archName,
		Secs: []loader.SectionInfo{
			{Name: ".text", Attrs: loader.StdCode, Address: 0, Size: uint64(len(raw)), Bytes: raw},
		},
		Labs: []loader.LabelInfo{
			{Name: "entry", Address: 0, Type: loader.LabelFunction, Section: ".text"},
		},
	}

	s, err := madras.New(bin)
	if err != nil {
		return nil, fmt.Errorf("disassemble: %w", err)
	}

	if err := applyScript(s, scriptPath); err != nil {
		return nil, fmt.Errorf("apply script: %w", err)
	}

	image, _, err := s.Commit(context.Background())
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return image, nil
}

func applyScript(s *madras.Session, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "delete":
			if err := applyDelete(s, fields); err != nil {
				return err
			}
		case "replace":
			if err := applyReplace(s, fields); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown directive %q", fields[0])
		}
	}
	return scanner.Err()
}

func applyDelete(s *madras.Session, fields []string) error {
	if len(fields) != 2 {
		return fmt.Errorf("delete: want 1 argument, got %d", len(fields)-1)
	}
	addr, err := parseHex(fields[1])
	if err != nil {
		return err
	}
	ref, err := s.CursorByAddress(addr)
	if err != nil {
		return err
	}
	_, err = s.Delete(ref)
	return err
}

func applyReplace(s *madras.Session, fields []string) error {
	if len(fields) != 3 {
		return fmt.Errorf("replace: want 2 arguments, got %d", len(fields)-1)
	}
	addr, err := parseHex(fields[1])
	if err != nil {
		return err
	}
	ref, err := s.CursorByAddress(addr)
	if err != nil {
		return err
	}
	opcode, ok := s.File().Arch.OpcodeByName(fields[2])
	if !ok {
		return fmt.Errorf("replace: unknown mnemonic %q", fields[2])
	}
	_, err = s.Replace(ref, insn.Instruction{Opcode: opcode})
	return err
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	return strconv.ParseUint(s, 16, 64)
}
