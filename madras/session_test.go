package madras

import (
	"bytes"
	"context"
	"testing"

	_ "github.com/maqao-project/madras-core/arch/aarch64"
	"github.com/maqao-project/madras-core/errs"
	"github.com/maqao-project/madras-core/insn"
	"github.com/maqao-project/madras-core/internal/loader"
	"github.com/maqao-project/madras-core/patch"
	"github.com/maqao-project/madras-core/trace"
)

func newBinary() *loader.Static {
	return &loader.Static{
		Mach: "aarch64",
		Secs: []loader.SectionInfo{
			{
				Name: ".text", Attrs: loader.StdCode, Address: 0x1000, Size: 8,
				Bytes: []byte{
					0x1f, 0x20, 0x03, 0xd5, // hint/nop
					0x1f, 0x20, 0x03, 0xd5, // hint/nop
				},
			},
		},
		Labs: []loader.LabelInfo{
			{Name: "entry", Address: 0x1000, Type: loader.LabelFunction, Section: ".text"},
		},
	}
}

func TestNewDisassemblesAndResolvesBinary(t *testing.T) {
	s, err := New(newBinary())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ref, err := s.CursorByLabel("entry")
	if err != nil {
		t.Fatalf("CursorByLabel: %v", err)
	}
	if ref.IsNil() {
		t.Fatal("entry cursor resolved to a nil ref")
	}
}

func TestUnknownMachineReportsUnsupportedArchitecture(t *testing.T) {
	bin := newBinary()
	bin.Mach = "not-a-real-isa"
	if _, err := New(bin); err == nil {
		t.Fatal("expected an error for an unknown machine")
	}
}

func TestDeleteThenCommitProducesPaddedImage(t *testing.T) {
	s, err := New(newBinary())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	anchor, err := s.CursorByAddress(0x1000)
	if err != nil {
		t.Fatalf("CursorByAddress: %v", err)
	}
	if _, err := s.Delete(anchor); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	image, _, err := s.Commit(context.Background())
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(image) != 8 {
		t.Fatalf("len(image) = %d, want 8", len(image))
	}
	want := []byte{0x1f, 0x20, 0x03, 0xd5}
	if !bytes.Equal(image[:4], want) {
		t.Fatalf("deleted instruction not padded with the default NOP: got %x", image[:4])
	}
}

func TestLastErrorDoesNotClearOnSubsequentWarning(t *testing.T) {
	s, err := New(newBinary())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.CursorByAddress(0xdead); err == nil {
		t.Fatal("expected an error for an out-of-range address")
	}
	s.record(errs.Warn(errs.InstructionNotFound, errs.ErrGeneric, "a later warning")) // must not evict the earlier error
	if s.LastError() == nil {
		t.Fatal("LastError should still report the earlier error")
	}
}

func TestSetPaddingRejectsOversizedOverrideThroughSession(t *testing.T) {
	s, err := New(newBinary())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	anchor, err := s.CursorByAddress(0x1000)
	if err != nil {
		t.Fatalf("CursorByAddress: %v", err)
	}
	m, err := s.Delete(anchor)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.SetPadding(m, []byte{0, 0, 0, 0, 0}); err == nil {
		t.Fatal("expected padding-too-large error")
	}
	if e := s.LastError(); e == nil {
		t.Fatal("SetPadding's failure should populate LastError")
	}
}

func TestAddressOfRequiresTrackingAndCommit(t *testing.T) {
	s, err := New(newBinary())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.AddressOf(0x1000); err == nil {
		t.Fatal("AddressOf before commit should fail")
	}

	tracked, err := New(newBinary(), WithAddressTracking())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := tracked.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := tracked.AddressOf(0x1000); err != nil {
		t.Fatalf("AddressOf: %v", err)
	}
}

func TestAddressOfReflectsWriterLayoutNotPlannerIdentity(t *testing.T) {
	s, err := New(newBinary(), WithAddressTracking())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	anchor, err := s.CursorByAddress(0x1004)
	if err != nil {
		t.Fatalf("CursorByAddress: %v", err)
	}

	nop := insn.Instruction{Opcode: searchHint(t, s), ByteSize: 4}
	if _, err := s.Insert(anchor, patch.Before, []insn.Instruction{nop}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, _, err := s.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// the anchor is untouched itself, but a 4-byte instruction was spliced
	// in ahead of it, so its real emitted position is offset 8, not the
	// identity 0x1004 the Planner's pre-layout map would report.
	addr, err := s.AddressOf(0x1004)
	if err != nil {
		t.Fatalf("AddressOf: %v", err)
	}
	if addr != 8 {
		t.Fatalf("AddressOf(0x1004) = %#x, want 0x8 (the writer's post-insertion layout offset)", addr)
	}
}

func TestTraceEmitsOneLinePerCall(t *testing.T) {
	var buf bytes.Buffer
	s, err := New(newBinary(), WithTrace(trace.NewTextLogger(&buf)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	anchor, _ := s.CursorByAddress(0x1000)
	if _, err := s.Delete(anchor); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected at least one traced line")
	}
}

func TestFloatInsertReachedViaSetNextSurvivesCommit(t *testing.T) {
	s, err := New(newBinary())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	anchor, err := s.CursorByAddress(0x1000)
	if err != nil {
		t.Fatalf("CursorByAddress: %v", err)
	}

	nop := insn.Instruction{Opcode: searchHint(t, s), ByteSize: 4}
	floating := s.FloatInsert([]insn.Instruction{nop})
	m, err := s.Insert(anchor, patch.Before, nil)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	s.SetNext(m, floating)

	if _, err := s.PreCommit(); err != nil {
		t.Fatalf("PreCommit: %v", err)
	}
}

func searchHint(t *testing.T, s *Session) insn.OpcodeID {
	t.Helper()
	id, ok := s.file.Arch.OpcodeByName("hint")
	if !ok {
		t.Fatal("hint opcode missing from descriptor")
	}
	return id
}
