package resolver

import (
	"testing"

	"github.com/maqao-project/madras-core/arch/aarch64"
	"github.com/maqao-project/madras-core/asmfile"
	"github.com/maqao-project/madras-core/disassembler"
	"github.com/maqao-project/madras-core/insn"
	"github.com/maqao-project/madras-core/internal/loader"
)

func newFile(bin *loader.Static) *asmfile.AssemblyFile {
	f := asmfile.New(bin, aarch64.Descriptor)
	for _, s := range bin.Sections() {
		f.AddSection(s)
	}
	return f
}

func TestResolveBackwardBranchBindsImmediately(t *testing.T) {
	bin := &loader.Static{
		Secs: []loader.SectionInfo{
			{
				Name: ".text", Attrs: loader.StdCode, Address: 0x1000, Size: 8,
				Bytes: []byte{
					0x1f, 0x20, 0x03, 0xd5, // hint/nop, at 0x1000
					0xff, 0xff, 0xff, 0x17, // b #-4, at 0x1004, targets 0x1000
				},
			},
		},
	}
	f := newFile(bin)
	r := New()
	if err := disassembler.New(f, disassembler.WithResolver(r)).Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	first, _ := f.First()
	branch, ok := f.Next(first)
	if !ok {
		t.Fatal("branch instruction missing")
	}
	b, _ := f.Get(branch)
	if len(b.Operands) != 1 {
		t.Fatalf("branch operands = %+v", b.Operands)
	}
	if !b.Operands[0].Ptr.Resolved() {
		t.Fatal("backward branch should resolve immediately")
	}
	if b.Branch.Target != insn.TargetInstruction || b.Branch.Instr != first {
		t.Fatalf("branch.Branch = %+v, want target=%v instr=%v", b.Branch, first, first)
	}
	if len(r.pending) != 0 {
		t.Fatalf("pending = %v, want empty", r.pending)
	}
}

func TestResolveForwardBranchDefersToFinalize(t *testing.T) {
	bin := &loader.Static{
		Secs: []loader.SectionInfo{
			{
				Name: ".text", Attrs: loader.StdCode, Address: 0x1000, Size: 8,
				Bytes: []byte{
					0x01, 0x00, 0x00, 0x14, // b #4, at 0x1000, targets 0x1004
					0x1f, 0x20, 0x03, 0xd5, // hint/nop, at 0x1004
				},
			},
		},
	}
	f := newFile(bin)
	r := New()
	if err := disassembler.New(f, disassembler.WithResolver(r)).Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	branch, _ := f.First()
	b, _ := f.Get(branch)
	if b.Operands[0].Ptr.Resolved() {
		t.Fatal("forward branch should not resolve until Finalize")
	}
	if len(r.pending) != 1 {
		t.Fatalf("pending = %v, want exactly the branch", r.pending)
	}

	target, ok := f.Next(branch)
	if !ok {
		t.Fatal("target instruction missing")
	}

	if warnings := r.Finalize(f); len(warnings) != 0 {
		t.Fatalf("Finalize warnings = %v, want none", warnings)
	}

	b, _ = f.Get(branch)
	if !b.Operands[0].Ptr.Resolved() {
		t.Fatal("Finalize should have resolved the forward branch")
	}
	if b.Branch.Target != insn.TargetInstruction || b.Branch.Instr != target {
		t.Fatalf("branch.Branch = %+v, want target=%v instr=%v", b.Branch, target, target)
	}
	if len(r.pending) != 0 {
		t.Fatalf("pending after Finalize = %v, want empty", r.pending)
	}
}

func TestFinalizeWarnsOnUnresolvableBranch(t *testing.T) {
	bin := &loader.Static{
		Secs: []loader.SectionInfo{
			{
				Name: ".text", Attrs: loader.StdCode, Address: 0x1000, Size: 4,
				Bytes: []byte{
					0xff, 0xff, 0xff, 0x15, // b targeting an address with no decoded instruction
				},
			},
		},
	}
	f := newFile(bin)
	r := New()
	if err := disassembler.New(f, disassembler.WithResolver(r)).Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	warnings := r.Finalize(f)
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", warnings)
	}
	if !warnings[0].IsWarning() {
		t.Fatal("Finalize's report should be a Warning, not a hard Error")
	}
}

func TestResolveMemoryRelativeMaterialisesDataFromVariableLabel(t *testing.T) {
	bin := &loader.Static{
		Secs: []loader.SectionInfo{
			{
				Name: ".text", Attrs: loader.StdCode, Address: 0x4000, Size: 4,
				Bytes: []byte{
					0x20, 0x00, 0x00, 0x58, // ldr-literal x0, [pc, #4] => target 0x4008
				},
			},
			{
				Name: ".data", Attrs: loader.DataSection, Address: 0x4008, Size: 8,
				Bytes: make([]byte, 8),
			},
		},
	}
	f := newFile(bin)
	f.NewLabel("counter", 0x4008, loader.LabelVariable, 1)

	r := New()
	if err := disassembler.New(f, disassembler.WithResolver(r)).Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ref, ok := f.First()
	if !ok {
		t.Fatal("no instructions decoded")
	}
	i, _ := f.Get(ref)
	if len(i.Operands) != 2 || i.Operands[1].Kind != insn.MemoryRelative {
		t.Fatalf("operands = %+v, want a trailing memory-relative operand", i.Operands)
	}
	op := i.Operands[1]
	if !op.Ptr.Resolved() || op.Ptr.Target != insn.TargetData {
		t.Fatalf("memory-relative operand = %+v, want resolved against data", op)
	}

	data, ok := f.Datas.Get(op.Ptr.Data)
	if !ok {
		t.Fatal("resolved data entry not found")
	}
	if data.Address != 0x4008 {
		t.Fatalf("data.Address = %#x, want 0x4008", data.Address)
	}

	refs := r.ReferencingInstructions(op.Ptr.Data)
	if len(refs) != 1 || refs[0] != ref {
		t.Fatalf("ReferencingInstructions = %v, want [%v]", refs, ref)
	}
	datas := r.ReferencedData(ref)
	if len(datas) != 1 || datas[0] != op.Ptr.Data {
		t.Fatalf("ReferencedData = %v, want [%v]", datas, op.Ptr.Data)
	}
}
