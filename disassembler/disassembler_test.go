package disassembler

import (
	"testing"

	"github.com/maqao-project/madras-core/arch/aarch64"
	"github.com/maqao-project/madras-core/asmfile"
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

func TestRunDecodesSequentialInstructions(t *testing.T) {
	bin := &loader.Static{
		Secs: []loader.SectionInfo{
			{
				Name: ".text", Attrs: loader.StdCode, Address: 0x1000, Size: 8,
				Bytes: []byte{
					0x1f, 0x20, 0x03, 0xd5, // hint/nop
					0x02, 0x00, 0x00, 0x14, // b #8
				},
			},
		},
	}
	f := newFile(bin)
	if err := New(f).Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	first, ok := f.First()
	if !ok {
		t.Fatal("no instructions decoded")
	}
	i1, _ := f.Get(first)
	if i1.Address != 0x1000 || i1.Opcode != searchOpcode(t, "hint") {
		t.Fatalf("first insn = %+v", i1)
	}

	second, ok := f.Next(first)
	if !ok {
		t.Fatal("second instruction missing")
	}
	i2, _ := f.Get(second)
	if i2.Address != 0x1004 {
		t.Fatalf("second insn address = %#x, want 0x1004", i2.Address)
	}
	if len(i2.Operands) != 1 || i2.Operands[0].Ptr.Offset != 8 {
		t.Fatalf("second insn operand = %+v, want relative offset 8", i2.Operands)
	}

	if _, ok := f.Next(second); ok {
		t.Fatal("unexpected third instruction")
	}
	if f.Status&asmfile.Disassembled == 0 {
		t.Fatal("Status missing Disassembled bit")
	}
}

func TestRunSwitchesISAAtMappingLabel(t *testing.T) {
	bin := &loader.Static{
		Secs: []loader.SectionInfo{
			{
				Name: ".text", Attrs: loader.StdCode, Address: 0x2000, Size: 6,
				Bytes: []byte{
					0x1f, 0x20, 0x03, 0xd5, // hint/nop, primary ISA
					0xbf, 0x00, // nop16, compact ISA
				},
			},
		},
	}
	f := newFile(bin)
	f.NewLabel("$t:0x2004", 0x2004, loader.LabelGeneric, 0)

	if err := New(f).Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	first, _ := f.First()
	i1, _ := f.Get(first)
	if i1.ISA != aarch64.ISAPrimary {
		t.Fatalf("first insn ISA = %v, want ISAPrimary", i1.ISA)
	}

	second, ok := f.Next(first)
	if !ok {
		t.Fatal("second instruction missing")
	}
	i2, _ := f.Get(second)
	if i2.Address != 0x2004 {
		t.Fatalf("second insn address = %#x, want 0x2004", i2.Address)
	}
	if i2.ISA != aarch64.ISACompact {
		t.Fatalf("second insn ISA = %v, want ISACompact", i2.ISA)
	}
}

func TestRunFlagsSectionGapBoundaries(t *testing.T) {
	bin := &loader.Static{
		Secs: []loader.SectionInfo{
			{Name: ".text", Attrs: loader.StdCode, Address: 0x1000, Size: 4,
				Bytes: []byte{0x1f, 0x20, 0x03, 0xd5}},
			{Name: ".text2", Attrs: loader.StdCode, Address: 0x2000, Size: 4,
				Bytes: []byte{0x1f, 0x20, 0x03, 0xd5}},
		},
	}
	f := newFile(bin)
	d := New(f)
	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	firstSecFirst, _ := f.SectionFirstInstr(0)
	i1, _ := f.Get(firstSecFirst)
	if i1.Annotations&insn.BeginList == 0 {
		t.Fatal("first section's first instruction missing BeginList (no predecessor)")
	}

	firstSecLast, _ := f.SectionLastInstr(0)
	l1, _ := f.Get(firstSecLast)
	if l1.Annotations&insn.EndList == 0 {
		t.Fatal("first section's last instruction missing EndList: there is a gap before 0x2000")
	}

	secondSecFirst, _ := f.SectionFirstInstr(1)
	i2, _ := f.Get(secondSecFirst)
	if i2.Annotations&insn.BeginList == 0 {
		t.Fatal("second section's first instruction missing BeginList: there is a gap after 0x1004")
	}
}

func TestRunResyncsOnUnmatchedBytesAndFlagsSuspicious(t *testing.T) {
	bin := &loader.Static{
		Secs: []loader.SectionInfo{
			{
				Name: ".text", Attrs: loader.StdCode, Address: 0x3000, Size: 8,
				Bytes: []byte{
					0x00, 0x00, 0x00, 0x00, // matches no subtable entry
					0x1f, 0x20, 0x03, 0xd5, // hint/nop
				},
			},
		},
	}
	f := newFile(bin)
	if err := New(f).Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	bad, ok := f.First()
	if !ok {
		t.Fatal("no instructions decoded")
	}
	badInsn, _ := f.Get(bad)
	if !badInsn.IsBad() {
		t.Fatalf("first instruction = %+v, want BAD", badInsn)
	}
	if badInsn.Annotations&insn.Suspicious == 0 {
		t.Fatal("BAD instruction missing Suspicious")
	}

	next, ok := f.Next(bad)
	if !ok {
		t.Fatal("instruction after resync missing")
	}
	nextInsn, _ := f.Get(next)
	if nextInsn.Address != 0x3004 {
		t.Fatalf("post-resync address = %#x, want 0x3004", nextInsn.Address)
	}
	if nextInsn.Annotations&insn.Suspicious == 0 {
		t.Fatal("first successful decode after an error should still be flagged Suspicious")
	}
}

func searchOpcode(t *testing.T, name string) insn.OpcodeID {
	t.Helper()
	id, ok := aarch64.Descriptor.OpcodeByName(name)
	if !ok {
		t.Fatalf("opcode %q not found", name)
	}
	return id
}
