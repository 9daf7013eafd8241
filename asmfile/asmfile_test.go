package asmfile

import (
	"testing"

	"github.com/maqao-project/madras-core/arch"
	"github.com/maqao-project/madras-core/insn"
	"github.com/maqao-project/madras-core/internal/bitstream"
	"github.com/maqao-project/madras-core/internal/loader"
)

func testDescriptor() *arch.Descriptor {
	return &arch.Descriptor{
		Name:       "test-arch",
		Endianness: bitstream.LittleBit,
		Opcodes:    []string{"nop", "b"},
	}
}

func testFile() *AssemblyFile {
	bin := &loader.Static{
		Secs: []loader.SectionInfo{
			{Name: ".text", Attrs: loader.StdCode, Address: 0x1000, Size: 0x100},
		},
	}
	f := New(bin, testDescriptor())
	for _, s := range bin.Sections() {
		f.AddSection(s)
	}
	return f
}

func TestAppendBuildsOrderedList(t *testing.T) {
	f := testFile()
	r1 := f.Append(0, insn.Instruction{Opcode: 0, Address: 0x1000})
	r2 := f.Append(0, insn.Instruction{Opcode: 0, Address: 0x1004})
	r3 := f.Append(0, insn.Instruction{Opcode: 0, Address: 0x1008})

	first, ok := f.First()
	if !ok || first != r1 {
		t.Fatalf("First() = %v, %v; want %v, true", first, ok, r1)
	}
	n, ok := f.Next(r1)
	if !ok || n != r2 {
		t.Fatalf("Next(r1) = %v, %v; want %v, true", n, ok, r2)
	}
	n, ok = f.Next(r2)
	if !ok || n != r3 {
		t.Fatalf("Next(r2) = %v, %v; want %v, true", n, ok, r3)
	}
	if _, ok := f.Next(r3); ok {
		t.Fatal("Next(r3): want no successor, got one")
	}

	p, ok := f.Prev(r3)
	if !ok || p != r2 {
		t.Fatalf("Prev(r3) = %v, %v; want %v, true", p, ok, r2)
	}

	sec := f.Sections[0]
	if sec.First == insn.NoListNode || sec.Last == insn.NoListNode {
		t.Fatal("section First/Last not set")
	}

	var addrs []uint64
	f.Walk(func(_ insn.Ref, i *insn.Instruction) bool {
		addrs = append(addrs, i.Address)
		return true
	})
	want := []uint64{0x1000, 0x1004, 0x1008}
	if len(addrs) != len(want) {
		t.Fatalf("Walk visited %v, want %v", addrs, want)
	}
	for i := range want {
		if addrs[i] != want[i] {
			t.Fatalf("Walk visited %v, want %v", addrs, want)
		}
	}
}

func TestInsertAfterSplicesBetween(t *testing.T) {
	f := testFile()
	r1 := f.Append(0, insn.Instruction{Address: 0x1000})
	r3 := f.Append(0, insn.Instruction{Address: 0x1008})

	r2, err := f.InsertAfter(r1, insn.Instruction{Address: 0x1004, Annotations: insn.PatchNew})
	if err != nil {
		t.Fatalf("InsertAfter: %v", err)
	}

	n, _ := f.Next(r1)
	if n != r2 {
		t.Fatalf("Next(r1) = %v, want the inserted instruction %v", n, r2)
	}
	n, _ = f.Next(r2)
	if n != r3 {
		t.Fatalf("Next(r2) = %v, want %v", n, r3)
	}
	p, _ := f.Prev(r3)
	if p != r2 {
		t.Fatalf("Prev(r3) = %v, want %v", p, r2)
	}

	last, ok := f.First()
	for ok {
		last2, ok2 := f.Next(last)
		if !ok2 {
			break
		}
		last = last2
	}
	if last != r3 {
		t.Fatalf("list tail = %v, want %v", last, r3)
	}
}

func TestInsertAfterAtTailMovesSectionLast(t *testing.T) {
	f := testFile()
	r1 := f.Append(0, insn.Instruction{Address: 0x1000})
	r2, err := f.InsertAfter(r1, insn.Instruction{Address: 0x1004})
	if err != nil {
		t.Fatalf("InsertAfter: %v", err)
	}
	if f.Sections[0].Last == insn.NoListNode {
		t.Fatal("section Last not set")
	}
	last, ok := f.First()
	for {
		n, ok2 := f.Next(last)
		if !ok2 {
			break
		}
		last = n
	}
	if last != r2 {
		t.Fatalf("tail = %v, want %v", last, r2)
	}
	_ = ok
}

func TestRemoveUnlinksWithoutFreeing(t *testing.T) {
	f := testFile()
	r1 := f.Append(0, insn.Instruction{Address: 0x1000})
	r2 := f.Append(0, insn.Instruction{Address: 0x1004})
	r3 := f.Append(0, insn.Instruction{Address: 0x1008})

	if err := f.Remove(r2); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	n, ok := f.Next(r1)
	if !ok || n != r3 {
		t.Fatalf("Next(r1) after removing r2 = %v, %v; want %v, true", n, ok, r3)
	}
	if _, ok := f.Get(r2); !ok {
		t.Fatal("Remove must not free the instruction slot, only unlink it")
	}
}

func TestLabelIndexByNameAndAddress(t *testing.T) {
	f := testFile()
	ref := f.NewLabel("main", 0x1000, loader.LabelFunction, 0)
	got, ok := f.LabelByName("main")
	if !ok || got != ref {
		t.Fatalf("LabelByName(main) = %v, %v; want %v, true", got, ok, ref)
	}
	name, ok := f.LabelName(ref)
	if !ok || name != "main" {
		t.Fatalf("LabelName = %q, %v; want main, true", name, ok)
	}

	fns := f.FunctionLabels()
	if len(fns) != 1 || fns[0] != ref {
		t.Fatalf("FunctionLabels = %v, want [%v]", fns, ref)
	}
}

func TestDataLabelRendersOffset(t *testing.T) {
	f := testFile()
	lref := f.NewLabel("errno", 0x2000, loader.LabelVariable, -1)
	dref := f.NewData(insn.Data{Address: 0x2004, Size: 4, Label: lref})

	addr, name, off, ok := f.DataLabel(dref)
	if !ok || addr != 0x2004 || name != "errno" || off != 4 {
		t.Fatalf("DataLabel = %#x %q %d %v, want 0x2004 errno 4 true", addr, name, off, ok)
	}
}
