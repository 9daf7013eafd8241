package writer

import (
	"context"
	"testing"

	"github.com/maqao-project/madras-core/arch/aarch64"
	"github.com/maqao-project/madras-core/asmfile"
	"github.com/maqao-project/madras-core/insn"
	"github.com/maqao-project/madras-core/internal/loader"
	"github.com/maqao-project/madras-core/patch"
)

func newFile(t *testing.T, n int) (*asmfile.AssemblyFile, []insn.Ref) {
	t.Helper()
	bin := &loader.Static{
		Secs: []loader.SectionInfo{
			{Name: ".text", Attrs: loader.StdCode, Address: 0x1000, Size: uint64(4 * n)},
		},
	}
	f := asmfile.New(bin, aarch64.Descriptor)
	sec := f.AddSection(bin.Secs[0])

	hint, ok := aarch64.Descriptor.OpcodeByName("hint")
	if !ok {
		t.Fatal("hint opcode missing")
	}
	refs := make([]insn.Ref, n)
	for i := 0; i < n; i++ {
		in := insn.Instruction{Opcode: hint, Address: 0x1000 + uint64(4*i), ByteSize: 4}
		in.SetCoding(aarch64.Descriptor.DefaultNOP, 32)
		refs[i] = f.Append(sec, in)
	}
	return f, refs
}

func TestCommitReusesDecodedCodingForUntouchedInstructions(t *testing.T) {
	f, _ := newFile(t, 3)
	p := patch.NewPlanner(f)
	plan, err := p.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	image, tracking, err := New(plan).Commit(context.Background())
	if err != nil {
		t.Fatalf("writer Commit: %v", err)
	}
	if len(image) != 12 {
		t.Fatalf("len(image) = %d, want 12 (3 untouched NOPs)", len(image))
	}
	for i := 0; i < 3; i++ {
		want := []byte{0x1f, 0x20, 0x03, 0xd5}
		got := image[i*4 : i*4+4]
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("image[%d] = %x, want %x", i, got, want)
			}
		}
	}
	if addr, ok := tracking.Lookup(0x1000); !ok || addr != 0 {
		t.Fatalf("tracking.Lookup(0x1000) = (%d, %v), want (0, true)", addr, ok)
	}
	if addr, ok := tracking.Lookup(0x1008); !ok || addr != 8 {
		t.Fatalf("tracking.Lookup(0x1008) = (%d, %v), want (8, true)", addr, ok)
	}
}

func TestCommitEncodesPatchedInstructions(t *testing.T) {
	f, refs := newFile(t, 1)
	p := patch.NewPlanner(f)

	mov, _ := aarch64.Descriptor.OpcodeByName("mov")
	if _, err := p.Modify(refs[0], &mov, []insn.Operand{
		{Kind: insn.Register, Reg: 0, Role: insn.RoleDest | insn.RoleWrite},
		{Kind: insn.Immediate, Imm: 5},
	}); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	plan, err := p.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	image, _, err := New(plan).Commit(context.Background())
	if err != nil {
		t.Fatalf("writer Commit: %v", err)
	}
	if len(image) == 0 {
		t.Fatal("expected non-empty encoded image for a modified instruction")
	}
}

func TestCommitHonoursContextCancellation(t *testing.T) {
	f, _ := newFile(t, 2)
	p := patch.NewPlanner(f)
	plan, err := p.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := New(plan).Commit(ctx); err == nil {
		t.Fatal("Commit should fail once its context is already cancelled")
	}
}

func TestMapForInspectionRoundTrips(t *testing.T) {
	data := []byte{0x1f, 0x20, 0x03, 0xd5, 0xaa, 0xbb, 0xcc, 0xdd}
	m, cleanup, err := MapForInspection(data)
	if err != nil {
		t.Fatalf("MapForInspection: %v", err)
	}
	defer func() {
		if cerr := cleanup(); cerr != nil {
			t.Errorf("cleanup: %v", cerr)
		}
	}()
	if len(m) != len(data) {
		t.Fatalf("len(mapped) = %d, want %d", len(m), len(data))
	}
	for i := range data {
		if m[i] != data[i] {
			t.Fatalf("mapped[%d] = %x, want %x", i, m[i], data[i])
		}
	}
}
