package aarch64

import (
	"testing"

	"github.com/maqao-project/madras-core/arch"
	"github.com/maqao-project/madras-core/insn"
	"github.com/maqao-project/madras-core/internal/bitstream"
	"github.com/maqao-project/madras-core/internal/parser"
)

// TestNOPRoundTrip grounds spec §8 scenario 1: the shortest AArch64 NOP
// round-trip through decode, print and parse.
func TestNOPRoundTrip(t *testing.T) {
	stream := bitstream.New([]byte{0x1f, 0x20, 0x03, 0xd5}, 0x1000)
	p := parser.New(primaryTables, stream)

	var word insn.Instruction
	word.Address = stream.AddressOf(stream.Cursor())
	if _, err := p.ParseWord(&word); err != nil {
		t.Fatalf("ParseWord: %v", err)
	}
	start, end := p.CodingRange()
	word.SetCoding([]byte{0x1f, 0x20, 0x03, 0xd5}, end.Sub(start))
	word.ByteSize = 4
	word.Annotations = insn.StandardCode

	if word.Opcode != opID("hint") {
		t.Fatalf("Opcode = %v, want hint (%d)", word.Opcode, opID("hint"))
	}
	if len(word.Operands) != 0 {
		t.Fatalf("Operands = %v, want none", word.Operands)
	}

	got := insn.Print(&word, Descriptor, nil, insn.PrintOptions{})
	want := "1000:\t1f 20 03 d5\thint"
	if got != want {
		t.Fatalf("Print = %q, want %q", got, want)
	}

	parsed, err := capability{}.ParseInsn(got)
	if err != nil {
		t.Fatalf("ParseInsn: %v", err)
	}
	if !insn.Equal(&parsed, &word) {
		t.Fatalf("parse(print(i)) = %+v, want equal to %+v", parsed, word)
	}
}

func TestBranchDecodesRelativeOffset(t *testing.T) {
	// B with imm26 = 2 (branch forward 8 bytes): top byte 0b00010100 = 0x14,
	// remaining bits zero except the low bits of imm26.
	stream := bitstream.New([]byte{0x02, 0x00, 0x00, 0x14}, 0x2000)
	p := parser.New(primaryTables, stream)
	var word insn.Instruction
	if _, err := p.ParseWord(&word); err != nil {
		t.Fatalf("ParseWord: %v", err)
	}
	if word.Opcode != opID("b") {
		t.Fatalf("Opcode = %v, want b", word.Opcode)
	}
	if len(word.Operands) != 1 || word.Operands[0].Kind != insn.PointerOperand {
		t.Fatalf("Operands = %+v, want one pointer operand", word.Operands)
	}
	if word.Operands[0].Ptr.Offset != 8 {
		t.Fatalf("offset = %d, want 8", word.Operands[0].Ptr.Offset)
	}
}

func TestInterworkingSwitchesISA(t *testing.T) {
	cap := capability{}
	next, switched := cap.SwitchFSM(0x5008, "$t:0x5008", ISAPrimary)
	if !switched || next != ISACompact {
		t.Fatalf("SwitchFSM = %v, %v; want ISACompact, true", next, switched)
	}
	next, switched = cap.SwitchFSM(0x500a, "", ISACompact)
	if switched {
		t.Fatalf("SwitchFSM with no marker switched unexpectedly to %v", next)
	}
}

func TestCompactISADecodesNOP(t *testing.T) {
	stream := bitstream.New([]byte{0xbf, 0x00}, 0x5008)
	p := parser.New(altTables, stream)
	var word insn.Instruction
	if _, err := p.ParseWord(&word); err != nil {
		t.Fatalf("ParseWord: %v", err)
	}
	if word.Opcode != opID("nop16") {
		t.Fatalf("Opcode = %v, want nop16", word.Opcode)
	}
}

func TestGenerateTestCondShape(t *testing.T) {
	cond := arch.ConditionExpr{Op: arch.CmpEQ, Operand: insn.Operand{Kind: insn.Register, Reg: 5}, Value: 42}
	body := []insn.Instruction{{Opcode: opID("bl")}}
	seq, err := capability{}.GenerateTestCond(cond, body, insn.Ref{})
	if err != nil {
		t.Fatalf("GenerateTestCond: %v", err)
	}
	if len(seq) != 5 {
		t.Fatalf("sequence length = %d, want 5 (save, cmp, branch, call, restore)", len(seq))
	}
	if seq[1].Opcode != opID("cmp") {
		t.Fatalf("seq[1] = %v, want cmp", seq[1].Opcode)
	}
	if seq[2].Opcode != opID("bne") {
		t.Fatalf("seq[2] = %v, want bne (branch taken when condition is false)", seq[2].Opcode)
	}
	if seq[3].Opcode != opID("bl") {
		t.Fatalf("seq[3] = %v, want the body instruction", seq[3].Opcode)
	}
}
