package aarch64

import (
	"github.com/maqao-project/madras-core/insn"
	"github.com/maqao-project/madras-core/internal/bitstream"
	"github.com/maqao-project/madras-core/internal/grammar"
)

// symInsn is the grammar's single non-terminal: "a decoded instruction".
// Every shift path in primaryTables consumes one 32-bit word and reduces it
// to this symbol before the automaton falls through to Final, mirroring
// A64's fixed instruction length.
const symInsn grammar.SymbolID = 1

// wordOp extracts the full instruction word (whichever 32 bits were just
// shifted) under the architecture's little-byte-swapped-32 endianness, so
// actions see the value the way the AArch64 architecture manual numbers
// its bitfields.
var wordOp = grammar.ReductionOp{Kind: grammar.OpToken, SymbolID: symInsn, BitLength: 32, Endianness: bitstream.LittleByteSwapped32}

// signExtend sign-extends the low nBits of v.
func signExtend(v uint64, nBits int) int64 {
	shift := 64 - nBits
	return int64(v<<uint(shift)) >> uint(shift)
}

func hintAction(ctx *grammar.ActionContext) {
	i := ctx.User.(*insn.Instruction)
	i.Opcode = opID("hint")
	i.Operands = nil
}

func bAction(ctx *grammar.ActionContext) {
	buildBranch(ctx, opID("b"))
}

func blAction(ctx *grammar.ActionContext) {
	buildBranch(ctx, opID("bl"))
}

func buildBranch(ctx *grammar.ActionContext, op insn.OpcodeID) {
	i := ctx.User.(*insn.Instruction)
	value := ctx.Reduced[symInsn].Value
	imm26 := value & 0x3FFFFFF
	offset := signExtend(imm26, 26) * 4
	i.Opcode = op
	i.Operands = []insn.Operand{{
		Kind: insn.PointerOperand,
		Ptr: insn.Pointer{
			Kind:   insn.PointerRelative,
			Offset: offset,
		},
		Role: insn.RoleSource | insn.RoleRead,
	}}
}

func ldrAction(ctx *grammar.ActionContext) {
	i := ctx.User.(*insn.Instruction)
	value := ctx.Reduced[symInsn].Value
	rt := int(value & 0x1F)
	imm19 := (value >> 5) & 0x7FFFF
	offset := signExtend(imm19, 19) * 4
	i.Opcode = opID("mov") // closest general-purpose-load stand-in; the sample ISA has no dedicated LDR mnemonic
	i.Operands = []insn.Operand{
		{Kind: insn.Register, Reg: rt, Role: insn.RoleDest | insn.RoleWrite, BitSize: 64},
		{
			Kind:         insn.MemoryRelative,
			MemRelOffset: offset,
			Role:         insn.RoleSource | insn.RoleRead,
			BitSize:      64,
		},
	}
}

// instructionSubtable peeks the top byte of the instruction word (bits
// 31:24 in architecture order, i.e. the last byte of the little-endian
// encoding) to pick which 32-bit pattern this word matches.
var instructionSubtable = &grammar.Subtable{
	Kind:    grammar.SingleValue,
	Offsets: []int{24},
	Sizes:   []int{8},
	Entries: []grammar.SubtableEntry{
		{Value: 0xD5, Mask: 0xFF, NextState: 1, TransitionLen: 32}, // hint/nop family
		{Value: 0x58, Mask: 0xFF, NextState: 4, TransitionLen: 32}, // LDR (literal), 64-bit
		{Value: 0x14, Mask: 0xFC, NextState: 2, TransitionLen: 32}, // B
		{Value: 0x94, Mask: 0xFC, NextState: 3, TransitionLen: 32}, // BL
	},
}

// primaryTables is the sample A64 grammar: a flat dispatch on the
// instruction's top byte, fixed 32-bit words throughout.
var primaryTables = &grammar.Tables{
	NumVariables: 1,
	MinInsnLen:   32,
	MaxInsnLen:   32,
	States: []grammar.State{
		{ // 0: dispatch
			Kind: grammar.Shift,
			Shift: &grammar.ShiftDetails{
				VariableTransition: []grammar.StateID{grammar.StateNone, 5},
				ShiftAfterVariable: []int{0, 0},
				ElseState:          grammar.StateNone,
				Subtable:           instructionSubtable,
			},
		},
		{Kind: grammar.Reduce, Reduce: &grammar.ReduceDetails{LHS: symInsn, Ops: []grammar.ReductionOp{wordOp}, Action: 1}}, // 1: hint
		{Kind: grammar.Reduce, Reduce: &grammar.ReduceDetails{LHS: symInsn, Ops: []grammar.ReductionOp{wordOp}, Action: 2}}, // 2: b
		{Kind: grammar.Reduce, Reduce: &grammar.ReduceDetails{LHS: symInsn, Ops: []grammar.ReductionOp{wordOp}, Action: 3}}, // 3: bl
		{Kind: grammar.Reduce, Reduce: &grammar.ReduceDetails{LHS: symInsn, Ops: []grammar.ReductionOp{wordOp}, Action: 4}}, // 4: ldr-literal
		{Kind: grammar.Final}, // 5
	},
	Actions: []grammar.SemanticAction{hintAction, bAction, blAction, ldrAction},
}

// altTables is the alternate ISA used for the interworking demonstration
// (spec §8 scenario 6): a single 16-bit compact NOP, 0xBF00, matching the
// real Thumb NOP encoding.
var altTables = &grammar.Tables{
	NumVariables: 1,
	MinInsnLen:   16,
	MaxInsnLen:   16,
	States: []grammar.State{
		{
			Kind: grammar.Shift,
			Shift: &grammar.ShiftDetails{
				VariableTransition: []grammar.StateID{grammar.StateNone, 2},
				ShiftAfterVariable: []int{0, 0},
				ElseState:          grammar.StateNone,
				Subtable: &grammar.Subtable{
					Kind:    grammar.SingleValue,
					Offsets: []int{0},
					Sizes:   []int{16},
					Entries: []grammar.SubtableEntry{
						{Value: 0xBF00, Mask: 0xFFFF, NextState: 1, TransitionLen: 16},
					},
				},
			},
		},
		{Kind: grammar.Reduce, Reduce: &grammar.ReduceDetails{
			LHS: symInsn,
			Ops: []grammar.ReductionOp{{Kind: grammar.OpToken, SymbolID: symInsn, BitLength: 16, Endianness: bitstream.BigBit}},
			Action: 1,
		}},
		{Kind: grammar.Final},
	},
	Actions: []grammar.SemanticAction{func(ctx *grammar.ActionContext) {
		i := ctx.User.(*insn.Instruction)
		i.Opcode = opID("nop16")
		i.Operands = nil
	}},
}
