// Package arch defines the capability interface every supported
// architecture implements (Design Note §9: "opaque handle polymorphism...
// replace with a capability interface surfaced by the architecture
// descriptor"), plus the immutable, process-wide Descriptor that carries an
// architecture's name/register/opcode tables and its grammar.Tables.
package arch

import (
	"sort"

	"github.com/maqao-project/madras-core/errs"
	"github.com/maqao-project/madras-core/insn"
	"github.com/maqao-project/madras-core/internal/bitstream"
	"github.com/maqao-project/madras-core/internal/grammar"
)

// Capability is the set of per-architecture operations the engine programs
// against; spec §9 enumerates it as
// {parse_insn, print_insn, free_insn, copy_operand, get_pointer_address,
// set_pointer_address, switch_fsm}, extended here with Encode (the bits
// encoder external collaborator of spec §1/§6, concretely implemented by
// arch/aarch64 via golang-asm) and ConditionCodegen (spec §4.6's
// generate_insnlist_testcond family, used by the patch planner).
type Capability interface {
	insn.TextParser

	FreeInsn(i *insn.Instruction)
	CopyOperand(o insn.Operand) insn.Operand

	GetPointerAddress(owner *insn.Instruction, p insn.Pointer) (uint64, error)
	SetPointerAddress(owner *insn.Instruction, p *insn.Pointer, addr uint64) error

	// SwitchFSM is the interworking probe: given the address about to be
	// decoded, the label name the disassembler's sweep found there (empty
	// if none), and the ISA currently in effect, it reports whether
	// decoding should continue under a different ISA. The disassembler
	// never interprets label names itself; marker conventions (e.g. ARM's
	// "$t"/"$a" mapping symbols) are entirely architecture-defined.
	SwitchFSM(addr uint64, labelAtAddr string, current insn.ISATag) (next insn.ISATag, switched bool)

	// DescriptorForISA resolves the Descriptor whose grammar should drive
	// decoding once SwitchFSM reports tag. Implementations with a single
	// ISA just return current unchanged.
	DescriptorForISA(current *Descriptor, tag insn.ISATag) *Descriptor

	// Encode turns i back into bits; used by the patch writer for any
	// instruction flagged Patched/PatchNew/PatchMoved, and by the
	// round-trip tests of spec §8.
	Encode(i *insn.Instruction) ([]byte, error)
}

// ConditionCodegen is implemented by architectures that support the patch
// planner's conditional-insert primitives (spec §4.6). Not every
// architecture needs it; the planner checks for it via a type assertion on
// Capability.
type ConditionCodegen interface {
	// GenerateTestCond emits the test-then-branch sequence (and flag
	// save/restore) that precedes a
	// conditionally-inserted instruction list, branching over it to
	// elseTarget when the condition is false.
	GenerateTestCond(cond ConditionExpr, body []insn.Instruction, elseTarget insn.Ref) ([]insn.Instruction, error)
}

// ConditionExpr is the minimal shape the patch package's condition tree
// reduces to before being handed to architecture codegen: an operand
// compared against a constant. The full tree (and/or combinators) is
// flattened by the planner; architectures only ever see leaf comparisons
// wrapped in the branch sequence the planner has already structured.
type ConditionExpr struct {
	Op      CompareOp
	Operand insn.Operand
	Value   int64
}

// CompareOp enumerates the comparison operators a Condition leaf supports.
type CompareOp int

const (
	CmpEQ CompareOp = iota
	CmpNE
	CmpLT
	CmpLE
	CmpGT
	CmpGE
)

// Descriptor is the immutable, process-wide description of one
// architecture (spec §3). It is safe to share across engine instances.
type Descriptor struct {
	Name       string
	Code       int
	Endianness bitstream.Endianness

	Registers []string // register id -> name
	// Opcodes is the mnemonic table, kept lexicographically sorted so
	// OpcodeByName can binary-search a mnemonic (spec §3 invariant).
	Opcodes []string

	// DefaultAnnotations is indexed the same way as Opcodes: the
	// annotation bits a freshly decoded instruction of that opcode
	// receives before the disassembler's own sweep-level annotations are
	// layered on.
	DefaultAnnotations []insn.AnnotationFlag

	MinInsnLen int // bits
	MaxInsnLen int // bits

	Grammar *grammar.Tables
	Cap     Capability

	// DefaultNOP is the architecture's default padding instruction
	// encoding; a session or per-modification override must never exceed
	// its length (spec §4.6).
	DefaultNOP []byte
}

// OpcodeName implements insn.Resolver.
func (d *Descriptor) OpcodeName(id insn.OpcodeID) string {
	if id == insn.BadOpcode || int(id) < 0 || int(id) >= len(d.Opcodes) {
		return "(bad)"
	}
	return d.Opcodes[id]
}

// RegisterName implements insn.Resolver.
func (d *Descriptor) RegisterName(reg int) string {
	if reg < 0 || reg >= len(d.Registers) {
		return "?"
	}
	return d.Registers[reg]
}

// OpcodeByName binary-searches the sorted mnemonic table.
func (d *Descriptor) OpcodeByName(name string) (insn.OpcodeID, bool) {
	i := sort.SearchStrings(d.Opcodes, name)
	if i < len(d.Opcodes) && d.Opcodes[i] == name {
		return insn.OpcodeID(i), true
	}
	return insn.BadOpcode, false
}

// DefaultAnnotation returns the default annotation bits for opcode id.
func (d *Descriptor) DefaultAnnotation(id insn.OpcodeID) insn.AnnotationFlag {
	if int(id) < 0 || int(id) >= len(d.DefaultAnnotations) {
		return 0
	}
	return d.DefaultAnnotations[id]
}

var registry = map[string]*Descriptor{}

// Register adds d to the process-wide architecture registry. It is
// intended to be called from architecture packages' init() functions.
func Register(d *Descriptor) {
	registry[d.Name] = d
}

// Lookup returns the registered Descriptor for name.
func Lookup(name string) (*Descriptor, error) {
	d, ok := registry[name]
	if !ok {
		return nil, errs.New(errs.UnsupportedArchitecture, errs.ErrGeneric, "unknown architecture: "+name)
	}
	return d, nil
}
