// Package insn is the architecture-agnostic instruction and operand model
// (spec §3) plus the instruction-level operations of spec §4.7. It depends
// on no architecture package; architectures implement the small interfaces
// this package declares (Resolver, Extension) and are wired in by the
// arch package.
package insn

import "fmt"

// OpcodeID indexes an architecture's opcode table. BadOpcode marks an
// instruction that failed to decode.
type OpcodeID int

const BadOpcode OpcodeID = -1

// AnnotationFlag is the instruction annotation bitset (spec §3).
type AnnotationFlag uint32

const (
	StandardCode AnnotationFlag = 1 << iota
	ExternalStub
	Patched
	PatchNew
	PatchDeleted
	PatchMoved
	Suspicious
	BeginList
	EndList
	ModificationAttached
	ElseBranch
)

var annotationNames = []struct {
	flag AnnotationFlag
	name string
}{
	{StandardCode, "std-code"},
	{ExternalStub, "ext-stub"},
	{Patched, "patched"},
	{PatchNew, "patch-new"},
	{PatchDeleted, "patch-deleted"},
	{PatchMoved, "patch-moved"},
	{Suspicious, "suspicious"},
	{BeginList, "begin-list"},
	{EndList, "end-list"},
	{ModificationAttached, "modification-attached"},
	{ElseBranch, "else-branch"},
}

func (a AnnotationFlag) String() string {
	if a == 0 {
		return "none"
	}
	s := ""
	for _, e := range annotationNames {
		if a&e.flag != 0 {
			if s != "" {
				s += "|"
			}
			s += e.name
		}
	}
	if s == "" {
		return fmt.Sprintf("annotation(%#x)", uint32(a))
	}
	return s
}

// OperandKind tags which variant an Operand holds.
type OperandKind int

const (
	Register OperandKind = iota
	Immediate
	MemoryOperand
	PointerOperand
	MemoryRelative
)

func (k OperandKind) String() string {
	switch k {
	case Register:
		return "register"
	case Immediate:
		return "immediate"
	case MemoryOperand:
		return "memory"
	case PointerOperand:
		return "pointer"
	case MemoryRelative:
		return "memory-relative"
	default:
		return fmt.Sprintf("operand-kind(%d)", int(k))
	}
}

// Role flags whether an operand is read, written, or both, and whether it
// is semantically a source or a destination.
type Role uint8

const (
	RoleSource Role = 1 << iota
	RoleDest
	RoleRead
	RoleWrite
)

// OperandFlag carries the remaining per-operand boolean attributes of spec
// §3.
type OperandFlag uint32

const (
	IndexedRegister OperandFlag = 1 << iota
	MemWriteBack
	MemPostIndexed
	BaseRegIsDst
)

// PointerKind distinguishes an absolute address from one relative to the
// owning instruction.
type PointerKind int

const (
	PointerAbsolute PointerKind = iota
	PointerRelative
)

// TargetKind tags what (if anything) a Pointer currently resolves to.
type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetInstruction
	TargetData
)

// ISATag identifies an instruction set for interworking purposes. The zero
// value means "the file's primary ISA".
type ISATag int
