package aarch64

import "github.com/maqao-project/madras-core/insn"

// ExtKind tags which variant of the AArch64 register-extend/shift extension
// an operand carries (spec §3's architecture-extension example).
type ExtKind int

const (
	ExtNone ExtKind = iota
	ExtExtend
	ExtShift
)

// ExtendType enumerates the AArch64 register-extend operators.
type ExtendType int

const (
	UXTB ExtendType = iota
	UXTH
	UXTW
	UXTX
	SXTB
	SXTH
	SXTW
	SXTX
)

// ShiftType enumerates the AArch64 register-shift operators.
type ShiftType int

const (
	LSL ShiftType = iota
	LSR
	ASR
	ROR
)

// Arrangement is the vector element layout a SIMD operand's extension
// carries, independent of whether the extension itself is Extend or Shift.
type Arrangement int

const (
	ArrNone Arrangement = iota
	Arr8B
	Arr16B
	Arr4H
	Arr8H
	Arr2S
	Arr4S
	Arr1D
	Arr2D
)

// Extension implements insn.Extension for the AArch64 operand addressing
// modes: an optional extend or shift applied to an index register, plus an
// independent vector arrangement. It is the concrete shape spec §3 names
// as the architecture-extension example: {empty | extend(type,value) |
// shift(type,value)} plus an arrangement enum.
type Extension struct {
	Variant     ExtKind
	ExtendOp    ExtendType
	ShiftOp     ShiftType
	Amount      uint8
	Arrangement Arrangement
}

// Kind satisfies insn.Extension, naming the variant for diagnostics.
func (e *Extension) Kind() string {
	switch e.Variant {
	case ExtExtend:
		return "extend"
	case ExtShift:
		return "shift"
	default:
		return "empty"
	}
}

// Copy satisfies insn.Extension.
func (e *Extension) Copy() insn.Extension {
	cp := *e
	return &cp
}

// EqualExtension satisfies insn.ExtensionEqualer.
func (e *Extension) EqualExtension(other insn.Extension) bool {
	o, ok := other.(*Extension)
	if !ok {
		return false
	}
	return *e == *o
}
