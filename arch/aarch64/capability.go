package aarch64

import (
	"strconv"
	"strings"

	"github.com/maqao-project/madras-core/arch"
	"github.com/maqao-project/madras-core/errs"
	"github.com/maqao-project/madras-core/insn"
)

// capability implements arch.Capability for the aarch64 sample
// architecture. It carries no state: every aarch64 ISA shares this same
// value, selected by Descriptor.Cap / CompactDescriptor.Cap.
type capability struct{}

// FreeInsn releases i's extension payload.
func (capability) FreeInsn(i *insn.Instruction) { insn.Free(i) }

// CopyOperand deep-copies o, including any Extension.
func (capability) CopyOperand(o insn.Operand) insn.Operand { return o.Copy() }

// GetPointerAddress resolves p to an absolute address, using owner's
// address as the base for a PointerRelative pointer (A64 branches and
// literal loads are both PC-relative to the instruction itself, not
// instruction+8 as on classic ARM).
func (capability) GetPointerAddress(owner *insn.Instruction, p insn.Pointer) (uint64, error) {
	switch p.Kind {
	case insn.PointerAbsolute:
		return p.Addr, nil
	case insn.PointerRelative:
		return uint64(int64(owner.Address) + p.Offset), nil
	default:
		return 0, errs.New(errs.OperandTypeMismatch, errs.ErrGeneric, "aarch64: unknown pointer kind")
	}
}

// SetPointerAddress rewrites p so it resolves to addr, preserving its kind.
func (capability) SetPointerAddress(owner *insn.Instruction, p *insn.Pointer, addr uint64) error {
	switch p.Kind {
	case insn.PointerAbsolute:
		p.Addr = addr
	case insn.PointerRelative:
		p.Offset = int64(addr) - int64(owner.Address)
	default:
		return errs.New(errs.OperandTypeMismatch, errs.ErrGeneric, "aarch64: unknown pointer kind")
	}
	return nil
}

// SwitchFSM implements the ARM/Thumb-style interworking probe using the
// "$t"/"$a" ELF mapping-symbol convention: a label named "$t" (or
// "$t:<anything>", matching the loader's free-form naming) at addr selects
// the compact ISA; "$a" switches back to the primary one. Any other label,
// or none, leaves the current ISA unchanged.
func (capability) SwitchFSM(addr uint64, labelAtAddr string, current insn.ISATag) (insn.ISATag, bool) {
	name := labelAtAddr
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[:i]
	}
	switch name {
	case "$t":
		if current != ISACompact {
			return ISACompact, true
		}
	case "$a":
		if current != ISAPrimary {
			return ISAPrimary, true
		}
	}
	return current, false
}

// DescriptorForISA implements arch.Capability, resolving to GrammarFor.
func (capability) DescriptorForISA(current *arch.Descriptor, tag insn.ISATag) *arch.Descriptor {
	return GrammarFor(tag)
}

func formatReg(reg int) string {
	if reg < 0 || reg >= len(registerNames) {
		return "?"
	}
	return registerNames[reg]
}

// parseOperandToken inverts printOperand. A printed pointer operand
// ("0x..." or "-0x...") always reconstructs as PointerAbsolute: Print gives
// relative and absolute pointers the same textual form, so the distinction
// does not survive a text round-trip. Instructions exercised by the
// round-trip law (spec §8 scenario 1) carry no pointer operand.
func parseOperandToken(tok string) (insn.Operand, error) {
	tok = strings.TrimSpace(tok)
	switch {
	case strings.HasPrefix(tok, "#"):
		v, err := strconv.ParseInt(tok[1:], 0, 64)
		if err != nil {
			return insn.Operand{}, errs.Wrap(errs.ParseError, errs.ErrGeneric, err, "aarch64: bad immediate "+tok)
		}
		return insn.Operand{Kind: insn.Immediate, Imm: v}, nil
	case strings.HasPrefix(tok, "[") && strings.HasSuffix(tok, "]"):
		return parseMemoryToken(tok)
	case strings.HasPrefix(tok, "0x"):
		v, err := strconv.ParseUint(tok, 0, 64)
		if err != nil {
			return insn.Operand{}, errs.Wrap(errs.ParseError, errs.ErrGeneric, err, "aarch64: bad address "+tok)
		}
		return insn.Operand{Kind: insn.PointerOperand, Ptr: insn.Pointer{Kind: insn.PointerAbsolute, Addr: v}}, nil
	default:
		reg, ok := registerByName[tok]
		if !ok {
			return insn.Operand{}, errs.New(errs.ParseError, errs.ErrGeneric, "aarch64: unknown operand "+tok)
		}
		return insn.Operand{Kind: insn.Register, Reg: reg}, nil
	}
}

func parseMemoryToken(tok string) (insn.Operand, error) {
	inner := strings.TrimSuffix(strings.TrimPrefix(tok, "["), "]")
	mem := insn.Memory{BaseReg: -1, IndexReg: -1, Scale: 1}
	for i, part := range strings.Split(inner, ",") {
		part = strings.TrimSpace(part)
		switch {
		case i == 0:
			reg, ok := registerByName[part]
			if !ok {
				return insn.Operand{}, errs.New(errs.ParseError, errs.ErrGeneric, "aarch64: unknown base register "+part)
			}
			mem.BaseReg = reg
		case strings.HasPrefix(part, "+0x") || strings.HasPrefix(part, "-0x"):
			sign := int64(1)
			if part[0] == '-' {
				sign = -1
			}
			v, err := strconv.ParseInt(part[1:], 0, 64)
			if err != nil {
				return insn.Operand{}, errs.Wrap(errs.ParseError, errs.ErrGeneric, err, "aarch64: bad memory offset "+part)
			}
			mem.Offset = sign * v
		default:
			reg, ok := registerByName[part]
			if !ok {
				return insn.Operand{}, errs.New(errs.ParseError, errs.ErrGeneric, "aarch64: unknown index register "+part)
			}
			mem.IndexReg = reg
		}
	}
	return insn.Operand{Kind: insn.MemoryOperand, Mem: mem}, nil
}
