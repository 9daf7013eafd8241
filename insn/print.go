package insn

import (
	"fmt"
	"strings"
)

// Resolver supplies the architecture-specific names Print needs: mnemonics
// and register names. arch.Descriptor implements this.
type Resolver interface {
	OpcodeName(OpcodeID) string
	RegisterName(reg int) string
}

// Annotator supplies the assembly-file-specific context Print can use to
// emit a label header and the memory-relative trailing comment (spec
// §4.7); package asmfile implements this. It may be nil, in which case
// Print omits both.
type Annotator interface {
	LabelName(LabelRef) (string, bool)
	DataLabel(DataRef) (addr uint64, name string, offsetInTarget int64, ok bool)
}

// PrintOptions tunes Print's output. Empty for now; kept as a struct rather
// than dropped from Print's signature so future formatting knobs don't
// change every call site.
type PrintOptions struct{}

// Print renders i as one objdump-style line: an optional label header,
// address, coding hex, mnemonic, operands, and (for a resolved
// memory-relative operand) a trailing "# 0xADDR <label[+off]>" comment.
func Print(i *Instruction, res Resolver, ann Annotator, opts PrintOptions) string {
	var b strings.Builder

	if ann != nil {
		if name, ok := ann.LabelName(i.Label); ok {
			fmt.Fprintf(&b, "%s:\n", name)
		}
	}

	fmt.Fprintf(&b, "%x:\t", i.Address)
	if coding, _, ok := i.Coding(); ok && len(coding) > 0 {
		hex := make([]string, len(coding))
		for idx, by := range coding {
			hex[idx] = fmt.Sprintf("%02x", by)
		}
		b.WriteString(strings.Join(hex, " "))
	}
	b.WriteByte('\t')

	mnemonic := "(bad)"
	if res != nil && !i.IsBad() {
		mnemonic = res.OpcodeName(i.Opcode)
	}
	b.WriteString(mnemonic)

	if len(i.Operands) > 0 {
		b.WriteByte('\t')
		parts := make([]string, len(i.Operands))
		for idx, op := range i.Operands {
			parts[idx] = printOperand(op, res)
		}
		b.WriteString(strings.Join(parts, ", "))
	}

	if ann != nil {
		for _, op := range i.Operands {
			if op.Kind != MemoryRelative || !op.Ptr.Resolved() || op.Ptr.Target != TargetData {
				continue
			}
			if addr, name, off, ok := ann.DataLabel(op.Ptr.Data); ok {
				if off != 0 {
					fmt.Fprintf(&b, "\t# %#x <%s+%#x>", addr, name, off)
				} else {
					fmt.Fprintf(&b, "\t# %#x <%s>", addr, name)
				}
				break
			}
		}
	}

	return b.String()
}

func printOperand(op Operand, res Resolver) string {
	regName := func(r int) string {
		if res != nil {
			return res.RegisterName(r)
		}
		return fmt.Sprintf("r%d", r)
	}

	switch op.Kind {
	case Register:
		return regName(op.Reg)
	case Immediate:
		return fmt.Sprintf("#%d", op.Imm)
	case MemoryOperand:
		return printMemory(op.Mem, regName)
	case PointerOperand:
		if op.Ptr.Kind == PointerAbsolute {
			return fmt.Sprintf("%#x", op.Ptr.Addr)
		}
		return fmt.Sprintf("%#x", op.Ptr.Offset)
	case MemoryRelative:
		return fmt.Sprintf("[rip+%#x]", op.MemRelOffset)
	default:
		return "?"
	}
}

func printMemory(m Memory, regName func(int) string) string {
	var b strings.Builder
	b.WriteByte('[')
	if m.BaseReg >= 0 {
		b.WriteString(regName(m.BaseReg))
	}
	if m.IndexReg >= 0 {
		fmt.Fprintf(&b, ", %s", regName(m.IndexReg))
		if m.Scale > 1 {
			fmt.Fprintf(&b, "*%d", m.Scale)
		}
	}
	if m.Offset != 0 {
		if m.Offset > 0 {
			fmt.Fprintf(&b, "+%#x", m.Offset)
		} else {
			fmt.Fprintf(&b, "-%#x", -m.Offset)
		}
	}
	b.WriteByte(']')
	return b.String()
}

// TextParser is the external collaborator spec §4.7 calls
// "parse_from_text": an architecture's assembler front end, turning one
// line of text into an Instruction.
type TextParser interface {
	ParseInsn(text string) (Instruction, error)
}

// ParseFromText drives p (typically an arch.Descriptor's capability) over
// s.
func ParseFromText(p TextParser, s string) (Instruction, error) {
	return p.ParseInsn(s)
}
