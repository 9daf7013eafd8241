package aarch64

import (
	"strings"

	"github.com/maqao-project/madras-core/errs"
	"github.com/maqao-project/madras-core/insn"
)

// ParseInsn implements insn.TextParser, the inverse of insn.Print for this
// architecture (spec §4.7's parse_from_text): it recovers opcode and
// operands from one printed disassembly line, which is enough to satisfy
// the parse(print(i)) == i round-trip law of spec §8 scenario 1 — address,
// raw coding, and annotations are not part of that equality.
func (capability) ParseInsn(text string) (insn.Instruction, error) {
	fields := strings.Split(text, "\t")
	if len(fields) < 3 {
		return insn.Instruction{}, errs.New(errs.ParseError, errs.ErrGeneric, "aarch64: malformed instruction line: "+text)
	}
	mnemonic := strings.TrimSpace(fields[2])
	if mnemonic == "" || mnemonic == "(bad)" {
		return insn.Instruction{Opcode: insn.BadOpcode}, nil
	}

	id, ok := opcodeByName[mnemonic]
	if !ok {
		return insn.Instruction{}, errs.New(errs.ParseError, errs.ErrGeneric, "aarch64: unknown mnemonic "+mnemonic)
	}

	out := insn.Instruction{Opcode: id}
	if len(fields) > 3 && strings.TrimSpace(fields[3]) != "" {
		for _, tok := range strings.Split(fields[3], ", ") {
			op, err := parseOperandToken(tok)
			if err != nil {
				return insn.Instruction{}, err
			}
			out.Operands = append(out.Operands, op)
		}
	}
	return out, nil
}
