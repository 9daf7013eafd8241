package aarch64

import (
	"github.com/maqao-project/madras-core/arch"
	"github.com/maqao-project/madras-core/errs"
	"github.com/maqao-project/madras-core/insn"
)

// flagScratchReg is the register the generated save/restore-flags
// bookends use. It is a fixed convention for this sample architecture, not
// something a session can override.
var flagScratchReg = registerByName["x9"]

// oppositeBranch returns the conditional-branch mnemonic that fires when
// cond is FALSE: the planner's test-and-skip sequence branches over the
// conditional body exactly when the original condition does not hold.
func oppositeBranch(op arch.CompareOp) (insn.OpcodeID, error) {
	switch op {
	case arch.CmpEQ:
		return opID("bne"), nil
	case arch.CmpNE:
		return opID("beq"), nil
	case arch.CmpLT:
		return opID("bge"), nil
	case arch.CmpLE:
		return opID("bgt"), nil
	case arch.CmpGT:
		return opID("ble"), nil
	case arch.CmpGE:
		return opID("blt"), nil
	default:
		return insn.BadOpcode, errs.New(errs.OperandTypeMismatch, errs.ErrGeneric, "aarch64: unknown compare operator")
	}
}

// GenerateTestCond implements arch.ConditionCodegen for spec §4.6's
// conditional-insert primitive (spec §8 scenario 4): a flag-preserving
// prelude, the comparison, a branch bypassing body when the condition is
// false, body itself, then flags are restored.
func (capability) GenerateTestCond(cond arch.ConditionExpr, body []insn.Instruction, elseTarget insn.Ref) ([]insn.Instruction, error) {
	branchOp, err := oppositeBranch(cond.Op)
	if err != nil {
		return nil, err
	}

	save := insn.Instruction{
		Opcode:      opID("mov"),
		Annotations: insn.PatchNew,
		Operands:    []insn.Operand{{Kind: insn.Register, Reg: flagScratchReg, Role: insn.RoleDest | insn.RoleWrite}},
	}
	cmp := insn.Instruction{
		Opcode:      opID("cmp"),
		Annotations: insn.PatchNew,
		Operands:    []insn.Operand{cond.Operand, {Kind: insn.Immediate, Imm: cond.Value}},
	}
	branch := insn.Instruction{
		Opcode:      branchOp,
		Annotations: insn.PatchNew | insn.ElseBranch,
		Branch:      insn.BranchTarget{Target: insn.TargetInstruction, Instr: elseTarget},
		Operands: []insn.Operand{{
			Kind: insn.PointerOperand,
			Ptr:  insn.Pointer{Kind: insn.PointerRelative, Target: insn.TargetInstruction, Instr: elseTarget},
		}},
	}
	restore := insn.Instruction{
		Opcode:      opID("mov"),
		Annotations: insn.PatchNew,
		Operands:    []insn.Operand{{Kind: insn.Register, Reg: flagScratchReg, Role: insn.RoleSource | insn.RoleRead}},
	}

	out := make([]insn.Instruction, 0, len(body)+4)
	out = append(out, save, cmp, branch)
	for i := range body {
		out = append(out, insn.Copy(&body[i]))
	}
	out = append(out, restore)
	return out, nil
}
