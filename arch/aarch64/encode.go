package aarch64

import (
	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/arm64"

	"github.com/maqao-project/madras-core/errs"
	"github.com/maqao-project/madras-core/insn"
)

// regAddr fills an obj.Addr with a GPR reference, following the teacher's
// backend_amd64.go convention of setting Type/Reg directly rather than
// going through the assembler's parser.
func regAddr(reg int) obj.Addr {
	return obj.Addr{Type: obj.TYPE_REG, Reg: arm64.REG_R0 + int16(reg)}
}

// Encode implements arch.Capability.Encode (the bits-encoder external
// collaborator of spec §1/§6): it builds a single-instruction golang-asm
// program and assembles it, the same builder/Prog/Assemble sequence the
// teacher's AMD64Backend.Build uses for a whole function body.
func (capability) Encode(i *insn.Instruction) ([]byte, error) {
	builder, err := asm.NewBuilder("arm64", 1)
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, errs.ErrGeneric, err, "aarch64: golang-asm builder init")
	}

	prog := builder.NewProg()
	name := Descriptor.OpcodeName(i.Opcode)

	switch name {
	case "hint":
		prog.As = arm64.ANOOP

	case "nop16":
		prog.As = arm64.ANOOP

	case "b", "bl":
		if name == "b" {
			prog.As = arm64.AB
		} else {
			prog.As = arm64.ABL
		}
		prog.To.Type = obj.TYPE_BRANCH
		if len(i.Operands) > 0 && i.Operands[0].Kind == insn.PointerOperand {
			prog.To.Offset = i.Operands[0].Ptr.Offset
		}

	case "cmp":
		prog.As = arm64.ACMP
		if len(i.Operands) >= 2 {
			prog.From = immOrReg(i.Operands[1])
			prog.Reg = regAddr(i.Operands[0].Reg).Reg
		}

	case "beq", "bne", "blt", "ble", "bgt", "bge":
		prog.As = condBranchOp(name)
		prog.To.Type = obj.TYPE_BRANCH
		if len(i.Operands) > 0 && i.Operands[0].Kind == insn.PointerOperand {
			prog.To.Offset = i.Operands[0].Ptr.Offset
		}

	case "mov":
		prog.As = arm64.AMOVD
		if len(i.Operands) >= 1 {
			prog.To = regAddr(i.Operands[0].Reg)
		}
		if len(i.Operands) >= 2 {
			prog.From = immOrReg(i.Operands[1])
		}

	default:
		return nil, errs.New(errs.OperandTypeMismatch, errs.ErrGeneric, "aarch64: cannot encode opcode "+name)
	}

	builder.AddInstruction(prog)
	return builder.Assemble(), nil
}

func immOrReg(o insn.Operand) obj.Addr {
	if o.Kind == insn.Immediate {
		return obj.Addr{Type: obj.TYPE_CONST, Offset: o.Imm}
	}
	return regAddr(o.Reg)
}

func condBranchOp(name string) obj.As {
	switch name {
	case "beq":
		return arm64.ABEQ
	case "bne":
		return arm64.ABNE
	case "blt":
		return arm64.ABLT
	case "ble":
		return arm64.ABLE
	case "bgt":
		return arm64.ABGT
	case "bge":
		return arm64.ABGE
	default:
		return arm64.ANOOP
	}
}
