// Package resolver is the Reference Resolver (spec §4.5): it binds every
// relative pointer operand to the instruction or data entry it addresses,
// keeps the bidirectional instruction<->data index the patch planner and
// printer rely on, and defers branches whose destination hasn't been
// decoded yet to a post-pass Finalize. Grounded on MAQAO's libmdisass.c
// data-reference bookkeeping and generalised from the teacher's
// validate.VerifyModule second pass over an already-decoded stream.
package resolver

import (
	"github.com/samber/lo"

	"github.com/maqao-project/madras-core/asmfile"
	"github.com/maqao-project/madras-core/errs"
	"github.com/maqao-project/madras-core/insn"
	"github.com/maqao-project/madras-core/internal/loader"
)

// Resolver implements disassembler.Resolver without importing that
// package, the same opaque-interface pattern insn.Resolver/insn.Annotator
// use to keep the dependency graph acyclic.
type Resolver struct {
	insnByAddress map[uint64]insn.Ref

	// pending holds branch instructions whose relative pointer target
	// wasn't yet a known instruction address when first seen (spec §4.5's
	// "branches queue"); Finalize re-attempts them once the whole section
	// has been swept.
	pending []insn.Ref

	insnToData  map[insn.Ref][]insn.DataRef
	dataToInsns map[insn.DataRef][]insn.Ref
}

// New creates an empty Resolver.
func New() *Resolver {
	return &Resolver{
		insnByAddress: map[uint64]insn.Ref{},
		insnToData:    map[insn.Ref][]insn.DataRef{},
		dataToInsns:   map[insn.DataRef][]insn.Ref{},
	}
}

// ResolveInstruction implements disassembler.Resolver: it is called once
// per decoded instruction, in address order.
func (r *Resolver) ResolveInstruction(file *asmfile.AssemblyFile, ref insn.Ref) {
	i, ok := file.Get(ref)
	if !ok {
		return
	}
	r.insnByAddress[i.Address] = ref

	for idx := range i.Operands {
		op := &i.Operands[idx]
		switch op.Kind {
		case insn.PointerOperand:
			if op.Ptr.Kind == insn.PointerRelative {
				r.resolvePointer(file, ref, i, op)
			}
		case insn.MemoryRelative:
			r.resolveMemoryRelative(file, ref, i, op)
		}
	}
}

func (r *Resolver) resolvePointer(file *asmfile.AssemblyFile, ref insn.Ref, i *insn.Instruction, op *insn.Operand) {
	addr, err := file.Arch.Cap.GetPointerAddress(i, op.Ptr)
	if err != nil {
		return
	}
	if target, ok := r.insnByAddress[addr]; ok {
		bindInstructionTarget(i, op, target)
		return
	}
	r.pending = append(r.pending, ref)
}

func bindInstructionTarget(i *insn.Instruction, op *insn.Operand, target insn.Ref) {
	op.Ptr.Target = insn.TargetInstruction
	op.Ptr.Instr = target
	i.Branch = insn.BranchTarget{Target: insn.TargetInstruction, Instr: target}
}

// resolveMemoryRelative implements spec §4.5's memory-relative formula:
// the referenced address is insn.address + size + offset, looked up (or,
// for a known variable label, created) as a Data entry.
func (r *Resolver) resolveMemoryRelative(file *asmfile.AssemblyFile, ref insn.Ref, i *insn.Instruction, op *insn.Operand) {
	target := uint64(int64(i.Address) + int64(i.ByteSize) + op.MemRelOffset)

	dataRef, ok := file.DataAt(target)
	if !ok {
		dataRef, ok = r.materialiseFromLabel(file, target)
	}
	if !ok {
		return
	}

	op.Ptr = insn.Pointer{
		Kind:   insn.PointerRelative,
		Offset: op.MemRelOffset,
		Target: insn.TargetData,
		Data:   dataRef,
	}
	r.link(ref, dataRef)
}

// materialiseFromLabel creates a zero-length Data placeholder at addr when
// a variable label already claims that address but no Data entry exists
// yet (spec §4.5).
func (r *Resolver) materialiseFromLabel(file *asmfile.AssemblyFile, addr uint64) (insn.DataRef, bool) {
	lref, ok := file.LabelAtAddress(addr)
	if !ok {
		return insn.NilData, false
	}
	lbl, ok := file.Label(lref)
	if !ok || lbl.Type != loader.LabelVariable {
		return insn.NilData, false
	}
	section, _ := file.SectionContaining(addr)
	return file.NewData(insn.Data{Address: addr, Section: insn.SectionRef(section), Label: lref}), true
}

// link records ref <-> data in both indexes, skipping an entry already
// present so repeated resolution passes stay idempotent.
func (r *Resolver) link(ref insn.Ref, data insn.DataRef) {
	if !lo.Contains(r.insnToData[ref], data) {
		r.insnToData[ref] = append(r.insnToData[ref], data)
	}
	if !lo.Contains(r.dataToInsns[data], ref) {
		r.dataToInsns[data] = append(r.dataToInsns[data], ref)
	}
}

// ReferencedData returns every Data entry ref's operands resolve to.
func (r *Resolver) ReferencedData(ref insn.Ref) []insn.DataRef {
	return r.insnToData[ref]
}

// ReferencingInstructions returns every instruction whose operand resolves
// to data.
func (r *Resolver) ReferencingInstructions(data insn.DataRef) []insn.Ref {
	return r.dataToInsns[data]
}

// Finalize re-attempts every branch left pending because its target
// address wasn't yet decoded when first seen (e.g. a forward branch), now
// that the whole section has been swept. It returns a warning for each
// branch whose target still doesn't resolve to any known instruction —
// spec §4.4 step 4's "errors ... reported ... with a warning and partial
// results" extended to the resolver's own post-pass.
func (r *Resolver) Finalize(file *asmfile.AssemblyFile) []*errs.Error {
	var warnings []*errs.Error
	still := r.pending[:0]

	for _, ref := range r.pending {
		i, ok := file.Get(ref)
		if !ok {
			continue
		}
		resolved := false
		for idx := range i.Operands {
			op := &i.Operands[idx]
			if op.Kind != insn.PointerOperand || op.Ptr.Kind != insn.PointerRelative || op.Ptr.Resolved() {
				continue
			}
			addr, err := file.Arch.Cap.GetPointerAddress(i, op.Ptr)
			if err != nil {
				continue
			}
			if target, ok := r.insnByAddress[addr]; ok {
				bindInstructionTarget(i, op, target)
				resolved = true
			}
		}
		if resolved {
			continue
		}
		still = append(still, ref)
		warnings = append(warnings, errs.Warn(errs.InstructionNotFound, errs.ErrGeneric,
			"resolver: branch target never materialised into a known instruction"))
	}

	r.pending = still
	return warnings
}
