package aarch64

import (
	"sort"

	"github.com/maqao-project/madras-core/insn"
)

// opcodeNames lists every mnemonic this sample architecture knows, in
// whatever order is convenient to read; opcodeNamesSorted below sorts it,
// since arch.Descriptor.Opcodes must stay lexicographic (spec §3 invariant)
// and OpcodeByName binary-searches it.
var opcodeNames = []string{
	"b",    // unconditional branch
	"bl",   // branch with link (call)
	"beq",  // branch if equal
	"bne",  // branch if not equal
	"blt",  // branch if less than
	"ble",  // branch if less or equal
	"bgt",  // branch if greater than
	"bge",  // branch if greater or equal
	"cmp",  // compare register against immediate
	"hint", // hint family; encoding 0x1f2003d5 is the NOP variant
	"mov",  // register-to-register / immediate move, used by patch preludes
	"nop16", // 2-byte compact NOP, used by the alternate interworking ISA
}

// opcodeNamesSorted and opcodeByName are package-level vars (not an init
// func) so Go's dependency-ordered variable initialization guarantees they
// are ready before any other var that reads them during its own
// initialization (e.g. Descriptor, whose DefaultAnnotations come from
// defaultAnnotations).
var opcodeNamesSorted = func() []string {
	sorted := append([]string(nil), opcodeNames...)
	sort.Strings(sorted)
	return sorted
}()

var opcodeByName = func() map[string]insn.OpcodeID {
	m := make(map[string]insn.OpcodeID, len(opcodeNamesSorted))
	for i, n := range opcodeNamesSorted {
		m[n] = insn.OpcodeID(i)
	}
	return m
}()

func opID(name string) insn.OpcodeID {
	id, ok := opcodeByName[name]
	if !ok {
		panic("aarch64: unknown opcode " + name)
	}
	return id
}

// defaultAnnotations is indexed the same way as opcodeNamesSorted.
func defaultAnnotations() []insn.AnnotationFlag {
	out := make([]insn.AnnotationFlag, len(opcodeNamesSorted))
	for i := range out {
		out[i] = insn.StandardCode
	}
	return out
}
