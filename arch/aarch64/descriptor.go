// Package aarch64 is the sample architecture (spec §9's design note on
// capability interfaces): a deliberately small AArch64 subset covering
// exactly what spec §8's concrete scenarios exercise — the shortest NOP
// round-trip, a PC-relative literal load for the memory-relative-operand
// scenario, B/BL for branch resolution, and a second, 16-bit-wide ISA for
// the interworking scenario. It is grounded on MAQAO's arm64_ext.c /
// arm64_patcher.c split (extension payload vs. capability callbacks) and
// on the teacher's exec/internal/compile JIT backend for the golang-asm
// wiring pattern.
package aarch64

import (
	"github.com/maqao-project/madras-core/arch"
	"github.com/maqao-project/madras-core/insn"
	"github.com/maqao-project/madras-core/internal/bitstream"
)

// ISA tags this architecture's two grammars. ISAPrimary is the zero value,
// matching insn.ISATag's documented "file's primary ISA" convention.
const (
	ISAPrimary insn.ISATag = iota
	ISACompact
)

// Descriptor is the process-wide aarch64 architecture descriptor.
var Descriptor = &arch.Descriptor{
	Name:               "aarch64",
	Code:               0xB7, // ELF EM_AARCH64
	Endianness:         bitstream.LittleByteSwapped32,
	Registers:          registerNames,
	Opcodes:            opcodeNamesSorted,
	DefaultAnnotations: defaultAnnotations(),
	MinInsnLen:         16, // the compact ISA's word size; the engine never assumes a single global minimum beyond this
	MaxInsnLen:         32,
	Grammar:            primaryTables,
	Cap:                capability{},
	DefaultNOP:         []byte{0x1f, 0x20, 0x03, 0xd5},
}

// CompactDescriptor shares every table with Descriptor except the grammar
// and instruction-length bounds; the disassembler swaps to it (spec §4.4's
// interworking step) by reading GrammarFor.
var CompactDescriptor = &arch.Descriptor{
	Name:               "aarch64-compact",
	Code:               Descriptor.Code,
	Endianness:         bitstream.BigBit,
	Registers:          registerNames,
	Opcodes:            opcodeNamesSorted,
	DefaultAnnotations: defaultAnnotations(),
	MinInsnLen:         16,
	MaxInsnLen:         16,
	Grammar:            altTables,
	Cap:                capability{},
	DefaultNOP:         []byte{0xBF, 0x00},
}

func init() {
	arch.Register(Descriptor)
	arch.Register(CompactDescriptor)
}

// GrammarFor resolves the grammar tables for an ISA tag, used by the
// disassembler when Capability.SwitchFSM reports a switch.
func GrammarFor(tag insn.ISATag) *arch.Descriptor {
	if tag == ISACompact {
		return CompactDescriptor
	}
	return Descriptor
}
