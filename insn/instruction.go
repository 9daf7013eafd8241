package insn

// ListNodeRef is an opaque reference to the doubly linked list node that
// threads this instruction into its owning assembly file's instruction
// list (spec §3's "list-sequence node"); the node type itself lives in
// package asmfile, which owns the list.
type ListNodeRef int32

const NoListNode ListNodeRef = -1

// BranchTarget is instruction-level, denormalised access to "the" target a
// branch instruction points at, kept in sync with whichever operand
// actually carries the resolving Pointer (spec §3).
type BranchTarget struct {
	Target TargetKind
	Instr  Ref
	Data   DataRef
}

// Instruction is the semantic representation of one decoded or synthesised
// instruction (spec §3).
type Instruction struct {
	Opcode   OpcodeID
	Operands []Operand

	// coding is the lazily-materialised bit-level encoding; it is set by
	// the parser as it decodes, and can always be reconstructed from
	// Opcode+Operands via an architecture's Capability.Encode if cleared.
	coding      []byte
	codingBits  int
	codingValid bool

	Address uint64
	ByteSize int

	Section SectionRef
	Label   LabelRef
	Branch  BranchTarget
	Node    ListNodeRef

	Annotations AnnotationFlag
	ISA         ISATag
	Ext         Extension
}

// SetCoding records the raw bits backing this instruction, as produced by
// the parser or an encoder.
func (i *Instruction) SetCoding(bytes []byte, bits int) {
	i.coding = append([]byte(nil), bytes...)
	i.codingBits = bits
	i.codingValid = true
	if bits%8 == 0 {
		i.ByteSize = bits / 8
	} else {
		i.ByteSize = bits/8 + 1
	}
}

// Coding returns the raw bits backing this instruction and whether they are
// currently materialised (false after ClearCoding, before a re-encode).
func (i *Instruction) Coding() ([]byte, int, bool) {
	return i.coding, i.codingBits, i.codingValid
}

// ClearCoding drops the cached bit-level encoding, e.g. after the
// instruction's opcode or operands are rewritten by a patch modification;
// it will be reconstructed on demand via Capability.Encode.
func (i *Instruction) ClearCoding() {
	i.coding = nil
	i.codingBits = 0
	i.codingValid = false
}

// IsBad reports whether this is the reserved un-decodable marker.
func (i *Instruction) IsBad() bool { return i.Opcode == BadOpcode }

// Free releases i's extension payload (and each operand's extension); it
// must not be called while i is still linked into an assembly file's
// instruction list.
func Free(i *Instruction) {
	if i == nil {
		return
	}
	i.Ext = nil
	for idx := range i.Operands {
		i.Operands[idx].Ext = nil
		i.Operands[idx].Mem.Ext = nil
	}
}

// Copy performs a deep copy of i, including architecture extensions on the
// instruction and on every operand, but not its list-node linkage (a copy
// is not, itself, linked into any list).
func Copy(i *Instruction) Instruction {
	out := *i
	out.Node = NoListNode
	out.Operands = make([]Operand, len(i.Operands))
	for idx := range i.Operands {
		out.Operands[idx] = i.Operands[idx].Copy()
	}
	if i.Ext != nil {
		out.Ext = i.Ext.Copy()
	}
	out.coding = append([]byte(nil), i.coding...)
	return out
}

// Equal reports opcode and operand-wise equality (spec §4.7); it ignores
// list linkage, section/label back-links and annotations, matching the
// round-trip laws of spec §8 which compare only the decoded semantic
// content.
func Equal(a, b *Instruction) bool {
	if a.Opcode != b.Opcode || len(a.Operands) != len(b.Operands) {
		return false
	}
	for idx := range a.Operands {
		if !a.Operands[idx].Equal(b.Operands[idx]) {
			return false
		}
	}
	return extensionsEqual(a.Ext, b.Ext)
}
