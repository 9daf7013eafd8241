package insn

// SectionRef and LabelRef are opaque, owner-assigned identifiers for the
// Section and Label aggregates maintained by package asmfile. insn stays
// free of any dependency on asmfile by only ever holding these small value
// types, never a Section or Label pointer.
type SectionRef int32

const NoSection SectionRef = -1

type LabelRef int32

const NoLabel LabelRef = -1

// Data is a variable-sized chunk inside a non-code section (spec §3).
type Data struct {
	Address uint64
	Size    uint64
	Section SectionRef
	Label   LabelRef
	// Payload holds the raw bytes backing this entry when known; it may be
	// nil for a zero-length placeholder created on demand by the Reference
	// Resolver.
	Payload []byte
	// Pointer is set when this data entry itself holds a pointer-shaped
	// value (e.g. a GOT slot or vtable entry).
	Pointer *Pointer
}
