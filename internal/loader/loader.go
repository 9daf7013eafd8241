// Package loader defines the binary-file-loader contract (spec §6.1): the
// set of queries the disassembler and patcher need from an ELF/COFF/
// Mach-O parser, which is out of scope for this module and treated as an
// external collaborator. A Static implementation backs tests and the
// illustrative cmd/ tools with in-memory byte slices, mirroring the way
// the teacher's wasm.Module is an in-memory structured view assembled
// ahead of time rather than touched lazily from a file.
package loader

// SectionAttr is the section attribute bitset (spec §3).
type SectionAttr uint32

const (
	StdCode SectionAttr = 1 << iota
	ExtFctStubs
	PatchedSection
	DataSection
)

// SectionInfo is one section as reported by the loader.
type SectionInfo struct {
	Name    string
	Attrs   SectionAttr
	Address uint64
	Size    uint64
	Bytes   []byte
}

// LabelType enumerates the label kinds spec §3 names.
type LabelType int

const (
	LabelFunction LabelType = iota
	LabelVariable
	LabelNoFunction
	LabelDummy
	LabelExtFunction
	LabelPatchSection
	LabelGeneric
)

// LabelInfo is one label as reported by the loader.
type LabelInfo struct {
	Name    string
	Address uint64
	Type    LabelType
	Section string // section name, or "" if not section-scoped
}

// RelocationInfo is one relocation entry.
type RelocationInfo struct {
	Offset  uint64
	Symbol  string
	Addend  int64
	Section string
}

// FileType enumerates the binary's overall type.
type FileType int

const (
	Executable FileType = iota
	SharedObject
	Relocatable
)

// Binary is the full loader contract the engine consumes. The core never
// touches raw file offsets directly; everything is mediated through this
// interface.
type Binary interface {
	Sections() []SectionInfo
	Labels() []LabelInfo
	Libraries() []string
	Relocations() []RelocationInfo
	Machine() string
	Type() FileType
	CodeEndianness() string // "big" | "little", informational; architecture descriptors own the authoritative bit-endianness
}

// Static is an in-memory Binary used by tests and the illustrative cmd/
// tools, standing in for a real ELF/COFF/Mach-O parser.
type Static struct {
	Secs    []SectionInfo
	Labs    []LabelInfo
	Libs    []string
	Relocs  []RelocationInfo
	Mach    string
	Typ     FileType
	CodeEnd string
}

func (s *Static) Sections() []SectionInfo         { return s.Secs }
func (s *Static) Labels() []LabelInfo             { return s.Labs }
func (s *Static) Libraries() []string             { return s.Libs }
func (s *Static) Relocations() []RelocationInfo   { return s.Relocs }
func (s *Static) Machine() string                 { return s.Mach }
func (s *Static) Type() FileType                  { return s.Typ }
func (s *Static) CodeEndianness() string          { return s.CodeEnd }
