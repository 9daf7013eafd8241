// Package asmfile is the assembly-file aggregate (spec §3/§4): the
// bookkeeping MAQAO's libmdisass.c keeps alongside the raw disassembly — the
// section table, the label indexes (by name and by address), the data
// index, and the doubly linked instruction list the disassembler appends to
// and the patch planner splices. It implements insn.Annotator so
// insn.Print can resolve label names and data-relative comments without
// insn importing this package.
package asmfile

import (
	"sort"

	"github.com/maqao-project/madras-core/arch"
	"github.com/maqao-project/madras-core/errs"
	"github.com/maqao-project/madras-core/insn"
	"github.com/maqao-project/madras-core/internal/loader"
)

// ListNode is one entry of the instruction list threading every decoded or
// synthesised instruction in address (or, after a patch splice, logical)
// order. Nodes are never reordered in place; insertion allocates a fresh
// node and relinks its neighbours.
type ListNode struct {
	prev, next insn.ListNodeRef
	Insn       insn.Ref
}

// Section is one section of the binary (spec §3), carrying the loader's
// static description plus the run of list nodes covering it, when it holds
// code.
type Section struct {
	Name    string
	Attrs   loader.SectionAttr
	Address uint64
	Size    uint64

	First insn.ListNodeRef // NoListNode if this section holds no code
	Last  insn.ListNodeRef
}

func (s *Section) IsCode() bool {
	return s.Attrs&(loader.StdCode|loader.ExtFctStubs|loader.PatchedSection) != 0
}

// Label is one named address (spec §3): a function or variable entry
// point, an external stub, or a patch-introduced anchor.
type Label struct {
	Name    string
	Address uint64
	Type    loader.LabelType
	Section int // index into AssemblyFile.Sections, or -1

	TargetInstr insn.Ref
	TargetData  insn.DataRef
}

// AnalysisStatus is the per-file bitset recording how far the disassembler
// got (spec §4.4's "incomplete disassembly" outcome).
type AnalysisStatus uint32

const (
	Disassembled AnalysisStatus = 1 << iota
	IncompleteDisassembly
	PatchPlanned
	PatchCommitted
)

// AssemblyFile is the aggregate the disassembler populates and the patch
// planner and writer consume: one binary's sections, labels, data and
// instruction list, plus the architecture descriptor driving all of it.
type AssemblyFile struct {
	Binary loader.Binary
	Arch   *arch.Descriptor
	Status AnalysisStatus

	Insns *insn.Arena
	Datas *insn.DataArena

	Sections []*Section

	labels        []*Label // index i backs insn.LabelRef(i)
	labelsByName  map[string]int
	labelsByAddr  map[uint64]int

	dataByAddress map[uint64]insn.DataRef

	nodes    []ListNode // index i backs insn.ListNodeRef(i)
	nodeFree []insn.ListNodeRef
	listHead insn.ListNodeRef
	listTail insn.ListNodeRef
}

// New creates an empty AssemblyFile bound to bin and d.
func New(bin loader.Binary, d *arch.Descriptor) *AssemblyFile {
	return &AssemblyFile{
		Binary:        bin,
		Arch:          d,
		Insns:         insn.NewArena(),
		Datas:         insn.NewDataArena(),
		labelsByName:  map[string]int{},
		labelsByAddr:  map[uint64]int{},
		dataByAddress: map[uint64]insn.DataRef{},
		listHead:      insn.NoListNode,
		listTail:      insn.NoListNode,
	}
}

// AddSection registers a new section and returns its index.
func (f *AssemblyFile) AddSection(info loader.SectionInfo) int {
	f.Sections = append(f.Sections, &Section{
		Name:    info.Name,
		Attrs:   info.Attrs,
		Address: info.Address,
		Size:    info.Size,
		First:   insn.NoListNode,
		Last:    insn.NoListNode,
	})
	return len(f.Sections) - 1
}

// SectionByName finds a registered section by name.
func (f *AssemblyFile) SectionByName(name string) (int, bool) {
	for i, s := range f.Sections {
		if s.Name == name {
			return i, true
		}
	}
	return 0, false
}

// SectionContaining returns the index of the section whose [Address,
// Address+Size) range contains addr.
func (f *AssemblyFile) SectionContaining(addr uint64) (int, bool) {
	for i, s := range f.Sections {
		if addr >= s.Address && addr < s.Address+s.Size {
			return i, true
		}
	}
	return 0, false
}

// NewLabel creates and indexes a label, returning its LabelRef.
func (f *AssemblyFile) NewLabel(name string, addr uint64, typ loader.LabelType, section int) insn.LabelRef {
	f.labels = append(f.labels, &Label{Name: name, Address: addr, Type: typ, Section: section})
	ref := insn.LabelRef(len(f.labels) - 1)
	if name != "" {
		f.labelsByName[name] = int(ref)
	}
	if _, exists := f.labelsByAddr[addr]; !exists {
		f.labelsByAddr[addr] = int(ref)
	}
	return ref
}

// LabelAtAddress returns the first label registered at exactly addr, used
// by the disassembler's interworking probe and function-boundary tracking
// (spec §4.4).
func (f *AssemblyFile) LabelAtAddress(addr uint64) (insn.LabelRef, bool) {
	i, ok := f.labelsByAddr[addr]
	if !ok {
		return insn.NoLabel, false
	}
	return insn.LabelRef(i), true
}

// Label resolves ref to its Label.
func (f *AssemblyFile) Label(ref insn.LabelRef) (*Label, bool) {
	if ref == insn.NoLabel || int(ref) < 0 || int(ref) >= len(f.labels) {
		return nil, false
	}
	return f.labels[ref], true
}

// LabelByName looks up a label by its exact name.
func (f *AssemblyFile) LabelByName(name string) (insn.LabelRef, bool) {
	i, ok := f.labelsByName[name]
	if !ok {
		return insn.NoLabel, false
	}
	return insn.LabelRef(i), true
}

// FunctionLabels returns every LabelFunction label, sorted by address, for
// the disassembler's sweep (spec §4.4) and the patcher's function lookup.
func (f *AssemblyFile) FunctionLabels() []insn.LabelRef {
	var out []insn.LabelRef
	for i, l := range f.labels {
		if l.Type == loader.LabelFunction {
			out = append(out, insn.LabelRef(i))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return f.labels[out[a]].Address < f.labels[out[b]].Address
	})
	return out
}

// LabelName implements insn.Annotator.
func (f *AssemblyFile) LabelName(ref insn.LabelRef) (string, bool) {
	l, ok := f.Label(ref)
	if !ok || l.Name == "" {
		return "", false
	}
	return l.Name, true
}

// RenameLabel changes ref's name in place, re-indexing the by-name lookup
// (spec §6.3's "external function rename").
func (f *AssemblyFile) RenameLabel(ref insn.LabelRef, newName string) error {
	l, ok := f.Label(ref)
	if !ok {
		return errs.New(errs.InstructionNotFound, errs.ErrLibasmInstructionNotFound, "asmfile: rename: label not found")
	}
	if l.Name != "" {
		delete(f.labelsByName, l.Name)
	}
	l.Name = newName
	if newName != "" {
		f.labelsByName[newName] = int(ref)
	}
	return nil
}

// DataLabel implements insn.Annotator: it resolves a data reference to the
// address, enclosing label name, and byte offset within that label's data,
// the way objdump renders "# 0x404040 <errno@@GLIBC_2.2.5>".
func (f *AssemblyFile) DataLabel(ref insn.DataRef) (addr uint64, name string, offset int64, ok bool) {
	d, found := f.Datas.Get(ref)
	if !found {
		return 0, "", 0, false
	}
	if l, lok := f.Label(d.Label); lok {
		return d.Address, l.Name, int64(d.Address) - int64(l.Address), true
	}
	return d.Address, "", 0, false
}

// NewData allocates a data entry and indexes it by address.
func (f *AssemblyFile) NewData(d insn.Data) insn.DataRef {
	ref := f.Datas.Alloc(d)
	f.dataByAddress[d.Address] = ref
	return ref
}

// DataAt looks up a previously allocated data entry by its exact address.
func (f *AssemblyFile) DataAt(addr uint64) (insn.DataRef, bool) {
	ref, ok := f.dataByAddress[addr]
	return ref, ok
}

func (f *AssemblyFile) allocNode(n ListNode) insn.ListNodeRef {
	if k := len(f.nodeFree); k > 0 {
		ref := f.nodeFree[k-1]
		f.nodeFree = f.nodeFree[:k-1]
		f.nodes[ref] = n
		return ref
	}
	f.nodes = append(f.nodes, n)
	return insn.ListNodeRef(len(f.nodes) - 1)
}

func (f *AssemblyFile) node(ref insn.ListNodeRef) *ListNode {
	if ref == insn.NoListNode || int(ref) < 0 || int(ref) >= len(f.nodes) {
		return nil
	}
	return &f.nodes[ref]
}

// Append adds i to the end of the overall instruction list and to section's
// code run, returning a Ref to the stored instruction.
func (f *AssemblyFile) Append(section int, i insn.Instruction) insn.Ref {
	i.Section = insn.SectionRef(section)
	ref := f.Insns.Alloc(i)
	nodeRef := f.allocNode(ListNode{prev: f.listTail, next: insn.NoListNode, Insn: ref})

	if inst, ok := f.Insns.Get(ref); ok {
		inst.Node = nodeRef
	}
	if f.listTail != insn.NoListNode {
		f.node(f.listTail).next = nodeRef
	} else {
		f.listHead = nodeRef
	}
	f.listTail = nodeRef

	sec := f.Sections[section]
	if sec.First == insn.NoListNode {
		sec.First = nodeRef
	}
	sec.Last = nodeRef
	return ref
}

// InsertAfter splices i into the list immediately after anchor (spec §4.6's
// insertion primitive), returning the new instruction's Ref. anchor must be
// a live node.
func (f *AssemblyFile) InsertAfter(anchor insn.Ref, i insn.Instruction) (insn.Ref, error) {
	anchorInsn, ok := f.Insns.Get(anchor)
	if !ok {
		return insn.Nil, errs.New(errs.InstructionNotFound, errs.ErrLibasmInstructionNotFound, "insert-after: anchor not found")
	}
	i.Section = anchorInsn.Section
	ref := f.Insns.Alloc(i)

	// Capture anchor.next before allocNode, since it may grow f.nodes and
	// invalidate any pointer taken from it beforehand.
	oldNext := f.node(anchorInsn.Node).next
	newRef := f.allocNode(ListNode{prev: anchorInsn.Node, next: oldNext, Insn: ref})
	if next, ok := f.Insns.Get(ref); ok {
		next.Node = newRef
	}

	if oldNext != insn.NoListNode {
		f.node(oldNext).prev = newRef
	} else {
		f.listTail = newRef
	}
	f.node(anchorInsn.Node).next = newRef

	sec := f.Sections[anchorInsn.Section]
	if sec.Last == anchorInsn.Node {
		sec.Last = newRef
	}
	return ref, nil
}

// InsertBefore splices i into the list immediately before anchor, the
// counterpart InsertAfter needs for the patch planner's insert(before)
// contract (spec §4.6).
func (f *AssemblyFile) InsertBefore(anchor insn.Ref, i insn.Instruction) (insn.Ref, error) {
	anchorInsn, ok := f.Insns.Get(anchor)
	if !ok {
		return insn.Nil, errs.New(errs.InstructionNotFound, errs.ErrLibasmInstructionNotFound, "insert-before: anchor not found")
	}
	oldPrev := f.node(anchorInsn.Node).prev
	if oldPrev != insn.NoListNode {
		return f.InsertAfter(f.node(oldPrev).Insn, i)
	}

	i.Section = anchorInsn.Section
	ref := f.Insns.Alloc(i)
	newRef := f.allocNode(ListNode{prev: insn.NoListNode, next: anchorInsn.Node, Insn: ref})
	if newInsn, ok := f.Insns.Get(ref); ok {
		newInsn.Node = newRef
	}
	f.node(anchorInsn.Node).prev = newRef
	f.listHead = newRef

	sec := f.Sections[anchorInsn.Section]
	if sec.First == anchorInsn.Node {
		sec.First = newRef
	}
	return ref, nil
}

// Remove unlinks ref's node from the list without freeing its Instruction
// slot; the patch planner uses this to relocate an instruction rather than
// delete it outright.
func (f *AssemblyFile) Remove(ref insn.Ref) error {
	i, ok := f.Insns.Get(ref)
	if !ok {
		return errs.New(errs.InstructionNotFound, errs.ErrLibasmInstructionNotFound, "remove: instruction not found")
	}
	n := f.node(i.Node)
	if n == nil {
		return errs.New(errs.InstructionNotFound, errs.ErrLibasmInstructionNotFound, "remove: node not found")
	}

	if n.prev != insn.NoListNode {
		f.node(n.prev).next = n.next
	} else {
		f.listHead = n.next
	}
	if n.next != insn.NoListNode {
		f.node(n.next).prev = n.prev
	} else {
		f.listTail = n.prev
	}

	sec := f.Sections[i.Section]
	if sec.First == i.Node {
		sec.First = n.next
	}
	if sec.Last == i.Node {
		sec.Last = n.prev
	}

	f.nodeFree = append(f.nodeFree, i.Node)
	i.Node = insn.NoListNode
	return nil
}

// SectionFirstInstr returns the first code instruction of section secIdx.
func (f *AssemblyFile) SectionFirstInstr(secIdx int) (insn.Ref, bool) {
	sec := f.Sections[secIdx]
	n := f.node(sec.First)
	if n == nil {
		return insn.Nil, false
	}
	return n.Insn, true
}

// SectionLastInstr returns the last code instruction of section secIdx.
func (f *AssemblyFile) SectionLastInstr(secIdx int) (insn.Ref, bool) {
	sec := f.Sections[secIdx]
	n := f.node(sec.Last)
	if n == nil {
		return insn.Nil, false
	}
	return n.Insn, true
}

// Next returns the instruction following ref in list order.
func (f *AssemblyFile) Next(ref insn.Ref) (insn.Ref, bool) {
	i, ok := f.Insns.Get(ref)
	if !ok {
		return insn.Nil, false
	}
	n := f.node(i.Node)
	if n == nil || n.next == insn.NoListNode {
		return insn.Nil, false
	}
	return f.node(n.next).Insn, true
}

// Prev returns the instruction preceding ref in list order.
func (f *AssemblyFile) Prev(ref insn.Ref) (insn.Ref, bool) {
	i, ok := f.Insns.Get(ref)
	if !ok {
		return insn.Nil, false
	}
	n := f.node(i.Node)
	if n == nil || n.prev == insn.NoListNode {
		return insn.Nil, false
	}
	return f.node(n.prev).Insn, true
}

// First returns the first instruction of the overall list.
func (f *AssemblyFile) First() (insn.Ref, bool) {
	if f.listHead == insn.NoListNode {
		return insn.Nil, false
	}
	return f.node(f.listHead).Insn, true
}

// Get resolves ref, delegating to the instruction arena.
func (f *AssemblyFile) Get(ref insn.Ref) (*insn.Instruction, bool) {
	return f.Insns.Get(ref)
}

// Walk calls fn for every instruction in list order, stopping early if fn
// returns false.
func (f *AssemblyFile) Walk(fn func(insn.Ref, *insn.Instruction) bool) {
	for cur := f.listHead; cur != insn.NoListNode; {
		n := f.node(cur)
		i, ok := f.Insns.Get(n.Insn)
		if ok && !fn(n.Insn, i) {
			return
		}
		cur = n.next
	}
}
