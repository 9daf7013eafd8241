// Package patch is the Patch Planner (spec §4.6) and the session-facing
// modification API of spec §6.3: it accumulates insert/delete/replace/
// modify/relocate/branch-redirect requests against an already-disassembled
// AssemblyFile, enforces the planner's conflict and reachability
// invariants, and commits them in the ordered pipeline spec §4.6 prescribes.
// Grounded on MAQAO's libmadras.c modification-list bookkeeping and, for
// the conditional-insert codegen path, the teacher's own pattern of
// delegating to an architecture-specific builder (exec/internal/compile).
package patch

import (
	"sort"

	"github.com/samber/lo"

	"github.com/maqao-project/madras-core/arch"
	"github.com/maqao-project/madras-core/asmfile"
	"github.com/maqao-project/madras-core/errs"
	"github.com/maqao-project/madras-core/insn"
	"github.com/maqao-project/madras-core/internal/loader"
)

// Kind enumerates the modification kinds spec §4.6 names.
type Kind int

const (
	Insert Kind = iota
	Delete
	Replace
	Modify
	Relocate
	BranchRedirect
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	case Replace:
		return "replace"
	case Modify:
		return "modify"
	case Relocate:
		return "relocate"
	case BranchRedirect:
		return "branch-redirect"
	default:
		return "kind(?)"
	}
}

// Position selects which side of an anchor an insert lands on.
type Position int

const (
	Before Position = iota
	After
)

// StackPolicy names how a conditional-insert sequence protects the stack
// around its flag save/restore bookend (spec §6.3's session init). The
// Planner stores it, but no codegen reads it: every policy yields the same
// sequence.
type StackPolicy int

const (
	StackKeep StackPolicy = iota
	StackMove
	StackShift
)

// Library is a shared library the patched binary will depend on, optionally
// renamed from an existing dependency (spec §6.3's "library add/rename").
type Library struct {
	Name       string
	RenameFrom string // non-empty when this renames an existing dependency
	resolved   bool
}

// GlobalVar is a global or TLS variable materialised during commit (spec
// §6.3's "global and TLS variable creation").
type GlobalVar struct {
	Name string
	Size uint64
	TLS  bool

	ref      insn.DataRef
	resolved bool
}

// Ref reports the Data entry backing g once the owning Planner has
// committed; ok is false beforehand.
func (g *GlobalVar) Ref() (insn.DataRef, bool) { return g.ref, g.resolved }

// labelRequest is a deferred insn.LabelRef creation (spec §6.3's "label
// insertion"), resolved during commit's "resolve new labels" step.
type labelRequest struct {
	name string
	addr uint64
	typ  loader.LabelType
	out  *insn.LabelRef
}

// Modification is one planner entry. Anchor is insn.Nil for a floating
// modification, which must be reached via some other modification's Next or
// a branch-redirect target (spec §4.6 invariant).
type Modification struct {
	id   int
	Kind Kind

	Anchor   insn.Ref
	Position Position

	// List is the instruction body for Insert (and the synthesised
	// test/body/restore sequence once InsertConditional wraps it), or the
	// single replacement instruction for Replace.
	List []insn.Instruction

	Cond    *arch.ConditionExpr
	ElseMod *Modification

	NewOpcode      insn.OpcodeID
	HasNewOpcode   bool
	NewOperands    []insn.Operand
	HasNewOperands bool

	pad       []byte
	customPad bool

	RedirectTarget  insn.Ref
	RedirectModif   *Modification
	UpdateIfPatched bool

	Next     *Modification
	NextInsn insn.Ref
	hasNext  bool

	Fixed bool

	committed bool
	// firstEmitted/lastEmitted bound the instructions this modification
	// actually produced in the assembly file's list, set by Commit.
	firstEmitted insn.Ref
	lastEmitted  insn.Ref
	// floatingRefs records every instruction a floating modification
	// produced, in emission order: floating instructions are never spliced
	// into the assembly file's list (they have no position of their own
	// until the patch writer lays out the displaced-code section), so
	// asmfile.Next can't walk them the way it walks an anchored insert.
	floatingRefs []insn.Ref
}

// ID is the insertion-id spec §5's ordering guarantee sorts ties on.
func (m *Modification) ID() int { return m.id }

// IsFloating reports whether m has no anchor of its own.
func (m *Modification) IsFloating() bool { return m.Anchor.IsNil() }

// FirstEmitted returns the first instruction m actually produced once
// committed; insn.Nil beforehand. The patch writer uses this to lay out a
// floating modification's body (spec §4.8).
func (m *Modification) FirstEmitted() insn.Ref { return m.firstEmitted }

// LastEmitted returns the last instruction m actually produced once
// committed; insn.Nil beforehand.
func (m *Modification) LastEmitted() insn.Ref { return m.lastEmitted }

// FloatingRefs returns every instruction a floating modification emitted,
// in order; empty for a non-floating modification (use FirstEmitted/
// LastEmitted plus asmfile.Next for those instead).
func (m *Modification) FloatingRefs() []insn.Ref { return m.floatingRefs }

// Planner accumulates modification requests against file and commits them
// as a unit (spec §4.6, §6.3).
type Planner struct {
	file *asmfile.AssemblyFile
	desc *arch.Descriptor

	stackPolicy StackPolicy
	defaultPad  []byte

	mods   []*Modification
	nextID int

	libraries []*Library
	labels    []*labelRequest
	globals   []*GlobalVar

	tracking   bool
	addressMap map[uint64]uint64

	committed bool
}

// Option configures a Planner at construction.
type Option func(*Planner)

// WithStackPolicy overrides the default StackKeep policy.
func WithStackPolicy(p StackPolicy) Option {
	return func(pl *Planner) { pl.stackPolicy = p }
}

// WithDefaultPadding overrides the architecture's DefaultNOP as the
// session-wide padding instruction.
func WithDefaultPadding(pad []byte) Option {
	return func(pl *Planner) { pl.defaultPad = pad }
}

// WithAddressTracking enables the original-address -> patched-address map
// retrievable after commit via Plan.AddressOf.
func WithAddressTracking() Option {
	return func(pl *Planner) { pl.tracking = true }
}

// NewPlanner creates a Planner bound to an already-disassembled file.
func NewPlanner(file *asmfile.AssemblyFile, opts ...Option) *Planner {
	p := &Planner{file: file, desc: file.Arch, defaultPad: file.Arch.DefaultNOP}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Planner) alloc(kind Kind, anchor insn.Ref) *Modification {
	p.nextID++
	return &Modification{id: p.nextID, Kind: kind, Anchor: anchor, pad: p.defaultPad}
}

// anchorConflict reports whether anchor already carries a delete/replace/
// modify modification, which cannot coexist with another one of those three
// (spec §4.6's conflict table); insert and relocate stack freely.
func (p *Planner) anchorConflict(anchor insn.Ref, kind Kind) error {
	exclusive := kind == Delete || kind == Replace || kind == Modify
	if !exclusive {
		return nil
	}
	for _, m := range p.mods {
		if m.Anchor == anchor && (m.Kind == Delete || m.Kind == Replace || m.Kind == Modify) {
			return errs.New(errs.ModificationConflict, errs.ErrGeneric,
				"patch: "+kind.String()+" conflicts with existing "+m.Kind.String()+" on the same anchor")
		}
	}
	return nil
}

// Insert queues an unconditional insertion of list before or after anchor.
func (p *Planner) Insert(anchor insn.Ref, pos Position, list []insn.Instruction) (*Modification, error) {
	if _, ok := p.file.Get(anchor); !ok {
		return nil, errs.New(errs.InstructionNotFound, errs.ErrLibasmInstructionNotFound, "patch: insert anchor not found")
	}
	m := p.alloc(Insert, anchor)
	m.Position = pos
	m.List = list
	p.mods = append(p.mods, m)
	return m, nil
}

// InsertConditional queues a conditional insertion: cond is evaluated at
// anchor, body runs only when it holds, and control otherwise falls through
// to whatever AddElse later binds (spec §4.6's generate_insnlist_testcond
// primitive, realised via arch.ConditionCodegen).
func (p *Planner) InsertConditional(anchor insn.Ref, pos Position, cond arch.ConditionExpr, body []insn.Instruction) (*Modification, error) {
	if _, ok := p.file.Get(anchor); !ok {
		return nil, errs.New(errs.InstructionNotFound, errs.ErrLibasmInstructionNotFound, "patch: insert anchor not found")
	}
	m := p.alloc(Insert, anchor)
	m.Position = pos
	m.Cond = &cond
	m.List = body
	p.mods = append(p.mods, m)
	return m, nil
}

// AddElse binds the condition-false branch of a conditional insertion (spec
// §4.6's add-else).
func (p *Planner) AddElse(m *Modification, elseMod *Modification) error {
	if m.Cond == nil {
		return errs.New(errs.ModificationConflict, errs.ErrGeneric, "patch: add-else on a non-conditional modification")
	}
	m.ElseMod = elseMod
	return nil
}

// FloatInsert queues list as a floating modification (spec §4.6): it has no
// anchor of its own and must be reached during commit as the Next target of
// some other modification, or as a BranchRedirect's destination, or Commit
// rejects the plan.
func (p *Planner) FloatInsert(list []insn.Instruction) *Modification {
	m := p.alloc(Insert, insn.Nil)
	m.List = list
	p.mods = append(p.mods, m)
	return m
}

// Delete queues removal of anchor, padded in place to its original byte
// length.
func (p *Planner) Delete(anchor insn.Ref) (*Modification, error) {
	if _, ok := p.file.Get(anchor); !ok {
		return nil, errs.New(errs.InstructionNotFound, errs.ErrLibasmInstructionNotFound, "patch: delete anchor not found")
	}
	if err := p.anchorConflict(anchor, Delete); err != nil {
		return nil, err
	}
	m := p.alloc(Delete, anchor)
	p.mods = append(p.mods, m)
	return m, nil
}

// Replace queues anchor's substitution by a single new instruction, padded
// to anchor's original byte length when shorter; branches that targeted
// anchor are rerouted to anchor's successor on commit (spec §4.6).
func (p *Planner) Replace(anchor insn.Ref, with insn.Instruction) (*Modification, error) {
	if _, ok := p.file.Get(anchor); !ok {
		return nil, errs.New(errs.InstructionNotFound, errs.ErrLibasmInstructionNotFound, "patch: replace anchor not found")
	}
	if err := p.anchorConflict(anchor, Replace); err != nil {
		return nil, err
	}
	m := p.alloc(Replace, anchor)
	m.List = []insn.Instruction{with}
	p.mods = append(p.mods, m)
	return m, nil
}

// Modify queues an in-place mnemonic/operand rewrite of anchor (spec §4.6);
// a nil newOpcode or newOperands leaves that part of the instruction
// unchanged.
func (p *Planner) Modify(anchor insn.Ref, newOpcode *insn.OpcodeID, newOperands []insn.Operand) (*Modification, error) {
	if _, ok := p.file.Get(anchor); !ok {
		return nil, errs.New(errs.InstructionNotFound, errs.ErrLibasmInstructionNotFound, "patch: modify anchor not found")
	}
	if err := p.anchorConflict(anchor, Modify); err != nil {
		return nil, err
	}
	m := p.alloc(Modify, anchor)
	if newOpcode != nil {
		m.NewOpcode, m.HasNewOpcode = *newOpcode, true
	}
	if newOperands != nil {
		m.NewOperands, m.HasNewOperands = newOperands, true
	}
	p.mods = append(p.mods, m)
	return m, nil
}

// Relocate queues anchor's surrounding block for movement into the
// displaced-code section (spec §4.6).
func (p *Planner) Relocate(anchor insn.Ref) (*Modification, error) {
	if _, ok := p.file.Get(anchor); !ok {
		return nil, errs.New(errs.InstructionNotFound, errs.ErrLibasmInstructionNotFound, "patch: relocate anchor not found")
	}
	m := p.alloc(Relocate, anchor)
	p.mods = append(p.mods, m)
	return m, nil
}

// BranchRedirect queues a new destination for a branch instruction: target
// names an existing instruction; setting the returned Modification's
// RedirectModif instead sends the branch, once committed, to that other
// modification's first emitted instruction. updateIfPatched decides whether a later insert-before the destination
// diverts the branch along with it.
func (p *Planner) BranchRedirect(branch insn.Ref, target insn.Ref, updateIfPatched bool) (*Modification, error) {
	if _, ok := p.file.Get(branch); !ok {
		return nil, errs.New(errs.InstructionNotFound, errs.ErrLibasmInstructionNotFound, "patch: branch-redirect anchor not found")
	}
	m := p.alloc(BranchRedirect, branch)
	m.RedirectTarget = target
	m.UpdateIfPatched = updateIfPatched
	p.mods = append(p.mods, m)
	return m, nil
}

// SetNext appends a control-flow link from m's emitted body to next (spec
// §4.6's set-next). Combining this with a BranchRedirect that also has
// UpdateIfPatched set is accepted but reported as a warning on Commit (the
// ambiguity spec.md §9 leaves unresolved in the source), since the two
// signal conflicting rerouting intents.
func (p *Planner) SetNext(m *Modification, next *Modification) {
	m.Next = next
	m.hasNext = true
}

// SetNextInsn is SetNext's counterpart linking directly to an existing
// instruction rather than another modification.
func (p *Planner) SetNextInsn(m *Modification, next insn.Ref) {
	m.NextInsn = next
	m.hasNext = true
}

// SetFixed sets or clears m's modif-fixed flag, which blocks relocation of
// m once committed. Toggling it after commit is refused (spec §4.6).
func (p *Planner) SetFixed(m *Modification, fixed bool) error {
	if m.committed {
		return errs.New(errs.ModificationConflict, errs.ErrGeneric, "patch: cannot toggle modif-fixed after commit")
	}
	m.Fixed = fixed
	return nil
}

// SetPadding overrides m's padding instruction bytes; an override longer
// than the session default is rejected (spec §4.6).
func (p *Planner) SetPadding(m *Modification, pad []byte) error {
	if len(pad) > len(p.defaultPad) {
		return errs.New(errs.PaddingTooLarge, errs.ErrPatchPaddingInsnTooBig,
			"patch: padding override exceeds the default padding instruction's length")
	}
	m.pad = pad
	m.customPad = true
	return nil
}

// AddLibrary queues a library dependency, optionally renaming an existing
// one (spec §6.3).
func (p *Planner) AddLibrary(name string) *Library {
	lib := &Library{Name: name}
	p.libraries = append(p.libraries, lib)
	return lib
}

// RenameLibrary queues a rename of an already-linked library.
func (p *Planner) RenameLibrary(from, to string) *Library {
	lib := &Library{Name: to, RenameFrom: from}
	p.libraries = append(p.libraries, lib)
	return lib
}

// NewLabel queues a label to be created during commit's "resolve new
// labels" step; the returned pointer's LabelRef is populated once Commit
// runs (spec §6.3's "label insertion").
func (p *Planner) NewLabel(name string, addr uint64, typ loader.LabelType) *insn.LabelRef {
	out := new(insn.LabelRef)
	p.labels = append(p.labels, &labelRequest{name: name, addr: addr, typ: typ, out: out})
	return out
}

// NewGlobal queues a global or TLS variable to be materialised during
// commit's "materialise global/TLS vars" step (spec §6.3).
func (p *Planner) NewGlobal(name string, size uint64, tls bool) *GlobalVar {
	g := &GlobalVar{Name: name, Size: size, TLS: tls}
	p.globals = append(p.globals, g)
	return g
}

// Validate checks the planner's standing invariants without committing:
// every floating modification must be reachable as Next from some
// non-floating modification or as a BranchRedirect's RedirectModif target
// (spec §4.6).
func (p *Planner) Validate() []error {
	reached := map[*Modification]bool{}
	for _, m := range p.mods {
		if m.hasNext && m.Next != nil {
			reached[m.Next] = true
		}
		if m.Kind == BranchRedirect && m.RedirectModif != nil {
			reached[m.RedirectModif] = true
		}
		if m.ElseMod != nil {
			reached[m.ElseMod] = true
		}
	}
	var errsOut []error
	for _, m := range p.mods {
		if m.IsFloating() && !reached[m] {
			errsOut = append(errsOut, errs.New(errs.ModificationConflict, errs.ErrGeneric,
				"patch: floating modification is never reached"))
		}
	}
	return errsOut
}

// Plan is the committed, address-ordered result Commit produces: the patch
// writer consumes it to emit the patched image.
type Plan struct {
	File         *asmfile.AssemblyFile
	Modifications []*Modification
	Libraries    []*Library
	Globals      []*GlobalVar
	AddressMap   map[uint64]uint64 // nil unless tracking was requested
	Warnings     []*errs.Error
}

// AddressOf looks up the patched address an original address maps to, when
// address tracking was enabled (spec §6.3).
func (pl *Plan) AddressOf(original uint64) (uint64, bool) {
	if pl.AddressMap == nil {
		return 0, false
	}
	addr, ok := pl.AddressMap[original]
	return addr, ok
}

// Commit runs the ordered pipeline spec §4.6 prescribes: resolve libraries,
// resolve new labels, materialise global/TLS vars, emit modifications in
// (address, position, insertion-id) order with floating ones last, relink
// branches, then hand the result to the caller as a Plan for the patch
// writer.
func (p *Planner) Commit() (*Plan, error) {
	if p.committed {
		return nil, errs.New(errs.ModificationConflict, errs.ErrGeneric, "patch: planner already committed")
	}
	if problems := p.Validate(); len(problems) > 0 {
		return nil, problems[0].(*errs.Error)
	}

	var warnings []*errs.Error

	p.resolveLibraries()
	p.resolveLabels()
	p.materialiseGlobals()

	ordered := p.orderedModifications()
	for _, m := range ordered {
		if err := p.emit(m); err != nil {
			return nil, err
		}
	}

	warnings = append(warnings, p.relinkBranches()...)

	if p.tracking {
		p.addressMap = p.buildAddressMap()
	}

	p.committed = true
	for _, m := range p.mods {
		m.committed = true
	}
	p.file.Status |= asmfile.PatchCommitted

	return &Plan{
		File:          p.file,
		Modifications: ordered,
		Libraries:     p.libraries,
		Globals:       p.globals,
		AddressMap:    p.addressMap,
		Warnings:      warnings,
	}, nil
}

// orderedModifications sorts non-floating modifications by (anchor address,
// position, insertion-id) and appends floating ones last (spec §4.6/§5).
func (p *Planner) orderedModifications() []*Modification {
	var anchored, floating []*Modification
	for _, m := range p.mods {
		if m.IsFloating() {
			floating = append(floating, m)
		} else {
			anchored = append(anchored, m)
		}
	}
	addrOf := func(m *Modification) uint64 {
		if i, ok := p.file.Get(m.Anchor); ok {
			return i.Address
		}
		return 0
	}
	sort.SliceStable(anchored, func(i, j int) bool {
		ai, aj := anchored[i], anchored[j]
		if addrOf(ai) != addrOf(aj) {
			return addrOf(ai) < addrOf(aj)
		}
		if ai.Position != aj.Position {
			return ai.Position == Before
		}
		return ai.id < aj.id
	})
	return append(anchored, floating...)
}

func (p *Planner) resolveLibraries() {
	for _, l := range p.libraries {
		l.resolved = true
	}
}

func (p *Planner) resolveLabels() {
	for _, req := range p.labels {
		sec, _ := p.file.SectionContaining(req.addr)
		*req.out = p.file.NewLabel(req.name, req.addr, req.typ, sec)
	}
}

func (p *Planner) materialiseGlobals() {
	for _, g := range p.globals {
		g.ref = p.file.NewData(insn.Data{Size: g.Size})
		g.resolved = true
	}
}

// emit splices one modification's effect into the assembly file's
// instruction list, marking every touched instruction with its patch
// annotation.
func (p *Planner) emit(m *Modification) error {
	switch m.Kind {
	case Insert:
		return p.emitInsert(m)
	case Delete:
		return p.emitDelete(m)
	case Replace:
		return p.emitReplace(m)
	case Modify:
		return p.emitModify(m)
	case Relocate:
		return p.emitRelocate(m)
	case BranchRedirect:
		// Applied in relinkBranches once every instruction exists.
		return nil
	default:
		return errs.New(errs.ModificationConflict, errs.ErrGeneric, "patch: unknown modification kind")
	}
}

func (p *Planner) emitInsert(m *Modification) error {
	body := m.List
	if m.Cond != nil {
		cg, ok := p.desc.Cap.(arch.ConditionCodegen)
		if !ok {
			return errs.New(errs.UnsupportedArchitecture, errs.ErrGeneric, "patch: architecture has no conditional-insert codegen")
		}
		var elseTarget insn.Ref
		if m.ElseMod != nil && !m.ElseMod.firstEmitted.IsNil() {
			elseTarget = m.ElseMod.firstEmitted
		} else {
			elseTarget = m.Anchor
		}
		wrapped, err := cg.GenerateTestCond(*m.Cond, body, elseTarget)
		if err != nil {
			return err
		}
		body = wrapped
	}

	if m.IsFloating() {
		return p.emitFloatingBody(m, body)
	}

	anchor := m.Anchor
	first := true
	for _, ins := range body {
		ins.Annotations |= insn.PatchNew
		var ref insn.Ref
		var err error
		if m.Position == Before {
			ref, err = p.file.InsertBefore(anchor, ins)
		} else {
			ref, err = p.file.InsertAfter(anchor, ins)
			anchor = ref
		}
		if err != nil {
			return err
		}
		if first {
			m.firstEmitted = ref
			first = false
		}
		m.lastEmitted = ref
	}
	return nil
}

// emitFloatingBody materialises a floating modification's instructions into
// the arena without splicing them into the assembly file's list: a floating
// modification has no position of its own until the patch writer lays out
// the displaced-code section along the Next chain that reaches it.
func (p *Planner) emitFloatingBody(m *Modification, body []insn.Instruction) error {
	first := true
	for _, ins := range body {
		ins.Annotations |= insn.PatchNew
		ins.Node = insn.NoListNode
		ref := p.file.Insns.Alloc(ins)
		if first {
			m.firstEmitted = ref
			first = false
		}
		m.lastEmitted = ref
		m.floatingRefs = append(m.floatingRefs, ref)
	}
	return nil
}

func (p *Planner) emitDelete(m *Modification) error {
	i, ok := p.file.Get(m.Anchor)
	if !ok {
		return errs.New(errs.InstructionNotFound, errs.ErrLibasmInstructionNotFound, "patch: delete anchor vanished")
	}
	padTo(i, p.padFor(m))
	i.Annotations |= insn.PatchDeleted
	i.ClearCoding()
	m.firstEmitted, m.lastEmitted = m.Anchor, m.Anchor
	return nil
}

func (p *Planner) emitReplace(m *Modification) error {
	i, ok := p.file.Get(m.Anchor)
	if !ok {
		return errs.New(errs.InstructionNotFound, errs.ErrLibasmInstructionNotFound, "patch: replace anchor vanished")
	}
	successor, hasSuccessor := p.file.Next(m.Anchor)

	replacement := m.List[0]
	replacement.Annotations |= insn.PatchNew
	ref, err := p.file.InsertAfter(m.Anchor, replacement)
	if err != nil {
		return err
	}

	padTo(i, p.padFor(m))
	i.Annotations |= insn.PatchDeleted
	i.ClearCoding()

	// Any branch that had already resolved onto the replaced anchor must
	// be rerouted to its successor, per spec §4.6's replace contract.
	if hasSuccessor {
		p.rerouteBranchesTo(m.Anchor, successor)
	}

	m.firstEmitted, m.lastEmitted = ref, ref
	return nil
}

func (p *Planner) emitModify(m *Modification) error {
	i, ok := p.file.Get(m.Anchor)
	if !ok {
		return errs.New(errs.InstructionNotFound, errs.ErrLibasmInstructionNotFound, "patch: modify anchor vanished")
	}
	originalSize := i.ByteSize
	if m.HasNewOpcode {
		i.Opcode = m.NewOpcode
	}
	if m.HasNewOperands {
		i.Operands = m.NewOperands
	}
	i.Annotations |= insn.Patched
	i.ClearCoding()

	// Re-encode now so a shrunken instruction can be padded back out to its
	// original byte length in place (spec §4.6's "pad when shrunken"); a
	// failed encode just leaves the coding cleared, reconstructed later by
	// the patch writer the same way any other Patched instruction is.
	newBytes, err := p.desc.Cap.Encode(i)
	if err != nil {
		m.firstEmitted, m.lastEmitted = m.Anchor, m.Anchor
		return nil
	}
	if len(newBytes) < originalSize {
		pad := p.padFor(m)
		for len(newBytes) < originalSize && len(pad) > 0 {
			newBytes = append(newBytes, pad[len(newBytes)%len(pad)])
		}
	}
	i.SetCoding(newBytes, len(newBytes)*8)
	m.firstEmitted, m.lastEmitted = m.Anchor, m.Anchor
	return nil
}

func (p *Planner) emitRelocate(m *Modification) error {
	if m.Fixed {
		return errs.New(errs.ModificationConflict, errs.ErrGeneric, "patch: cannot relocate a modif-fixed modification")
	}
	i, ok := p.file.Get(m.Anchor)
	if !ok {
		return errs.New(errs.InstructionNotFound, errs.ErrLibasmInstructionNotFound, "patch: relocate anchor vanished")
	}
	i.Annotations |= insn.PatchMoved
	m.firstEmitted, m.lastEmitted = m.Anchor, m.Anchor
	return nil
}

// padFor resolves the padding bytes a delete/replace/modify uses: m's own
// override if set, otherwise the session default.
func (p *Planner) padFor(m *Modification) []byte {
	if m.customPad {
		return m.pad
	}
	return p.defaultPad
}

// padTo records pad as i's coding without changing its reported byte size,
// the "padding of identical byte length" contract (spec §4.6): pad is
// repeated/truncated to fit exactly.
func padTo(i *insn.Instruction, pad []byte) {
	if len(pad) == 0 || i.ByteSize == 0 {
		return
	}
	out := make([]byte, i.ByteSize)
	for idx := range out {
		out[idx] = pad[idx%len(pad)]
	}
	i.SetCoding(out, i.ByteSize*8)
}

// rerouteBranchesTo walks every instruction's pointer operands and
// redirects any that resolved onto from to to instead.
func (p *Planner) rerouteBranchesTo(from, to insn.Ref) {
	p.file.Walk(func(_ insn.Ref, i *insn.Instruction) bool {
		if i.Branch.Target == insn.TargetInstruction && i.Branch.Instr == from {
			i.Branch.Instr = to
		}
		for idx := range i.Operands {
			op := &i.Operands[idx]
			if op.Kind == insn.PointerOperand && op.Ptr.Target == insn.TargetInstruction && op.Ptr.Instr == from {
				op.Ptr.Instr = to
			}
		}
		return true
	})
}

// relinkBranches applies every BranchRedirect modification and re-derives
// the PointerRelative offset for every branch resolved onto an
// instruction, so that
// on return get_addr(owner, p) == target.address + offset_in_target holds
// for the whole graph (spec §4.6's post-commit invariant).
func (p *Planner) relinkBranches() []*errs.Error {
	var warnings []*errs.Error

	for _, m := range p.mods {
		if m.Kind != BranchRedirect {
			continue
		}
		if m.UpdateIfPatched && m.hasNext {
			warnings = append(warnings, errs.Warn(errs.ModificationConflict, errs.ErrGeneric,
				"patch: branch-redirect's update_if_patched combined with set-next is ambiguous, redirect applied as requested"))
		}

		branch, ok := p.file.Get(m.Anchor)
		if !ok {
			continue
		}
		target := m.RedirectTarget
		if m.RedirectModif != nil && !m.RedirectModif.firstEmitted.IsNil() {
			target = m.RedirectModif.firstEmitted
		}
		if m.UpdateIfPatched {
			for _, ins := range p.mods {
				if ins.Kind == Insert && ins.Position == Before && ins.Anchor == target && !ins.firstEmitted.IsNil() {
					target = ins.firstEmitted
					break
				}
			}
		}
		branch.Branch = insn.BranchTarget{Target: insn.TargetInstruction, Instr: target}
		for idx := range branch.Operands {
			op := &branch.Operands[idx]
			if op.Kind == insn.PointerOperand {
				op.Ptr.Target = insn.TargetInstruction
				op.Ptr.Instr = target
			}
		}
		branch.Annotations |= insn.Patched
		branch.ClearCoding()
	}

	p.file.Walk(func(_ insn.Ref, i *insn.Instruction) bool {
		if i.Branch.Target != insn.TargetInstruction {
			return true
		}
		target, ok := p.file.Get(i.Branch.Instr)
		if !ok {
			return true
		}
		offset := int64(target.Address) - int64(i.Address)
		for idx := range i.Operands {
			op := &i.Operands[idx]
			if op.Kind == insn.PointerOperand && op.Ptr.Target == insn.TargetInstruction {
				op.Ptr.Kind = insn.PointerRelative
				op.Ptr.Offset = offset
			}
		}
		return true
	})

	return lo.Uniq(warnings)
}

// buildAddressMap returns the original -> patched address map spec §6.3's
// address-tracking feature exposes. Instructions never flagged Patched/
// PatchNew/PatchMoved/PatchDeleted keep their original address; this
// in-memory planner assigns patched addresses densely once a real layout
// pass (the patch writer) runs, so before that point the map is the
// identity on every untouched instruction.
func (p *Planner) buildAddressMap() map[uint64]uint64 {
	m := map[uint64]uint64{}
	p.file.Walk(func(_ insn.Ref, i *insn.Instruction) bool {
		if i.Annotations&(insn.Patched|insn.PatchNew|insn.PatchMoved|insn.PatchDeleted) == 0 {
			m[i.Address] = i.Address
		}
		return true
	})
	return m
}
