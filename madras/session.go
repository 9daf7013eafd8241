// Package madras is the root session facade (spec §6.3): it wires the
// disassembler, the reference resolver, the patch planner and the patch
// writer into the single handle a caller drives from loading a binary
// through committing a patched image, re-exporting the engine's error
// taxonomy and tracing its cursor, modification and commit calls through
// the oracle format of spec §6.4 (AddressOf, LastError, LastWarning and
// File emit no trace line).
// Grounded on MAQAO's libmadras.h session object, which plays the same
// role atop libmdisass/libmpatch, and on the teacher's own top-level
// wasm.Module/wasm.ReadModule entry points that assemble several
// subsystems behind one constructor.
package madras

import (
	"context"
	"fmt"
	"strconv"

	"github.com/maqao-project/madras-core/arch"
	"github.com/maqao-project/madras-core/asmfile"
	"github.com/maqao-project/madras-core/disassembler"
	"github.com/maqao-project/madras-core/errs"
	"github.com/maqao-project/madras-core/insn"
	"github.com/maqao-project/madras-core/internal/loader"
	"github.com/maqao-project/madras-core/patch"
	"github.com/maqao-project/madras-core/patch/writer"
	"github.com/maqao-project/madras-core/resolver"
	"github.com/maqao-project/madras-core/trace"
)

// Kind, Code and Error re-export the engine's error taxonomy (spec §7) at
// the session boundary, so a caller never has to import errs directly to
// inspect what LastError/LastWarning hand back.
type (
	Kind  = errs.Kind
	Code  = errs.Code
	Error = errs.Error
)

// Session is the engine's top-level handle: one disassembled, resolved
// AssemblyFile plus the patch planner accumulating modification requests
// against it (spec §6.3).
type Session struct {
	file     *asmfile.AssemblyFile
	resolver *resolver.Resolver
	planner  *patch.Planner
	tracer   trace.Logger

	targetOS string // informational override; the core has no OS-specific behaviour of its own

	plan     *patch.Plan
	tracking *writer.AddressTrackingMap

	lastErr  *errs.Error
	lastWarn *errs.Error
}

// Option configures a Session at construction (spec §6.3's session init).
type Option func(*sessionConfig)

type sessionConfig struct {
	stackPolicy  patch.StackPolicy
	defaultPad   []byte
	tracking     bool
	tracer       trace.Logger
	targetOS     string
	targetMach   string
}

// WithStackPolicy records how a conditional-insert sequence protects the
// stack around its flag save/restore bookend; no codegen reads it, so every
// policy yields the same sequence.
func WithStackPolicy(p patch.StackPolicy) Option {
	return func(c *sessionConfig) { c.stackPolicy = p }
}

// WithDefaultPadding overrides the architecture's DefaultNOP as the
// session-wide padding instruction.
func WithDefaultPadding(pad []byte) Option {
	return func(c *sessionConfig) { c.defaultPad = pad }
}

// WithAddressTracking enables the original-address -> patched-address map
// retrievable after Commit.
func WithAddressTracking() Option {
	return func(c *sessionConfig) { c.tracking = true }
}

// WithTrace enables the oracle trace format of spec §6.4 on log.
func WithTrace(log trace.Logger) Option {
	return func(c *sessionConfig) { c.tracer = log }
}

// WithTargetOS records an informational target-OS override (spec §6.3);
// the core performs no OS-specific decoding or encoding of its own, so
// this is carried for callers that branch on it (e.g. a library's default
// extension).
func WithTargetOS(os string) Option {
	return func(c *sessionConfig) { c.targetOS = os }
}

// WithTargetMachine overrides the architecture descriptor the loader's own
// Machine() would otherwise select (spec §6.3's target-machine override),
// looked up the same way arch.Lookup resolves any other architecture name.
func WithTargetMachine(name string) Option {
	return func(c *sessionConfig) { c.targetMach = name }
}

// New builds a Session over bin: it selects the architecture descriptor,
// builds the AssemblyFile, registers every section and label the loader
// reports, runs the disassembler with the Reference Resolver attached,
// finalises pending cross-references, and constructs the patch planner
// bound to the resolved file. The wiring order is: asmfile.New -> add
// sections -> resolver.New -> disassembler.New(...).Run() -> r.Finalize.
func New(bin loader.Binary, opts ...Option) (*Session, error) {
	cfg := &sessionConfig{tracer: trace.NopLogger{}}
	for _, opt := range opts {
		opt(cfg)
	}

	machName := cfg.targetMach
	if machName == "" {
		machName = bin.Machine()
	}
	desc, err := arch.Lookup(machName)
	if err != nil {
		return nil, errs.Wrap(errs.UnsupportedArchitecture, errs.ErrGeneric, err,
			"madras: resolve architecture descriptor for "+machName)
	}

	file := asmfile.New(bin, desc)
	for _, sec := range bin.Sections() {
		file.AddSection(sec)
	}
	for _, lbl := range bin.Labels() {
		sec := -1
		if lbl.Section != "" {
			if idx, ok := file.SectionByName(lbl.Section); ok {
				sec = idx
			}
		}
		file.NewLabel(lbl.Name, lbl.Address, lbl.Type, sec)
	}

	r := resolver.New()
	d := disassembler.New(file, disassembler.WithResolver(r))
	if err := d.Run(); err != nil {
		return nil, err
	}
	var warnings []*errs.Error
	warnings = append(warnings, r.Finalize(file)...)

	var popts []patch.Option
	popts = append(popts, patch.WithStackPolicy(cfg.stackPolicy))
	if cfg.defaultPad != nil {
		popts = append(popts, patch.WithDefaultPadding(cfg.defaultPad))
	}
	if cfg.tracking {
		popts = append(popts, patch.WithAddressTracking())
	}
	planner := patch.NewPlanner(file, popts...)

	s := &Session{
		file:     file,
		resolver: r,
		planner:  planner,
		tracer:   cfg.tracer,
		targetOS: cfg.targetOS,
	}
	for _, w := range warnings {
		s.lastWarn = w
	}
	return s, nil
}

// record stores e as the session's last notable event (spec §7): an Error
// always occupies the error slot; a Warning is kept in its own slot and
// never evicts an already-recorded Error, matching "warnings overwrite
// earlier warnings but never earlier errors".
func (s *Session) record(e *errs.Error) {
	if e == nil {
		return
	}
	if e.IsWarning() {
		s.lastWarn = e
		return
	}
	s.lastErr = e
}

// LastError reads and clears the session's last error slot.
func (s *Session) LastError() *errs.Error {
	e := s.lastErr
	s.lastErr = nil
	return e
}

// LastWarning reads and clears the session's last warning slot.
func (s *Session) LastWarning() *errs.Error {
	w := s.lastWarn
	s.lastWarn = nil
	return w
}

// File exposes the session's underlying AssemblyFile for read-only
// inspection (printing, walking) by callers such as cmd/madras-dump that
// need more than the cursor/modification surface provides.
func (s *Session) File() *asmfile.AssemblyFile { return s.file }

func (s *Session) trace(function string, args []string, result string) {
	s.tracer.Call(function, args, result)
}

func modifToken(m *patch.Modification) string {
	if m == nil {
		return ""
	}
	return "modif_" + strconv.Itoa(m.ID())
}

func hexAddr(addr uint64) string { return fmt.Sprintf("%#x", addr) }

// --- Cursor init (spec §6.3's "insn position cursor init") ---

// CursorByLabel resolves the instruction at the address a label names.
func (s *Session) CursorByLabel(name string) (insn.Ref, error) {
	ref, ok := s.file.LabelByName(name)
	if !ok {
		err := errs.New(errs.InstructionNotFound, errs.ErrLibasmInstructionNotFound, "madras: no label named "+name)
		s.record(err)
		s.trace("cursor_by_label", []string{name}, "")
		return insn.Nil, err
	}
	lbl, _ := s.file.Label(ref)
	iref, ok := s.instructionAt(lbl.Address)
	if !ok {
		err := errs.New(errs.InstructionNotFound, errs.ErrLibasmInstructionNotFound, "madras: label "+name+" does not address a known instruction")
		s.record(err)
		s.trace("cursor_by_label", []string{name}, "")
		return insn.Nil, err
	}
	s.trace("cursor_by_label", []string{name}, "")
	return iref, nil
}

// CursorByAddress resolves the instruction at addr.
func (s *Session) CursorByAddress(addr uint64) (insn.Ref, error) {
	ref, ok := s.instructionAt(addr)
	if !ok {
		err := errs.New(errs.InstructionNotFound, errs.ErrLibasmInstructionNotFound, "madras: no instruction at "+hexAddr(addr))
		s.record(err)
		s.trace("cursor_by_address", []string{hexAddr(addr)}, "")
		return insn.Nil, err
	}
	s.trace("cursor_by_address", []string{hexAddr(addr)}, "")
	return ref, nil
}

// CursorBySectionName resolves the first instruction of the named section.
func (s *Session) CursorBySectionName(name string) (insn.Ref, error) {
	idx, ok := s.file.SectionByName(name)
	if !ok {
		err := errs.New(errs.MissingSection, errs.ErrBinarySectionNotFound, "madras: no section named "+name)
		s.record(err)
		s.trace("cursor_by_section", []string{name}, "")
		return insn.Nil, err
	}
	ref, ok := s.file.SectionFirstInstr(idx)
	if !ok {
		err := errs.New(errs.InstructionNotFound, errs.ErrLibasmInstructionNotFound, "madras: section "+name+" has no instructions")
		s.record(err)
		s.trace("cursor_by_section", []string{name}, "")
		return insn.Nil, err
	}
	s.trace("cursor_by_section", []string{name}, "")
	return ref, nil
}

// instructionAt linearly confirms an instruction exists at addr; the
// resolver's own address index is keyed by decode-time addresses only, so
// this re-derives the answer directly off the file for addresses supplied
// by a caller rather than discovered during disassembly.
func (s *Session) instructionAt(addr uint64) (insn.Ref, bool) {
	secIdx, ok := s.file.SectionContaining(addr)
	if !ok {
		return insn.Nil, false
	}
	ref, ok := s.file.SectionFirstInstr(secIdx)
	if !ok {
		return insn.Nil, false
	}
	for {
		i, ok := s.file.Get(ref)
		if !ok {
			return insn.Nil, false
		}
		if i.Address == addr {
			return ref, true
		}
		next, ok := s.file.Next(ref)
		if !ok || i.Address > addr {
			return insn.Nil, false
		}
		ref = next
	}
}

// --- Modifications (spec §6.3) ---

// Insert queues an unconditional insertion of list before or after anchor.
func (s *Session) Insert(anchor insn.Ref, pos patch.Position, list []insn.Instruction) (*patch.Modification, error) {
	m, err := s.planner.Insert(anchor, pos, list)
	s.record(asErr(err))
	s.trace("insert", []string{posToken(pos), refToken(s, anchor)}, modifToken(m))
	return m, err
}

// InsertConditional queues a conditional insertion (spec §4.6's
// generate_insnlist_testcond primitive).
func (s *Session) InsertConditional(anchor insn.Ref, pos patch.Position, cond arch.ConditionExpr, body []insn.Instruction) (*patch.Modification, error) {
	m, err := s.planner.InsertConditional(anchor, pos, cond, body)
	s.record(asErr(err))
	s.trace("insert_conditional", []string{posToken(pos), refToken(s, anchor)}, modifToken(m))
	return m, err
}

// AddElse binds the condition-false branch of a conditional insertion.
func (s *Session) AddElse(m, elseMod *patch.Modification) error {
	err := s.planner.AddElse(m, elseMod)
	s.record(asErr(err))
	s.trace("add_else", []string{modifToken(m), modifToken(elseMod)}, "")
	return err
}

// FloatInsert queues list as a floating modification, reached later via
// SetNext/SetNextInsn or as a branch-redirect target.
func (s *Session) FloatInsert(list []insn.Instruction) *patch.Modification {
	m := s.planner.FloatInsert(list)
	s.trace("float_insert", nil, modifToken(m))
	return m
}

// Delete queues removal of anchor, padded in place.
func (s *Session) Delete(anchor insn.Ref) (*patch.Modification, error) {
	m, err := s.planner.Delete(anchor)
	s.record(asErr(err))
	s.trace("delete", []string{refToken(s, anchor)}, modifToken(m))
	return m, err
}

// Replace queues anchor's substitution by a single new instruction.
func (s *Session) Replace(anchor insn.Ref, with insn.Instruction) (*patch.Modification, error) {
	m, err := s.planner.Replace(anchor, with)
	s.record(asErr(err))
	s.trace("replace", []string{refToken(s, anchor)}, modifToken(m))
	return m, err
}

// Modify queues an in-place mnemonic/operand rewrite of anchor.
func (s *Session) Modify(anchor insn.Ref, newOpcode *insn.OpcodeID, newOperands []insn.Operand) (*patch.Modification, error) {
	m, err := s.planner.Modify(anchor, newOpcode, newOperands)
	s.record(asErr(err))
	s.trace("modify", []string{refToken(s, anchor)}, modifToken(m))
	return m, err
}

// Relocate queues anchor's surrounding block for movement into the
// displaced-code section.
func (s *Session) Relocate(anchor insn.Ref) (*patch.Modification, error) {
	m, err := s.planner.Relocate(anchor)
	s.record(asErr(err))
	s.trace("relocate", []string{refToken(s, anchor)}, modifToken(m))
	return m, err
}

// BranchRedirect queues a new destination for a branch instruction.
func (s *Session) BranchRedirect(branch, target insn.Ref, updateIfPatched bool) (*patch.Modification, error) {
	m, err := s.planner.BranchRedirect(branch, target, updateIfPatched)
	s.record(asErr(err))
	s.trace("branch_redirect", []string{refToken(s, branch), refToken(s, target), strconv.FormatBool(updateIfPatched)}, modifToken(m))
	return m, err
}

// SetNext links m's emitted body to next, reaching a floating modification.
func (s *Session) SetNext(m, next *patch.Modification) {
	s.planner.SetNext(m, next)
	s.trace("set_next", []string{modifToken(m), modifToken(next)}, "")
}

// SetNextInsn links m's emitted body directly to an existing instruction.
func (s *Session) SetNextInsn(m *patch.Modification, next insn.Ref) {
	s.planner.SetNextInsn(m, next)
	s.trace("set_next_insn", []string{modifToken(m), refToken(s, next)}, "")
}

// SetFixed sets or clears m's modif-fixed flag.
func (s *Session) SetFixed(m *patch.Modification, fixed bool) error {
	err := s.planner.SetFixed(m, fixed)
	s.record(asErr(err))
	s.trace("set_fixed", []string{modifToken(m), strconv.FormatBool(fixed)}, "")
	return err
}

// SetPadding overrides m's padding instruction bytes.
func (s *Session) SetPadding(m *patch.Modification, pad []byte) error {
	err := s.planner.SetPadding(m, pad)
	s.record(asErr(err))
	s.trace("set_padding", []string{modifToken(m)}, "")
	return err
}

// AddLibrary queues a library dependency.
func (s *Session) AddLibrary(name string) *patch.Library {
	lib := s.planner.AddLibrary(name)
	s.trace("add_library", []string{name}, "")
	return lib
}

// RenameLibrary queues a rename of an already-linked library.
func (s *Session) RenameLibrary(from, to string) *patch.Library {
	lib := s.planner.RenameLibrary(from, to)
	s.trace("rename_library", []string{from, to}, "")
	return lib
}

// RenameFunction renames the label naming a function in place (spec §6.3's
// "external function rename"), taking effect immediately rather than
// waiting for commit since it touches no instruction bytes.
func (s *Session) RenameFunction(ref insn.LabelRef, newName string) error {
	err := s.file.RenameLabel(ref, newName)
	if err != nil {
		e := err.(*errs.Error)
		s.record(e)
	}
	s.trace("rename_function", []string{newName}, "")
	return err
}

// NewLabel queues a label to be created during commit.
func (s *Session) NewLabel(name string, addr uint64, typ loader.LabelType) *insn.LabelRef {
	ref := s.planner.NewLabel(name, addr, typ)
	s.trace("new_label", []string{name, hexAddr(addr)}, "")
	return ref
}

// NewGlobal queues a global or TLS variable to be materialised during
// commit.
func (s *Session) NewGlobal(name string, size uint64, tls bool) *patch.GlobalVar {
	g := s.planner.NewGlobal(name, size, tls)
	s.trace("new_global", []string{name, strconv.FormatUint(size, 10), strconv.FormatBool(tls)}, "")
	return g
}

// --- Commit pipeline (spec §6.3's pre-commit / commit) ---

// PreCommit materialises every queued modification against the in-memory
// instruction graph without producing a byte image (spec §6.3's
// "materialise without writing"): branch relinking and label/global
// resolution all happen here, so AddressOf and the modification accessors
// are meaningful immediately afterward.
func (s *Session) PreCommit() (*patch.Plan, error) {
	plan, err := s.planner.Commit()
	if err != nil {
		e, _ := err.(*errs.Error)
		s.record(e)
		s.trace("pre_commit", nil, "")
		return nil, err
	}
	for _, w := range plan.Warnings {
		s.record(w)
	}
	s.plan = plan
	s.trace("pre_commit", nil, "")
	return plan, nil
}

// Commit runs PreCommit if it hasn't already, then writes the patched
// image via the patch writer (spec §6.3's "commit (write)").
func (s *Session) Commit(ctx context.Context) ([]byte, *writer.AddressTrackingMap, error) {
	if s.plan == nil {
		if _, err := s.PreCommit(); err != nil {
			return nil, nil, err
		}
	}
	image, tracking, err := writer.New(s.plan).Commit(ctx)
	if err != nil {
		e := errs.Wrap(errs.ParseError, errs.ErrGeneric, err, "madras: commit")
		s.record(e)
		s.trace("commit", nil, "")
		return nil, nil, e
	}
	s.tracking = tracking
	s.trace("commit", nil, "")
	return image, tracking, nil
}

// AddressOf looks up the patched address an original address maps to
// (spec §6.3's address-tracking map retrieval); it requires both
// WithAddressTracking at session init and a completed Commit, since only
// the Writer's post-layout map (not the Planner's pre-layout one) knows
// where a touched, moved, or newly-inserted instruction actually landed.
// The Planner's identity-only map is consulted only as a fallback, for an
// address the Writer's map has no entry for.
func (s *Session) AddressOf(original uint64) (uint64, error) {
	if s.plan == nil {
		err := errs.New(errs.PatchNotInitialised, errs.ErrMadrasAddressesNotTracked, "madras: address tracking queried before commit")
		s.record(err)
		return 0, err
	}
	if s.plan.AddressMap == nil {
		err := errs.New(errs.AddressOutOfRange, errs.ErrMadrasAddressesNotTracked,
			"madras: address tracking was not enabled for this session")
		s.record(err)
		return 0, err
	}
	if addr, ok := s.tracking.Lookup(original); ok {
		return addr, nil
	}
	if addr, ok := s.plan.AddressOf(original); ok {
		return addr, nil
	}
	err := errs.New(errs.AddressOutOfRange, errs.ErrMadrasAddressesNotTracked,
		"madras: no tracked address for "+hexAddr(original))
	s.record(err)
	return 0, err
}

func asErr(err error) *errs.Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*errs.Error); ok {
		return e
	}
	return errs.Wrap(errs.ParseError, errs.ErrGeneric, err, "madras")
}

func posToken(p patch.Position) string {
	if p == patch.Before {
		return "before"
	}
	return "after"
}

func refToken(s *Session, ref insn.Ref) string {
	if i, ok := s.file.Get(ref); ok {
		return hexAddr(i.Address)
	}
	return "nil"
}
