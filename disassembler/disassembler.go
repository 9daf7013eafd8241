// Package disassembler drives the parser across a binary's code sections
// (spec §4.4): one Parser per ISA currently in effect, a cursor into the
// sorted function-label array for boundary resync, and the interworking
// probe an architecture's Capability exposes. It is grounded on MAQAO's
// libmdisass.c sweep and on the teacher's disasm.Disassemble single-pass
// decode loop, generalised from one fixed bytecode to a pluggable grammar.
package disassembler

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/maqao-project/madras-core/asmfile"
	"github.com/maqao-project/madras-core/errs"
	"github.com/maqao-project/madras-core/insn"
	"github.com/maqao-project/madras-core/internal/bitstream"
	"github.com/maqao-project/madras-core/internal/parser"
)

// Resolver is the Reference Resolver hook spec §4.5 runs on every
// instruction as it is produced. The resolver package implements it; this
// package only knows the interface, so the two never import one another.
type Resolver interface {
	ResolveInstruction(file *asmfile.AssemblyFile, ref insn.Ref)
}

// Option configures a Disassembler.
type Option func(*Disassembler)

// WithLogger overrides the default standard logrus logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(d *Disassembler) { d.log = log }
}

// WithResolver attaches the Reference Resolver hook run after each decoded
// instruction.
func WithResolver(r Resolver) Option {
	return func(d *Disassembler) { d.resolver = r }
}

// Disassembler sweeps one AssemblyFile's code sections.
type Disassembler struct {
	file     *asmfile.AssemblyFile
	log      logrus.FieldLogger
	resolver Resolver
}

// New creates a Disassembler for file.
func New(file *asmfile.AssemblyFile, opts ...Option) *Disassembler {
	d := &Disassembler{file: file, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run disassembles every code section of the file, in declaration order.
func (d *Disassembler) Run() error {
	for idx, sec := range d.file.Sections {
		if !sec.IsCode() {
			continue
		}
		if err := d.disassembleSection(idx); err != nil {
			return err
		}
	}
	return nil
}

func (d *Disassembler) disassembleSection(idx int) error {
	sec := d.file.Sections[idx]
	raw, ok := d.sectionBytes(sec)
	if !ok {
		return errs.New(errs.MissingSection, errs.ErrBinarySectionNotFound,
			"disassembler: no loader bytes for section "+sec.Name)
	}

	desc := d.file.Arch
	isa := insn.ISATag(0)
	stream := bitstream.New(raw, sec.Address)
	p := parser.New(desc.Grammar, stream)

	funcLabels := d.file.FunctionLabels()
	labelCursor := 0

	var prevRef insn.Ref
	havePrev := false
	errorCount := 0
	truncated := false

	for stream.Remaining() >= desc.MinInsnLen {
		addr := stream.AddressOf(stream.Cursor())
		if addr >= sec.Address+sec.Size {
			break
		}

		if next, switched := desc.Cap.SwitchFSM(addr, d.labelNameAt(addr), isa); switched {
			desc = desc.Cap.DescriptorForISA(desc, next)
			isa = next
			p = parser.New(desc.Grammar, stream)
			if stream.Remaining() < desc.MinInsnLen {
				break
			}
		}

		// Function-boundary resync (spec §4.4 step 3): if the previous
		// instruction's span overran the next function label, it was
		// junk straddling the boundary; demote it to BAD, truncate it at
		// the label, and rewind the stream to resume decoding there.
		for labelCursor < len(funcLabels) {
			lbl, _ := d.file.Label(funcLabels[labelCursor])
			if lbl.Address > addr {
				break
			}
			if havePrev {
				if prevInsn, ok := d.file.Get(prevRef); ok &&
					prevInsn.Address < lbl.Address && prevInsn.Address+uint64(prevInsn.ByteSize) > lbl.Address {
					d.log.WithFields(logrus.Fields{
						"instruction": fmt.Sprintf("%#x", prevInsn.Address),
						"label":       lbl.Name,
					}).Warn("disassembler: previous instruction overran a function boundary, resyncing")
					truncateOverlap(prevInsn, lbl.Address)
					_ = stream.ResetTo(lbl.Address)
					havePrev = false
				}
			}
			labelCursor++
		}
		addr = stream.AddressOf(stream.Cursor())

		var word insn.Instruction
		word.Address = addr
		word.ISA = isa
		_, parseErr := p.ParseWord(&word)
		if isEndOfStream(parseErr) {
			// Fewer bits remain than the word in progress needed; nothing
			// more to resync, the Remaining() check after the loop reports
			// this as an incomplete disassembly.
			truncated = true
			break
		}
		start, end := p.CodingRange()

		if parseErr != nil {
			d.log.WithFields(logrus.Fields{
				"address": fmt.Sprintf("%#x", addr),
				"error":   parseErr,
			}).Warn("disassembler: no grammar transition matched, resyncing")
			word = insn.Instruction{Address: addr, ISA: isa, Opcode: insn.BadOpcode, Annotations: insn.Suspicious}
			errorCount++
		} else {
			word.Annotations = desc.DefaultAnnotation(word.Opcode)
			if errorCount > 0 {
				word.Annotations |= insn.Suspicious
				errorCount--
			}
		}
		word.SetCoding(sliceRange(raw, start, end), end.Sub(start))

		if lref, ok := d.file.LabelAtAddress(word.Address); ok {
			word.Label = lref
		}

		ref := d.file.Append(idx, word)
		if d.resolver != nil {
			d.resolver.ResolveInstruction(d.file, ref)
		}
		prevRef, havePrev = ref, true
	}

	if rem := stream.Remaining(); rem > 0 && (truncated || rem < desc.MinInsnLen) {
		d.file.Status |= asmfile.IncompleteDisassembly
		d.log.WithField("section", sec.Name).Warn("disassembler: trailing bytes too short for another instruction")
	}

	d.markSectionGaps(idx)
	d.file.Status |= asmfile.Disassembled
	return nil
}

// labelNameAt returns the name of any label registered at addr, or "" if
// none — the raw hint arch.Capability.SwitchFSM interprets.
func (d *Disassembler) labelNameAt(addr uint64) string {
	if ref, ok := d.file.LabelAtAddress(addr); ok {
		if l, ok := d.file.Label(ref); ok {
			return l.Name
		}
	}
	return ""
}

// sectionBytes finds the loader's raw bytes for an asmfile.Section by
// matching address and name against the binary's reported sections.
func (d *Disassembler) sectionBytes(sec *asmfile.Section) ([]byte, bool) {
	for _, info := range d.file.Binary.Sections() {
		if info.Address == sec.Address && info.Name == sec.Name {
			return info.Bytes, true
		}
	}
	return nil, false
}

// markSectionGaps flags a section's first/last instruction with
// begin-list/end-list whenever a gap separates it from its neighbour
// (spec §4.4 step 5). Sections are assumed address-ordered, matching the
// order loaders conventionally report them in.
func (d *Disassembler) markSectionGaps(idx int) {
	sections := d.file.Sections
	sec := sections[idx]

	if ref, ok := d.file.SectionFirstInstr(idx); ok {
		gap := idx == 0 || sections[idx-1].Address+sections[idx-1].Size < sec.Address
		if gap {
			if i, ok := d.file.Get(ref); ok {
				i.Annotations |= insn.BeginList
			}
		}
	}
	if ref, ok := d.file.SectionLastInstr(idx); ok {
		gap := idx == len(sections)-1 || sec.Address+sec.Size < sections[idx+1].Address
		if gap {
			if i, ok := d.file.Get(ref); ok {
				i.Annotations |= insn.EndList
			}
		}
	}
}

// truncateOverlap demotes prev to a BAD instruction ending exactly at
// labelAddr, discarding whatever operands/extension it had decoded.
func truncateOverlap(prev *insn.Instruction, labelAddr uint64) {
	prev.Opcode = insn.BadOpcode
	prev.Operands = nil
	prev.ByteSize = int(labelAddr - prev.Address)
	prev.Annotations |= insn.Suspicious
	prev.ClearCoding()
}

// isEndOfStream reports whether err is the parser's EndOfStream kind,
// meaning no resync is possible because the buffer itself ran out.
func isEndOfStream(err error) bool {
	e, ok := err.(*errs.Error)
	return ok && e.Kind == errs.EndOfStream
}

// sliceRange copies the raw bytes backing a word's coding out of a
// section's byte-aligned buffer. Every grammar this engine ships has
// MinInsnLen/MaxInsnLen in whole bytes, so start/end always land on byte
// boundaries.
func sliceRange(raw []byte, start, end bitstream.Position) []byte {
	if start.Byte < 0 || end.Byte > len(raw) || start.Byte > end.Byte {
		return nil
	}
	return append([]byte(nil), raw[start.Byte:end.Byte]...)
}
