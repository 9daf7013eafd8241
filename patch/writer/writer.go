// Package writer is the Patch Writer (spec §4.8): it turns a committed
// patch.Plan into a flat, patched byte image plus the address-tracking map
// from each surviving instruction's original address to the address it was
// emitted at. Grounded on the teacher's exec/internal/compile.Build pass,
// which walks a decoded function body end to end re-emitting bytes through
// golang-asm, and on MAQAO's modifs.c final-layout pass over a committed
// modification list.
package writer

import (
	"context"
	"os"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/maqao-project/madras-core/errs"
	"github.com/maqao-project/madras-core/insn"
	"github.com/maqao-project/madras-core/patch"
)

// touched is the annotation set the Planner leaves on every instruction
// whose bits must be reconstructed rather than reused as decoded (spec
// §4.8).
const touched = insn.Patched | insn.PatchNew | insn.PatchMoved

// AddressTrackingMap is the original-address -> emitted-address map spec
// §6.3's address-tracking feature exposes once the Writer has run; unlike
// patch.Plan's own (identity-only) AddressMap, this one reflects the
// Writer's actual byte layout.
type AddressTrackingMap struct {
	m map[uint64]uint64
}

// Lookup resolves original to the address it was emitted at; ok is false
// for an address the Writer never recorded (e.g. a PatchNew instruction,
// which has no original address). A deleted instruction is still emitted,
// as its padding, so its address is recorded.
func (a *AddressTrackingMap) Lookup(original uint64) (uint64, bool) {
	if a == nil {
		return 0, false
	}
	addr, ok := a.m[original]
	return addr, ok
}

// Writer turns a committed Plan into bytes.
type Writer struct {
	plan *patch.Plan
}

// New creates a Writer over an already-committed Plan.
func New(plan *patch.Plan) *Writer {
	return &Writer{plan: plan}
}

// Commit produces the patched image (spec §4.8): it walks the plan's
// instruction list in list order — the Planner's (address, position,
// insertion-id) commit ordering guarantees this is already the final
// layout order for every anchored modification — re-encoding whichever
// instructions the Planner flagged Patched/PatchNew/PatchMoved via
// arch.Capability.Encode and reusing the already-materialised coding of
// everything else. Floating modifications reached only via a Next chain
// (spec §4.6) have no address of their own from the Planner; the Writer
// lays them out as a displaced-code tail appended after the main image and
// assigns them addresses there, the simplest layout that still satisfies
// the post-commit branch invariant, since their internal branches were
// already relinked against real instruction Refs rather than raw offsets.
func (w *Writer) Commit(ctx context.Context) ([]byte, *AddressTrackingMap, error) {
	desc := w.plan.File.Arch
	tracking := &AddressTrackingMap{m: map[uint64]uint64{}}
	var image []byte

	var walkErr error
	w.plan.File.Walk(func(_ insn.Ref, i *insn.Instruction) bool {
		select {
		case <-ctx.Done():
			walkErr = ctx.Err()
			return false
		default:
		}

		bytes, err := emitOne(desc.Cap.Encode, i)
		if err != nil {
			walkErr = err
			return false
		}
		if i.Annotations&insn.PatchNew == 0 {
			tracking.m[i.Address] = uint64(len(image))
		}
		image = append(image, bytes...)
		return true
	})
	if walkErr != nil {
		return nil, nil, walkErr
	}

	tail, err := w.emitDisplaced(desc.Cap.Encode, uint64(len(image)))
	if err != nil {
		return nil, nil, err
	}
	image = append(image, tail...)

	return image, tracking, nil
}

// encodeFunc is arch.Capability.Encode, taken as a function value so
// emitOne doesn't need to import arch just for the method signature.
type encodeFunc func(*insn.Instruction) ([]byte, error)

// emitOne returns i's bytes: a fresh encode for every Patched/PatchNew/
// PatchMoved instruction, even one whose coding the Planner left in place
// (a Modify target, a relocated instruction); otherwise its
// already-materialised coding, or a fresh encode when that was cleared.
func emitOne(encode encodeFunc, i *insn.Instruction) ([]byte, error) {
	if i.Annotations&touched != 0 {
		return encode(i)
	}
	if bytes, _, valid := i.Coding(); valid {
		return bytes, nil
	}
	return encode(i)
}

// emitDisplaced lays out every floating modification's emitted body as a
// contiguous tail starting at tailBase, assigning each instruction its
// address there before encoding so that any internal relative branch a
// floating body contains resolves correctly.
func (w *Writer) emitDisplaced(encode encodeFunc, tailBase uint64) ([]byte, error) {
	var tail []byte
	addr := tailBase

	for _, m := range w.plan.Modifications {
		if !m.IsFloating() {
			continue
		}
		for _, ref := range m.FloatingRefs() {
			i, ok := w.plan.File.Get(ref)
			if !ok {
				continue
			}
			i.Address = addr

			bytes, err := emitOne(encode, i)
			if err != nil {
				return nil, errs.Wrap(errs.ParseError, errs.ErrGeneric, err,
					"writer: encoding a floating modification's instruction")
			}
			tail = append(tail, bytes...)
			addr += uint64(len(bytes))
		}
	}
	return tail, nil
}

// MapForInspection memory-maps data through an anonymous-backed temp file,
// so a test or external verifier can read the patched image back through
// the same mmap.MMap type the teacher's JIT path would map executable
// pages with, without requiring a real on-disk artifact (spec §4.8).
func MapForInspection(data []byte) (mmap.MMap, func() error, error) {
	f, err := os.CreateTemp("", "madras-patched-*")
	if err != nil {
		return nil, nil, errs.Wrap(errs.ParseError, errs.ErrGeneric, err, "writer: create inspection temp file")
	}
	cleanup := func() error {
		closeErr := f.Close()
		removeErr := os.Remove(f.Name())
		if closeErr != nil {
			return closeErr
		}
		return removeErr
	}

	if len(data) == 0 {
		// mmap.Map refuses a zero-length file; nothing to inspect.
		return nil, cleanup, nil
	}
	if _, err := f.Write(data); err != nil {
		_ = cleanup()
		return nil, nil, errs.Wrap(errs.ParseError, errs.ErrGeneric, err, "writer: write inspection temp file")
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		_ = cleanup()
		return nil, nil, errs.Wrap(errs.ParseError, errs.ErrGeneric, err, "writer: mmap inspection temp file")
	}
	return m, func() error {
		if uerr := m.Unmap(); uerr != nil {
			_ = cleanup()
			return uerr
		}
		return cleanup()
	}, nil
}
