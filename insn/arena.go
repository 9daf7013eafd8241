package insn

// Ref is a weak, generation-checked reference to an Instruction living in an
// Arena (Design Note §9: arena allocation with stable indices replaces raw
// C pointers, so a rollback that frees an instruction never leaves a
// dangling reference — a stale Ref simply fails to resolve).
type Ref struct {
	idx int32
	gen int32
}

// Nil is the zero Ref; it never resolves to an instruction.
var Nil = Ref{idx: -1}

// IsNil reports whether r is the nil reference.
func (r Ref) IsNil() bool { return r.idx < 0 }

// DataRef is the Data-entry analogue of Ref.
type DataRef struct {
	idx int32
	gen int32
}

// NilData is the zero DataRef.
var NilData = DataRef{idx: -1}

// IsNil reports whether r is the nil data reference.
func (r DataRef) IsNil() bool { return r.idx < 0 }

type instrSlot struct {
	insn Instruction
	gen  int32
	live bool
}

// Arena owns a slab of Instructions. Instructions are never moved once
// allocated (slots are reused in place after Free, bumping the
// generation), so a Ref stays valid for the lifetime of the slot's
// generation even if the backing slice grows.
type Arena struct {
	slots []instrSlot
	free  []int32
}

// NewArena creates an empty instruction arena.
func NewArena() *Arena {
	return &Arena{}
}

// Alloc stores i in the arena and returns a Ref to it.
func (a *Arena) Alloc(i Instruction) Ref {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		slot := &a.slots[idx]
		slot.insn = i
		slot.live = true
		return Ref{idx: idx, gen: slot.gen}
	}
	a.slots = append(a.slots, instrSlot{insn: i, live: true})
	return Ref{idx: int32(len(a.slots) - 1), gen: 0}
}

// Get resolves r to its Instruction. The second return is false if r is
// nil, out of range, stale (generation mismatch), or was freed.
func (a *Arena) Get(r Ref) (*Instruction, bool) {
	if r.idx < 0 || int(r.idx) >= len(a.slots) {
		return nil, false
	}
	slot := &a.slots[r.idx]
	if !slot.live || slot.gen != r.gen {
		return nil, false
	}
	return &slot.insn, true
}

// Free releases the slot r points to, for reuse by a later Alloc. The
// slot's generation is bumped so outstanding Refs to it now miss.
func (a *Arena) Free(r Ref) {
	if r.idx < 0 || int(r.idx) >= len(a.slots) {
		return
	}
	slot := &a.slots[r.idx]
	if !slot.live {
		return
	}
	slot.insn = Instruction{}
	slot.live = false
	slot.gen++
	a.free = append(a.free, r.idx)
}

// Len reports the number of live instructions in the arena.
func (a *Arena) Len() int {
	n := 0
	for _, s := range a.slots {
		if s.live {
			n++
		}
	}
	return n
}

// Each calls fn for every live instruction's Ref, in arena order (not
// necessarily address order).
func (a *Arena) Each(fn func(Ref, *Instruction)) {
	for i := range a.slots {
		if a.slots[i].live {
			fn(Ref{idx: int32(i), gen: a.slots[i].gen}, &a.slots[i].insn)
		}
	}
}

type dataSlot struct {
	data Data
	gen  int32
	live bool
}

// DataArena is the Data-entry analogue of Arena.
type DataArena struct {
	slots []dataSlot
	free  []int32
}

func NewDataArena() *DataArena { return &DataArena{} }

func (a *DataArena) Alloc(d Data) DataRef {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		slot := &a.slots[idx]
		slot.data = d
		slot.live = true
		return DataRef{idx: idx, gen: slot.gen}
	}
	a.slots = append(a.slots, dataSlot{data: d, live: true})
	return DataRef{idx: int32(len(a.slots) - 1), gen: 0}
}

func (a *DataArena) Get(r DataRef) (*Data, bool) {
	if r.idx < 0 || int(r.idx) >= len(a.slots) {
		return nil, false
	}
	slot := &a.slots[r.idx]
	if !slot.live || slot.gen != r.gen {
		return nil, false
	}
	return &slot.data, true
}

func (a *DataArena) Free(r DataRef) {
	if r.idx < 0 || int(r.idx) >= len(a.slots) {
		return
	}
	slot := &a.slots[r.idx]
	if !slot.live {
		return
	}
	slot.data = Data{}
	slot.live = false
	slot.gen++
	a.free = append(a.free, r.idx)
}

func (a *DataArena) Each(fn func(DataRef, *Data)) {
	for i := range a.slots {
		if a.slots[i].live {
			fn(DataRef{idx: int32(i), gen: a.slots[i].gen}, &a.slots[i].data)
		}
	}
}
