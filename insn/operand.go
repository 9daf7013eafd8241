package insn

// Extension is the exclusively-owned, architecture-specific payload an
// Operand may carry (spec §3's "Architecture extension"). Implementations
// live in per-architecture packages (e.g. arch/aarch64); insn never
// inspects their contents, only copies and discards them through this
// interface.
type Extension interface {
	// Kind names the extension's concrete shape, for diagnostics.
	Kind() string
	// Copy returns a deep copy, so operand copies never alias extension
	// state.
	Copy() Extension
}

// Pointer is the shared shape for pointer-valued operands and for the
// optional pointer payload a Data entry can carry (spec §3).
type Pointer struct {
	Kind   PointerKind
	Addr   uint64 // meaningful when Kind == PointerAbsolute
	Offset int64  // meaningful when Kind == PointerRelative: offset from the owning instruction's address

	Target         TargetKind
	Instr          Ref
	Data           DataRef
	OffsetInTarget int64
}

// Resolved reports whether the pointer currently has a materialised
// target (instruction or data), as opposed to a bare address/offset.
func (p Pointer) Resolved() bool { return p.Target != TargetNone }

// Memory describes a memory operand's addressing-mode fields.
type Memory struct {
	BaseReg  int // -1 if absent
	IndexReg int // -1 if absent
	Offset   int64
	Scale    int
	Ext      Extension // optional, e.g. AArch64 extend/shift on the index register
}

func (m Memory) copy() Memory {
	out := m
	if m.Ext != nil {
		out.Ext = m.Ext.Copy()
	}
	return out
}

// Operand is the tagged variant of spec §3: register | immediate | memory |
// pointer | memory-relative, sharing bit-size/role/flags fields.
type Operand struct {
	Kind    OperandKind
	BitSize int
	Role    Role
	Flags   OperandFlag

	Reg int   // Kind == Register
	Imm int64 // Kind == Immediate

	Mem Memory   // Kind == MemoryOperand
	Ptr Pointer  // Kind == PointerOperand
	// MemRelOffset is the raw offset used by a MemoryRelative operand
	// before the Reference Resolver binds Ptr to a concrete Data entry;
	// once bound, Ptr mirrors the resolved target.
	MemRelOffset int64

	Ext Extension // architecture extension, exclusively owned by this operand
}

// Copy returns a deep copy of o, including its architecture extension.
func (o Operand) Copy() Operand {
	out := o
	out.Mem = o.Mem.copy()
	if o.Ext != nil {
		out.Ext = o.Ext.Copy()
	}
	return out
}

// Equal reports structural equality: same kind, same scalar fields, and
// (when both are non-nil) structurally equal extensions via their Kind tag
// and a best-effort reflect-free comparison left to the architecture via
// the ExtensionEqualer optional interface.
func (o Operand) Equal(other Operand) bool {
	if o.Kind != other.Kind || o.BitSize != other.BitSize || o.Role != other.Role || o.Flags != other.Flags {
		return false
	}
	switch o.Kind {
	case Register:
		if o.Reg != other.Reg {
			return false
		}
	case Immediate:
		if o.Imm != other.Imm {
			return false
		}
	case MemoryOperand:
		if o.Mem.BaseReg != other.Mem.BaseReg || o.Mem.IndexReg != other.Mem.IndexReg ||
			o.Mem.Offset != other.Mem.Offset || o.Mem.Scale != other.Mem.Scale {
			return false
		}
		if !extensionsEqual(o.Mem.Ext, other.Mem.Ext) {
			return false
		}
	case PointerOperand:
		if !o.Ptr.equal(other.Ptr) {
			return false
		}
	case MemoryRelative:
		if o.MemRelOffset != other.MemRelOffset || !o.Ptr.equal(other.Ptr) {
			return false
		}
	}
	return extensionsEqual(o.Ext, other.Ext)
}

func (p Pointer) equal(q Pointer) bool {
	if p.Kind != q.Kind || p.Target != q.Target {
		return false
	}
	switch p.Kind {
	case PointerAbsolute:
		if p.Addr != q.Addr {
			return false
		}
	case PointerRelative:
		if p.Offset != q.Offset {
			return false
		}
	}
	if p.Target == TargetInstruction && p.Instr != q.Instr {
		return false
	}
	if p.Target == TargetData && p.Data != q.Data {
		return false
	}
	return p.OffsetInTarget == q.OffsetInTarget
}

// ExtensionEqualer is an optional interface an Extension implementation may
// satisfy to get exact structural equality in Operand.Equal; extensions
// that don't implement it are compared only by Kind.
type ExtensionEqualer interface {
	EqualExtension(Extension) bool
}

func extensionsEqual(a, b Extension) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind() != b.Kind() {
		return false
	}
	if eq, ok := a.(ExtensionEqualer); ok {
		return eq.EqualExtension(b)
	}
	return true
}
