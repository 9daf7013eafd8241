// Package errs defines the error taxonomy shared across the disassembly and
// patching engine (spec §7) and the numeric/string codes the session API
// surfaces to callers and the trace oracle (spec §6.3).
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is a coarse error category. It never carries architecture- or
// session-specific detail; that lives in the wrapped cause.
type Kind int

const (
	EndOfStream Kind = iota
	NoTransitionMatch
	UnsupportedArchitecture
	MissingSection
	InstructionNotFound
	OperandTypeMismatch
	ParseError
	PatchNotInitialised
	ModificationConflict
	PaddingTooLarge
	AddressOutOfRange
	LibraryNotFound
	RenameCollision
	NoDebugData
)

func (k Kind) String() string {
	switch k {
	case EndOfStream:
		return "EndOfStream"
	case NoTransitionMatch:
		return "NoTransitionMatch"
	case UnsupportedArchitecture:
		return "UnsupportedArchitecture"
	case MissingSection:
		return "MissingSection"
	case InstructionNotFound:
		return "InstructionNotFound"
	case OperandTypeMismatch:
		return "OperandTypeMismatch"
	case ParseError:
		return "ParseError"
	case PatchNotInitialised:
		return "PatchNotInitialised"
	case ModificationConflict:
		return "ModificationConflict"
	case PaddingTooLarge:
		return "PaddingTooLarge"
	case AddressOutOfRange:
		return "AddressOutOfRange"
	case LibraryNotFound:
		return "LibraryNotFound"
	case RenameCollision:
		return "RenameCollision"
	case NoDebugData:
		return "NoDebugData"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Severity distinguishes an error (operation not performed) from a warning
// (performed, with caveats).
type Severity int

const (
	SevError Severity = iota
	SevWarning
)

// Code is the legacy numeric/string error code spec §6.3 cites by name
// (ERR_DISASS_FSM_END_OF_STREAM_REACHED and friends). Codes in
// [0,10000) are reserved for EXIT_SUCCESS and warnings; errors occupy
// [10000, 20000).
type Code int

const (
	ExitSuccess Code = 0

	// Warnings.
	WrnLibasmBranchOppositeCond Code = 1000 + iota
	WrnDisassIncompleteDisassembly
)

const (
	// Errors.
	ErrDisassFsmEndOfStreamReached Code = 10000 + iota
	ErrDisassFsmNoMatchFound
	ErrPatchPaddingInsnTooBig
	ErrMadrasModifHasCustomPadding
	ErrMadrasAddressesNotTracked
	ErrLibasmInstructionNotFound
	ErrBinarySectionNotFound
	// ErrGeneric covers every Kind spec §6.3 does not assign a cited,
	// stable numeric code to.
	ErrGeneric
)

var codeNames = map[Code]string{
	ExitSuccess:                     "EXIT_SUCCESS",
	WrnLibasmBranchOppositeCond:     "WRN_LIBASM_BRANCH_OPPOSITE_COND",
	WrnDisassIncompleteDisassembly:  "WRN_DISASS_INCOMPLETE_DISASSEMBLY",
	ErrDisassFsmEndOfStreamReached:  "ERR_DISASS_FSM_END_OF_STREAM_REACHED",
	ErrDisassFsmNoMatchFound:        "ERR_DISASS_FSM_NO_MATCH_FOUND",
	ErrPatchPaddingInsnTooBig:       "ERR_PATCH_PADDING_INSN_TOO_BIG",
	ErrMadrasModifHasCustomPadding:  "ERR_MADRAS_MODIF_HAS_CUSTOM_PADDING",
	ErrMadrasAddressesNotTracked:    "ERR_MADRAS_ADDRESSES_NOT_TRACKED",
	ErrLibasmInstructionNotFound:    "ERR_LIBASM_INSTRUCTION_NOT_FOUND",
	ErrBinarySectionNotFound:        "ERR_BINARY_SECTION_NOT_FOUND",
	ErrGeneric:                      "ERR_GENERIC",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}

// Error is the wrapped error type returned across package boundaries in
// this module. It carries a Kind for programmatic dispatch and preserves
// the underlying cause via github.com/pkg/errors so callers can still
// errors.Cause()/errors.Unwrap() down to the root failure.
type Error struct {
	Kind     Kind
	Code     Code
	Severity Severity
	cause    error
}

// New creates an Error of the given kind wrapping msg as a fresh cause.
func New(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Severity: SevError, cause: errors.New(msg)}
}

// Wrap creates an Error of the given kind wrapping an existing error.
func Wrap(kind Kind, code Code, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Code: code, Severity: SevError, cause: errors.Wrap(err, msg)}
}

// Warn is like New but marks the result a Warning rather than an Error.
func Warn(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Severity: SevWarning, cause: errors.New(msg)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.cause)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Cause is the github.com/pkg/errors accessor mirroring Unwrap.
func (e *Error) Cause() error { return e.cause }

// IsWarning reports whether e was constructed via Warn.
func (e *Error) IsWarning() bool { return e.Severity == SevWarning }
