// Package vm implements the EVM host bridge: the bidirectional boundary
// between an untrusted WASM guest and host-provided blockchain state.
package vm

import "fmt"

// Kind identifies the category of a bridge Error. The nine categories
// mirror the Rust source's HostFunctionError discriminants one for one.
type Kind int

const (
	KindOutOfBounds Kind = iota
	KindMemoryAccess
	KindInvalidParameter
	KindContextNotFound
	KindExecution
	KindGas
	KindStorage
	KindCall
	KindCrypto
	KindArithmetic
)

// category groups the fine-grained Kind values into the nine label
// strings spec.md's error taxonomy table uses ("memory" covers both
// OutOfBounds and MemoryAccess).
func (k Kind) category() string {
	switch k {
	case KindOutOfBounds, KindMemoryAccess:
		return "memory"
	case KindInvalidParameter:
		return "parameter"
	case KindContextNotFound:
		return "context"
	case KindExecution:
		return "execution"
	case KindGas:
		return "gas"
	case KindStorage:
		return "storage"
	case KindCall:
		return "call"
	case KindCrypto:
		return "crypto"
	case KindArithmetic:
		return "arithmetic"
	default:
		return "unknown"
	}
}

func (k Kind) String() string {
	switch k {
	case KindOutOfBounds:
		return "OutOfBounds"
	case KindMemoryAccess:
		return "MemoryAccessError"
	case KindInvalidParameter:
		return "InvalidParameter"
	case KindContextNotFound:
		return "ContextNotFound"
	case KindExecution:
		return "ExecutionError"
	case KindGas:
		return "GasError"
	case KindStorage:
		return "StorageError"
	case KindCall:
		return "CallError"
	case KindCrypto:
		return "CryptoError"
	case KindArithmetic:
		return "ArithmeticError"
	default:
		return "Unknown"
	}
}

// Error is the single error type that crosses the bridge. It always
// carries the name of the primitive where it occurred, a human-readable
// message, and whichever distinguishing fields its Kind calls for.
type Error struct {
	Kind     Kind
	Primitive string
	Message  string

	// Distinguishing fields, populated depending on Kind. Zero values are
	// omitted from Display when not meaningful for the Kind.
	Offset         uint32
	Length         uint32
	ParamName      string
	ParamValue     string
	GasRequested   int64
	GasAvailable   int64
	StorageKey     string
	TargetAddress  string
	CryptoOp       string
	ArithmeticOp   string

	// Code is a caller-distinguishable exit code, set for the handful of
	// Kinds (currently only the out-of-gas trap) where callers need more
	// than the Kind/category split to tell outcomes apart programmatically.
	Code int
}

// Error implements the error interface with a stable Display format:
// "<category>/<Kind> in <primitive>: <message> (<fields...>)".
func (e *Error) Error() string {
	s := fmt.Sprintf("%s/%s in %s: %s", e.Kind.category(), e.Kind, e.Primitive, e.Message)
	switch e.Kind {
	case KindOutOfBounds, KindMemoryAccess:
		s += fmt.Sprintf(" (offset=%d length=%d)", e.Offset, e.Length)
	case KindInvalidParameter:
		s += fmt.Sprintf(" (param=%s value=%s)", e.ParamName, e.ParamValue)
	case KindGas:
		s += fmt.Sprintf(" (requested=%d available=%d)", e.GasRequested, e.GasAvailable)
		if e.Code != 0 {
			s += fmt.Sprintf(" code=%d", e.Code)
		}
	case KindStorage:
		s += fmt.Sprintf(" (key=%s)", e.StorageKey)
	case KindCall:
		s += fmt.Sprintf(" (target=%s)", e.TargetAddress)
	case KindCrypto:
		s += fmt.Sprintf(" (op=%s)", e.CryptoOp)
	case KindArithmetic:
		s += fmt.Sprintf(" (op=%s)", e.ArithmeticOp)
	}
	return s
}

// Is supports errors.Is comparisons against a sentinel *Error carrying
// only a Kind (e.g. &Error{Kind: KindGas}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// OutOfBoundsError reports an invalid memory range access.
func OutOfBoundsError(offset, length uint32, primitive, message string) *Error {
	return &Error{Kind: KindOutOfBounds, Primitive: primitive, Message: message, Offset: offset, Length: length}
}

// InvalidParameterError reports a rejected primitive argument.
func InvalidParameterError(paramName, paramValue, primitive string) *Error {
	return &Error{
		Kind:       KindInvalidParameter,
		Primitive:  primitive,
		Message:    "invalid parameter",
		ParamName:  paramName,
		ParamValue: paramValue,
	}
}

// GasError reports a gas-accounting failure.
func GasError(primitive string, requested, available int64) *Error {
	return &Error{Kind: KindGas, Primitive: primitive, Message: "insufficient gas", GasRequested: requested, GasAvailable: available}
}

// StorageError reports a storage-layer failure (e.g. a write rejected by
// a static frame).
func StorageError(primitive, key, message string) *Error {
	return &Error{Kind: KindStorage, Primitive: primitive, Message: message, StorageKey: key}
}

// CallError reports a failed inter-contract call at the bridge level.
func CallError(primitive, target, message string) *Error {
	return &Error{Kind: KindCall, Primitive: primitive, Message: message, TargetAddress: target}
}

// CryptoError reports a failure inside a cryptographic default.
func CryptoError(primitive, op, message string) *Error {
	return &Error{Kind: KindCrypto, Primitive: primitive, Message: message, CryptoOp: op}
}

// ArithmeticError reports a failure inside a modular-arithmetic default.
func ArithmeticError(primitive, op, message string) *Error {
	return &Error{Kind: KindArithmetic, Primitive: primitive, Message: message, ArithmeticOp: op}
}

// ContextNotFoundError reports a missing frame/context.
func ContextNotFoundError(primitive string) *Error {
	return &Error{Kind: KindContextNotFound, Primitive: primitive, Message: "context not found"}
}

// ExecutionError reports a generic execution failure not covered by a more
// specific category.
func ExecutionError(primitive, message string) *Error {
	return &Error{Kind: KindExecution, Primitive: primitive, Message: message}
}

// BridgeExceptionCode is the engine-level exception code the bridge
// requests via set_exception_by_hostapi for any *Error raised during a
// primitive call (§4.3 failure policy, §7 layer 1).
const BridgeExceptionCode = 9

// OutOfGasExitCode is the terminal trap code surfaced by the engine when
// the injected gas-charge function observes a negative counter (§4.7,
// §7). Go APIs in this module report it as the Code field of the *Error
// that GasExhaustedError builds.
const OutOfGasExitCode = 90099

// GasExhaustedError reports that the engine's metered gas counter went
// negative partway through a run. Its Code is OutOfGasExitCode, so callers
// can tell this apart from a bridge-level KindGas error (or any other
// exception) by inspecting Code rather than matching on Message.
func GasExhaustedError(primitive string, gasBudget int64) *Error {
	return &Error{
		Kind:         KindGas,
		Primitive:    primitive,
		Message:      "OutOfGas",
		GasRequested: gasBudget,
		Code:         OutOfGasExitCode,
	}
}
