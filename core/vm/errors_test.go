package vm

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorMessageIncludesCategoryKindAndPrimitive(t *testing.T) {
	err := OutOfBoundsError(10, 4, "callDataCopy", "out of bounds")
	msg := err.Error()
	if !strings.HasPrefix(msg, "memory/OutOfBounds in callDataCopy: out of bounds") {
		t.Fatalf("unexpected message: %q", msg)
	}
	if !strings.Contains(msg, "offset=10") || !strings.Contains(msg, "length=4") {
		t.Fatalf("message missing distinguishing fields: %q", msg)
	}
}

func TestErrorCategoryGroupsOutOfBoundsAndMemoryAccess(t *testing.T) {
	if KindOutOfBounds.category() != "memory" {
		t.Fatalf("KindOutOfBounds category = %q, want memory", KindOutOfBounds.category())
	}
	if KindMemoryAccess.category() != "memory" {
		t.Fatalf("KindMemoryAccess category = %q, want memory", KindMemoryAccess.category())
	}
}

func TestEveryKindHasADistinctStringAndCategory(t *testing.T) {
	kinds := []Kind{
		KindOutOfBounds, KindMemoryAccess, KindInvalidParameter, KindContextNotFound,
		KindExecution, KindGas, KindStorage, KindCall, KindCrypto, KindArithmetic,
	}
	seen := make(map[string]bool)
	for _, k := range kinds {
		s := k.String()
		if s == "" || s == "Unknown" {
			t.Fatalf("Kind %d has no distinct String()", k)
		}
		seen[s] = true
	}
	if len(seen) != len(kinds) {
		t.Fatalf("expected %d distinct Kind strings, got %d", len(kinds), len(seen))
	}
}

func TestErrorIsComparesOnlyKind(t *testing.T) {
	err := GasError("getGasLeft", 100, 10)
	sentinel := &Error{Kind: KindGas}
	if !errors.Is(err, sentinel) {
		t.Fatal("expected errors.Is to match on Kind alone")
	}

	other := &Error{Kind: KindStorage}
	if errors.Is(err, other) {
		t.Fatal("errors.Is should not match a different Kind")
	}

	if errors.Is(err, errors.New("not an *Error")) {
		t.Fatal("errors.Is should not match a non-*Error target")
	}
}

func TestConstructorsSetDistinguishingFields(t *testing.T) {
	if e := InvalidParameterError("amount", "-1", "call"); e.ParamName != "amount" || e.ParamValue != "-1" {
		t.Fatalf("InvalidParameterError fields = %+v", e)
	}
	if e := StorageError("storageStore", "0xabc", "static frame"); e.StorageKey != "0xabc" {
		t.Fatalf("StorageError fields = %+v", e)
	}
	if e := CallError("call", "0xdead", "target not found"); e.TargetAddress != "0xdead" {
		t.Fatalf("CallError fields = %+v", e)
	}
	if e := CryptoError("sha256", "sha256", "bad input"); e.CryptoOp != "sha256" {
		t.Fatalf("CryptoError fields = %+v", e)
	}
	if e := ArithmeticError("addmod", "addmod", "zero modulus"); e.ArithmeticOp != "addmod" {
		t.Fatalf("ArithmeticError fields = %+v", e)
	}
	if e := ContextNotFoundError("getAddress"); e.Kind != KindContextNotFound {
		t.Fatalf("ContextNotFoundError kind = %v", e.Kind)
	}
	if e := ExecutionError("interpret", "trap"); e.Kind != KindExecution {
		t.Fatalf("ExecutionError kind = %v", e.Kind)
	}
}

func TestGasExhaustedErrorMessage(t *testing.T) {
	e := GasExhaustedError("call", 1_000_000)
	if e.Kind != KindGas {
		t.Fatalf("GasExhaustedError kind = %v, want KindGas", e.Kind)
	}
	if e.Code != OutOfGasExitCode {
		t.Fatalf("GasExhaustedError.Code = %d, want %d", e.Code, OutOfGasExitCode)
	}
	if e.GasRequested != 1_000_000 {
		t.Fatalf("GasExhaustedError.GasRequested = %d, want 1000000", e.GasRequested)
	}
	var target error = e
	if !errors.Is(target, &Error{Kind: KindGas}) {
		t.Fatal("GasExhaustedError should satisfy errors.Is against a KindGas sentinel")
	}
}
