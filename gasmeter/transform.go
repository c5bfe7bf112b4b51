package gasmeter

import (
	"fmt"

	"github.com/eth2030/evmbridge/log"
)

var transformLog = log.Module("gasmeter")

// Stage identifies which phase of the transform failed.
type Stage int

const (
	StageParse Stage = iota
	StageInject
	StageSerialize
)

func (s Stage) String() string {
	switch s {
	case StageParse:
		return "parse"
	case StageInject:
		return "inject"
	case StageSerialize:
		return "serialize"
	default:
		return "unknown"
	}
}

// TransformError reports which stage of TransformWithRules failed,
// mirroring the Rust source's TransformError enum
// (Parse/Inject/Serialize variants over elements::Error / a formatted
// injection failure / a serialize failure).
type TransformError struct {
	Stage Stage
	Err   error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("evmbridge/gasmeter: failed to %s wasm: %v", e.Stage, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// GasMeter is named after the Rust source's GasMeter
// (gas_metering/transform.rs) but has no fields or methods; the transform
// itself is the package functions TransformDefault and TransformWithRules.
type GasMeter struct{}

// TransformDefault transforms input with the default cost schedule: 1 gas
// per instruction, 8192 gas per page requested by memory.grow, 1 gas per callee local —
// the same defaults transform_default documents.
func TransformDefault(input []byte) ([]byte, error) {
	return TransformWithRules(input, defaultRules())
}

// TransformWithRules parses input, injects gas metering per rules, and
// re-serializes the result. The output module imports
// "env"."__instrumented_use_gas" (adding it if input doesn't already); a
// caller driving the result through core/vm must supply a Host primitive
// or a direct Instance-level handler for that import (engine.go treats it
// specially rather than routing it through Primitives.Dispatch).
func TransformWithRules(input []byte, rules Rules) ([]byte, error) {
	mod, err := parseModule(input)
	if err != nil {
		return nil, &TransformError{Stage: StageParse, Err: err}
	}
	if err := inject(mod, rules); err != nil {
		return nil, &TransformError{Stage: StageInject, Err: err}
	}
	out := encodeModule(mod)
	transformLog.Debug("injected gas metering", "functions", len(mod.code), "bytes_in", len(input), "bytes_out", len(out))
	return out, nil
}
