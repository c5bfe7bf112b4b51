package vm

import (
	"github.com/eth2030/evmbridge/core/types"
)

// ContractExecutor is the convenience layer spec.md's §9 Open Questions
// names as a supplemental feature: "load code, build a root frame, run
// deploy/call, read back return_data/events/status". It owns the wiring
// between a parsed Module, the Primitives dispatcher, and a Host, so
// callers never touch Instance directly.
//
// A Host whose inter-contract call methods need to re-enter the engine
// (MockHost's CallContract and friends) holds a reference to the same
// ContractExecutor that drives its own top-level invocation — see
// MockHost.SetExecutor.
type ContractExecutor struct {
	host  Host
	prims *Primitives
}

// NewContractExecutor returns an executor bound to host. The caller is
// responsible for wiring any recursive call support the host needs (see
// MockHost.SetExecutor) once both sides exist.
func NewContractExecutor(host Host) *ContractExecutor {
	return &ContractExecutor{host: host, prims: NewPrimitives(host)}
}

// callEntryPoint and deployEntryPoint are the two export names a contract
// module is expected to carry, mirroring the "call"/"deploy" convention
// spec.md's inter-contract call semantics describe (§4.5).
const (
	callEntryPoint   = "call"
	deployEntryPoint = "deploy"
)

// RunResult is the outcome of driving one frame to completion.
type RunResult struct {
	Status     ExecutionStatus
	ReturnData []byte
	GasUsed    int64
	Err        *Error
}

// run parses code, builds an Instance for frame, invokes entry, and
// drives it to a terminal status (natural return or control-transfer
// halt). It is the single place Instance.RunExport is called from, so
// every execution path — top-level or nested — is metered and reported
// identically.
func (e *ContractExecutor) run(frame *Frame, entry string, gasBudget int64) RunResult {
	mod, err := ParseModule(frame.Code)
	if err != nil {
		return RunResult{Status: StatusInvalid, Err: ExecutionError(entry, err.Error())}
	}
	inst := NewInstance(mod, e.prims, e.host, frame, gasBudget)
	_, rerr := inst.RunExport(entry, nil)
	gasUsed := gasBudget - inst.GasLeft()
	if inst.GasLeft() < 0 {
		Metrics.Histogram("gas_consumed").Observe(float64(gasBudget))
		return RunResult{Status: StatusInvalid, GasUsed: gasBudget, Err: GasExhaustedError(entry, gasBudget)}
	}
	Metrics.Histogram("gas_consumed").Observe(float64(gasUsed))
	if rerr != nil {
		return RunResult{Status: StatusInvalid, GasUsed: gasUsed, Err: rerr}
	}
	return RunResult{Status: frame.Status(), ReturnData: frame.ReturnData(), GasUsed: gasUsed}
}

// RunCall drives a call-entry-point invocation for frame: the common path
// for both a transaction's top-level call and every CALL/CALLCODE/
// DELEGATECALL/STATICCALL-derived child frame (§4.5).
func (e *ContractExecutor) RunCall(frame *Frame, gasBudget int64) RunResult {
	return e.run(frame, callEntryPoint, gasBudget)
}

// RunDeploy drives a deploy-entry-point invocation for frame: used by a
// top-level contract creation transaction and by CREATE/CREATE2 (§4.5).
// On success the caller is expected to register frame.Address in the
// shared contract registry with the code the deploy run finished with
// (constructor-returned runtime code, mirroring finish's return_data).
func (e *ContractExecutor) RunDeploy(frame *Frame, gasBudget int64) RunResult {
	return e.run(frame, deployEntryPoint, gasBudget)
}

// Execute is the top-level entry point: build a fresh root frame for a
// transaction and run its deploy path when deploy is true, its call path
// otherwise. Empty code is not treated as a bare value transfer: it fails
// to parse and the result is Invalid. Callers that already have a frame (nested calls) use
// RunCall/RunDeploy directly instead.
func (e *ContractExecutor) Execute(addr, caller, origin types.Address, value types.Word, callData, code []byte, gasBudget int64, deploy bool) (*Frame, RunResult) {
	frame := NewRootFrame(addr, caller, origin, value, callData, code)
	if deploy {
		return frame, e.RunDeploy(frame, gasBudget)
	}
	return frame, e.RunCall(frame, gasBudget)
}
