package vm

import (
	"sync"

	"github.com/eth2030/evmbridge/core/types"
)

// ExecutionStatus is the frame's terminal-state enum (§3 data model). It
// replaces the Rust mock's collapsed Option<bool> with the three-way split
// spec.md's data model actually names: finished, reverted, invalid.
type ExecutionStatus int

const (
	StatusRunning ExecutionStatus = iota
	StatusFinished
	StatusReverted
	StatusInvalid
)

func (s ExecutionStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusFinished:
		return "finished"
	case StatusReverted:
		return "reverted"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// BlockInfo is the environment snapshot visible to a frame (§3).
type BlockInfo struct {
	Number       int64
	Timestamp    int64
	GasLimit     int64
	Coinbase     types.Address
	PrevRandao   types.Word
	BaseFee      types.Word
	BlobBaseFee  types.Word
	Hash         types.Word
}

// TxInfo is the transaction-level environment snapshot visible to a frame
// (§3).
type TxInfo struct {
	Origin   types.Address
	GasPrice types.Word
	GasLimit int64
}

// ContractEntry is a registered contract's code and a display name, keyed
// by address in the shared contract registry.
type ContractEntry struct {
	Name string
	Code []byte
}

// SharedState is the mutable state shared by reference across a parent
// frame and every frame it spawns within the same transaction (§3, §5).
// No locking is required under the single-threaded nested-call model; a
// host that parallelises across transactions owns one SharedState per
// transaction.
type SharedState struct {
	mu       sync.Mutex
	storage  map[types.Word]types.Word
	registry map[types.Address]*ContractEntry
}

// NewSharedState returns an empty, ready-to-use SharedState.
func NewSharedState() *SharedState {
	return &SharedState{
		storage:  make(map[types.Word]types.Word),
		registry: make(map[types.Address]*ContractEntry),
	}
}

// Load returns the stored value for key, or the zero Word if absent.
func (s *SharedState) Load(key types.Word) types.Word {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage[key]
}

// Store sets key to value.
func (s *SharedState) Store(key, value types.Word) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage[key] = value
}

// Register records a deployed contract's code under addr.
func (s *SharedState) Register(addr types.Address, name string, code []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(code))
	copy(cp, code)
	s.registry[addr] = &ContractEntry{Name: name, Code: cp}
}

// Lookup returns the registered contract at addr, or nil if unregistered.
func (s *SharedState) Lookup(addr types.Address) *ContractEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry[addr]
}

// Unregister removes addr from the registry (used by selfDestruct).
func (s *SharedState) Unregister(addr types.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registry, addr)
}

// Frame represents one synchronous invocation of a contract's call or
// deploy entry point (§3 Contract Execution Context). Identity fields are
// immutable for the frame's lifetime; Shared is borrowed from the parent,
// never cloned; the output slots are private and mutate only through the
// control-transfer primitives and setStatus.
type Frame struct {
	// Identity, immutable for the frame's lifetime.
	Address   types.Address
	Caller    types.Address
	TxOrigin  types.Address
	CallValue types.Word
	ChainID   types.Word
	Block     BlockInfo
	Tx        TxInfo
	CallData  []byte
	Code      []byte

	// Static marks a frame entered via STATICCALL. A conforming host
	// (mockhost's StrictStatic option) rejects storage writes while this
	// is set (§4.5, §9 Open Questions).
	Static bool

	// Shared mutable state, borrowed from the parent frame (or fresh for
	// a root frame).
	Shared *SharedState

	// Output slots, private to this frame.
	returnData []byte
	status     ExecutionStatus
	events     []types.LogEvent

	// lastReturnData holds the return data of the most recent nested call
	// made from this frame (populated by the call-semantics layer).
	lastReturnData []byte
}

// NewRootFrame constructs a frame with fresh shared state for a top-level
// transaction.
func NewRootFrame(addr, caller, origin types.Address, value types.Word, callData, code []byte) *Frame {
	return &Frame{
		Address:   addr,
		Caller:    caller,
		TxOrigin:  origin,
		CallValue: value,
		CallData:  callData,
		Code:      code,
		Shared:    NewSharedState(),
		status:    StatusRunning,
	}
}

// ChildFrame constructs a new frame that shares f's Shared state but has
// its own identity fields, per §4.5/§9: "a child frame is constructed by
// copying the parent's shared handles and supplying new identity fields —
// not by mutating the parent."
func (f *Frame) ChildFrame(addr, caller types.Address, value types.Word, callData, code []byte, static bool) *Frame {
	return &Frame{
		Address:   addr,
		Caller:    caller,
		TxOrigin:  f.TxOrigin,
		CallValue: value,
		ChainID:   f.ChainID,
		Block:     f.Block,
		Tx:        f.Tx,
		CallData:  callData,
		Code:      code,
		Static:    static,
		Shared:    f.Shared,
		status:    StatusRunning,
	}
}

// Status returns the frame's current execution status.
func (f *Frame) Status() ExecutionStatus { return f.status }

// ReturnData returns the frame's private return_data slot. Only
// meaningful once Status is Finished or Reverted (§3 invariants).
func (f *Frame) ReturnData() []byte { return f.returnData }

// Events returns the frame's append-only event log.
func (f *Frame) Events() []types.LogEvent { return f.events }

// LastReturnData returns the return data of the most recent nested call
// issued from this frame.
func (f *Frame) LastReturnData() []byte { return f.lastReturnData }

// SetLastReturnData records the outcome of a nested call for later
// getReturnDataSize/returnDataCopy primitives.
func (f *Frame) SetLastReturnData(data []byte) { f.lastReturnData = data }

// AppendEvent appends a log event emitted during this frame's execution.
func (f *Frame) AppendEvent(ev types.LogEvent) { f.events = append(f.events, ev) }

// setStatus transitions the frame's execution status, enforcing
// monotonicity (§3 invariants): once not Running, it never returns to
// Running, and a terminal status is never overwritten by a different
// terminal status.
func (f *Frame) setStatus(s ExecutionStatus) {
	if f.status != StatusRunning {
		return
	}
	f.status = s
}

// Finish transitions the frame to Finished and records data as
// return_data (finish primitive, §4.4).
func (f *Frame) Finish(data []byte) {
	if f.status != StatusRunning {
		return
	}
	f.returnData = data
	f.setStatus(StatusFinished)
}

// Revert transitions the frame to Reverted and records data as
// return_data (revert primitive, §4.4).
func (f *Frame) Revert(data []byte) {
	if f.status != StatusRunning {
		return
	}
	f.returnData = data
	f.setStatus(StatusReverted)
}

// Invalid transitions the frame to Invalid with no return_data (invalid
// primitive, §4.4).
func (f *Frame) Invalid() {
	f.setStatus(StatusInvalid)
}
