package gasmeter

// Rules is the cost schedule the injection pass consults, grounded in the
// Rust source's `gas_metering::gas_inject::Rules` trait
// (`instruction_cost`/`memory_grow_cost`/`call_per_local_cost`). A custom
// Rules implementation lets a caller price instructions unevenly, forbid
// some outright, and tune the two costs that aren't flat per-opcode
// charges.
type Rules interface {
	// InstructionCost returns the gas cost of op and whether op is
	// permitted at all. A Rules implementation that wants to forbid an
	// instruction (e.g. disallow floating point in a deterministic
	// execution environment) returns ok=false.
	InstructionCost(op byte) (cost uint64, ok bool)

	// MemoryGrowCost returns the gas cost charged per requested page at a
	// memory.grow instruction, in addition to its InstructionCost. The
	// injected charge multiplies this by the runtime page-count operand
	// (see inject.go's injectBody), matching the Rust source's
	// MemoryGrowCost::Linear curve rather than a flat per-call charge.
	MemoryGrowCost() uint64

	// CallPerLocalCost returns the per-local gas cost charged at a call
	// site for every local the callee declares, approximating the cost
	// of the callee's frame setup.
	CallPerLocalCost() uint64
}

// ConstantCostRules charges a single flat cost per instruction regardless
// of opcode, plus the two parameterised costs — the Go equivalent of the
// Rust source's ConstantCostRules used by GasMeter::transform_default.
type ConstantCostRules struct {
	instructionCost   uint64
	memoryGrowCost    uint64
	callPerLocalCost  uint64
}

// NewConstantCostRules returns a ConstantCostRules charging instructionCost
// gas per instruction, memoryGrowCost gas per page requested by memory.grow, and
// callPerLocalCost gas per local declared by a called function.
func NewConstantCostRules(instructionCost, memoryGrowCost, callPerLocalCost uint64) ConstantCostRules {
	return ConstantCostRules{
		instructionCost:  instructionCost,
		memoryGrowCost:   memoryGrowCost,
		callPerLocalCost: callPerLocalCost,
	}
}

func (r ConstantCostRules) InstructionCost(byte) (uint64, bool) { return r.instructionCost, true }
func (r ConstantCostRules) MemoryGrowCost() uint64              { return r.memoryGrowCost }
func (r ConstantCostRules) CallPerLocalCost() uint64            { return r.callPerLocalCost }

// defaultRules mirrors GasMeter::transform_default's ConstantCostRules::new(1, 8192, 1).
func defaultRules() Rules {
	return NewConstantCostRules(1, 8192, 1)
}
