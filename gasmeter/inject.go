package gasmeter

import "errors"

// ErrForbiddenInstruction is returned when a Rules implementation marks an
// instruction present in the module as disallowed.
var ErrForbiddenInstruction = errors.New("evmbridge/gasmeter: forbidden instruction")

const (
	opUnreachable  = 0x00
	opBlock        = 0x02
	opLoop         = 0x03
	opIf           = 0x04
	opElse         = 0x05
	opEnd          = 0x0B
	opBr           = 0x0C
	opBrIf         = 0x0D
	opBrTable      = 0x0E
	opReturn       = 0x0F
	opCall         = 0x10
	opCallIndirect = 0x11
	opMemoryGrow   = 0x40
)

const gasImportModule = "env"
const gasImportName = "__instrumented_use_gas"

// inject rewrites m in place: it ensures an "env"."__instrumented_use_gas"
// import exists (adding one, and its (i64)->() type, if absent — remapping
// every existing call site that targeted a local function so function
// indices stay correct after the import list grows), then partitions every
// function body into basic blocks and prefixes each with a call metering
// the block's accumulated cost.
//
// Basic-block boundaries are every instruction that can transfer control
// out of straight-line execution: block/loop/if/else/end/br/br_if/
// br_table/call/call_indirect/return/unreachable. Each block is prefixed
// with a metering call charging its full cost before any of its
// instructions run — the same pre-paid shape pwasm-utils-style gas
// injection uses, simplified to this module's opcode subset (no globals,
// no floating point).
func inject(m *module, rules Rules) error {
	gasFuncIdx, err := ensureGasImport(m)
	if err != nil {
		return err
	}
	for fi := range m.code {
		rewritten, err := injectBody(m, fi, gasFuncIdx, rules)
		if err != nil {
			return err
		}
		m.code[fi].code = rewritten
	}
	return nil
}

// ensureGasImport returns the function-index-space index of the
// "__instrumented_use_gas" import, adding it (and an (i64)->() type, reused
// if one already matches) if the module doesn't already import it.
func ensureGasImport(m *module) (uint32, error) {
	for i, imp := range m.imports {
		if imp.module == gasImportModule && imp.name == gasImportName {
			return uint32(i), nil
		}
	}

	typeIdx := -1
	for i, t := range m.types {
		if len(t.params) == 1 && t.params[0] == valI64 && len(t.results) == 0 {
			typeIdx = i
			break
		}
	}
	if typeIdx < 0 {
		m.types = append(m.types, funcType{params: []valType{valI64}})
		typeIdx = len(m.types) - 1
	}

	originalImportCount := uint32(len(m.imports))
	m.imports = append(m.imports, importEntry{
		module:  gasImportModule,
		name:    gasImportName,
		typeIdx: uint32(typeIdx),
	})
	newIdx := originalImportCount

	// Every existing call targeting a local function must shift by one:
	// the function-index space is imports-then-locals, and a new import
	// was just appended after all the old ones.
	for fi := range m.code {
		remapped, err := remapCalls(m.code[fi].code, originalImportCount)
		if err != nil {
			return 0, err
		}
		m.code[fi].code = remapped
	}
	// Exports pointing at a local function shift by the same amount.
	for i, e := range m.exports {
		if e.kind == 0 && e.idx >= originalImportCount {
			m.exports[i].idx = e.idx + 1
		}
	}
	return newIdx, nil
}

// remapCalls rewrites every `call` instruction's function-index immediate,
// adding 1 when the target was (before the new import was appended) a
// local function, i.e. idx >= originalImportCount.
func remapCalls(code []byte, originalImportCount uint32) ([]byte, error) {
	out := make([]byte, 0, len(code))
	i := 0
	for i < len(code) {
		op := code[i]
		if op == opCall {
			r := &byteReader{buf: code, pos: i + 1}
			idx, err := r.readU32LEB()
			if err != nil {
				return nil, errBadSection
			}
			if idx >= originalImportCount {
				idx++
			}
			out = append(out, opCall)
			out = writeU32LEB(out, idx)
			i = r.pos
			continue
		}
		n, err := instrLen(op, code, i)
		if err != nil {
			return nil, err
		}
		out = append(out, code[i:i+n]...)
		i += n
	}
	return out, nil
}

// segment is a basic block's byte range within a function body's code.
type segment struct{ start, end int }

// isBoundary reports whether op can transfer control out of straight-line
// execution, ending the basic block it appears in.
func isBoundary(op byte) bool {
	switch op {
	case opUnreachable, opBlock, opLoop, opIf, opElse, opEnd,
		opBr, opBrIf, opBrTable, opReturn, opCall, opCallIndirect:
		return true
	}
	return false
}

// splitBasicBlocks partitions code into segments, each ending at (and
// including) the next boundary instruction.
func splitBasicBlocks(code []byte) ([]segment, error) {
	var segs []segment
	start := 0
	i := 0
	for i < len(code) {
		op := code[i]
		n, err := instrLen(op, code, i)
		if err != nil {
			return nil, err
		}
		i += n
		if isBoundary(op) {
			segs = append(segs, segment{start: start, end: i})
			start = i
		}
	}
	if start != len(code) {
		segs = append(segs, segment{start: start, end: len(code)})
	}
	return segs, nil
}

// segmentCost sums the static, compile-time-known gas cost of every
// instruction in seg, applying the per-callee-local bonus at call sites.
// memory.grow's cost is excluded here: it's charged dynamically against
// the runtime operand by injectBody instead (§4.7).
func segmentCost(m *module, seg []byte, rules Rules) (uint64, error) {
	var cost uint64
	i := 0
	for i < len(seg) {
		op := seg[i]
		n, err := instrLen(op, seg, i)
		if err != nil {
			return 0, err
		}
		c, ok := rules.InstructionCost(op)
		if !ok {
			return 0, ErrForbiddenInstruction
		}
		cost += c
		if op == opCall {
			r := &byteReader{buf: seg, pos: i + 1}
			calleeIdx, _ := r.readU32LEB()
			if local := m.localFuncIdx(calleeIdx); local >= 0 {
				cost += uint64(m.code[local].numLocals()) * rules.CallPerLocalCost()
			}
		}
		// memory.grow is charged dynamically, not folded into the
		// segment's static prepaid cost — see injectBody.
		i += n
	}
	return cost, nil
}

// hasMemoryGrow reports whether code contains at least one memory.grow
// instruction, so injectBody only reserves a spare local for functions that
// actually need one.
func hasMemoryGrow(code []byte) (bool, error) {
	i := 0
	for i < len(code) {
		op := code[i]
		n, err := instrLen(op, code, i)
		if err != nil {
			return false, err
		}
		if op == opMemoryGrow {
			return true, nil
		}
		i += n
	}
	return false, nil
}

// injectBody partitions the fi'th function body into basic blocks and
// prefixes each with a metering call for its full static cost, charged
// before any of its instructions run (pre-paid metering: a block that
// traps or branches away partway through has already been fully charged,
// the same conservative guarantee static gas injection is meant to
// provide). Because the metering call for a segment is always inserted
// BEFORE that segment's bytes, the function body's final segment — which
// always ends with the function's own closing `end` — is still the last
// thing written, so nothing ever follows that `end`.
//
// memory.grow is the one instruction whose cost can't be folded into a
// segment's static prepaid total: §4.7 requires charging
// memory_grow_cost × requested_pages, and requested_pages is only known
// once the guest's own operand is sitting on the stack. injectBody handles
// it by reserving a spare i32 local for any function that contains a
// memory.grow, then splicing in, immediately before each occurrence, a
// local.tee/local.get pair that duplicates the operand (tee keeps the
// original push intact for memory.grow itself), extends it to i64,
// multiplies by the rules' per-page cost, and charges the product through
// the same metering import the static segments use.
func injectBody(m *module, fi int, gasFuncIdx uint32, rules Rules) ([]byte, error) {
	body := m.code[fi]
	segs, err := splitBasicBlocks(body.code)
	if err != nil {
		return nil, err
	}

	grows, err := hasMemoryGrow(body.code)
	if err != nil {
		return nil, err
	}
	var spareLocal uint32
	if grows {
		paramCount := 0
		if ti := m.funcTypes[fi]; int(ti) < len(m.types) {
			paramCount = len(m.types[ti].params)
		}
		spareLocal = uint32(paramCount) + body.numLocals()
		m.code[fi].localRuns = append(m.code[fi].localRuns, localRun{count: 1, typ: valI32})
	}

	out := make([]byte, 0, len(body.code)+8*len(segs))
	for _, seg := range segs {
		segBytes := body.code[seg.start:seg.end]
		cost, err := segmentCost(m, segBytes, rules)
		if err != nil {
			return nil, err
		}
		if cost > 0 {
			out = append(out, 0x42) // i64.const
			out = writeI64LEB(out, int64(cost))
			out = append(out, opCall)
			out = writeU32LEB(out, gasFuncIdx)
		}
		out, err = appendSegmentChargingMemoryGrow(out, segBytes, spareLocal, gasFuncIdx, rules)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// appendSegmentChargingMemoryGrow copies seg onto out, splicing a dynamic
// gas charge in front of every memory.grow instruction it contains.
func appendSegmentChargingMemoryGrow(out, seg []byte, spareLocal, gasFuncIdx uint32, rules Rules) ([]byte, error) {
	i := 0
	for i < len(seg) {
		op := seg[i]
		n, err := instrLen(op, seg, i)
		if err != nil {
			return nil, err
		}
		if op == opMemoryGrow {
			out = append(out, 0x22) // local.tee: stash the requested page count, still leaving it for memory.grow
			out = writeU32LEB(out, spareLocal)
			out = append(out, 0x20) // local.get: recover it for the cost computation
			out = writeU32LEB(out, spareLocal)
			out = append(out, 0xAD) // i64.extend_i32_u
			out = append(out, 0x42) // i64.const memoryGrowCost
			out = writeI64LEB(out, int64(rules.MemoryGrowCost()))
			out = append(out, 0x7E) // i64.mul
			out = append(out, opCall)
			out = writeU32LEB(out, gasFuncIdx)
		}
		out = append(out, seg[i:i+n]...)
		i += n
	}
	return out, nil
}

// instrLen returns the total byte length (opcode + immediate) of the
// instruction at code[pos], mirroring core/vm/engine.go's skipImmediate —
// duplicated per this package's doc comment.
func instrLen(op byte, code []byte, pos int) (int, error) {
	r := &byteReader{buf: code, pos: pos + 1}
	switch op {
	case opBlock, opLoop, opIf:
		if _, err := r.readI64LEB(); err != nil {
			return 0, errBadSection
		}
	case opBr, opBrIf:
		if _, err := r.readU32LEB(); err != nil {
			return 0, errBadSection
		}
	case opBrTable:
		n, err := r.readU32LEB()
		if err != nil {
			return 0, errBadSection
		}
		for j := uint32(0); j < n+1; j++ {
			if _, err := r.readU32LEB(); err != nil {
				return 0, errBadSection
			}
		}
	case opCall:
		if _, err := r.readU32LEB(); err != nil {
			return 0, errBadSection
		}
	case opCallIndirect:
		if _, err := r.readU32LEB(); err != nil {
			return 0, errBadSection
		}
		if _, err := r.readU32LEB(); err != nil {
			return 0, errBadSection
		}
	case 0x20, 0x21, 0x22, 0x23, 0x24:
		if _, err := r.readU32LEB(); err != nil {
			return 0, errBadSection
		}
	case 0x28, 0x29, 0x2C, 0x2D, 0x2E, 0x2F, 0x30, 0x31, 0x32, 0x33, 0x34, 0x35,
		0x36, 0x37, 0x38, 0x39, 0x3A, 0x3B, 0x3C, 0x3D, 0x3E:
		if _, err := r.readU32LEB(); err != nil {
			return 0, errBadSection
		}
		if _, err := r.readU32LEB(); err != nil {
			return 0, errBadSection
		}
	case 0x3F, opMemoryGrow:
		if _, err := r.readByte(); err != nil {
			return 0, errBadSection
		}
	case 0x41, 0x42:
		if _, err := r.readI64LEB(); err != nil {
			return 0, errBadSection
		}
	case 0x43:
		if _, err := r.readN(4); err != nil {
			return 0, errBadSection
		}
	case 0x44:
		if _, err := r.readN(8); err != nil {
			return 0, errBadSection
		}
	}
	return r.pos - pos, nil
}
