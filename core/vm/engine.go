package vm

import (
	"encoding/binary"
)

// Instance is one running activation of a parsed Module against a single
// Frame. Building a fresh Instance per Frame keeps linear memory and the
// operand stack private to that invocation, matching spec.md's model of
// the engine as a stateless re-entrant interpreter driven entirely by the
// bridge (§5, §6). This engine is deliberately a minimal reference
// interpreter — spec.md places the WASM execution engine itself out of
// scope and asks only that the bridge and gas transformer be real; the
// opcode subset below is exactly what this repository's own test
// contracts and the gas transformer's instrumentation calls exercise.
type Instance struct {
	mod    *Module
	memory []byte

	prims *Primitives
	frame *Frame
	host  Host

	gasLeft int64
}

const wasmPageSize = 65536

// NewInstance builds an Instance ready to run mod's exported entry points
// against frame, wired to host through prims and metered against budget
// gas units (consumed by the injected __instrumented_use_gas calls).
func NewInstance(mod *Module, prims *Primitives, host Host, frame *Frame, gasBudget int64) *Instance {
	in := &Instance{mod: mod, prims: prims, frame: frame, host: host, gasLeft: gasBudget}
	if mod.HasMemory {
		in.memory = make([]byte, int(mod.MemoryMin)*wasmPageSize)
	}
	return in
}

// GuestMemory implementation, used by MemoryBridge (§4 Memory Bridge).

func (in *Instance) ValidateRange(offset, length uint32) bool {
	end := uint64(offset) + uint64(length)
	return end <= uint64(len(in.memory))
}

func (in *Instance) Read(offset, length uint32) []byte {
	out := make([]byte, length)
	copy(out, in.memory[offset:offset+length])
	return out
}

func (in *Instance) Write(offset uint32, data []byte) {
	copy(in.memory[offset:], data)
}

// GasLeft reports the engine's remaining metered budget, fed to
// Host.GetGasLeft by the getGasLeft primitive.
func (in *Instance) GasLeft() int64 { return in.gasLeft }

// RunExport invokes the function exported under name with the given
// arguments and runs it to completion (natural return, or early halt once
// the frame's status leaves StatusRunning via finish/revert/invalid/
// selfDestruct). The frame's own Status/ReturnData carry the outcome; the
// returned values are only the WASM-level results of the function itself,
// which this bridge's entry points (call/deploy) ignore.
func (in *Instance) RunExport(name string, args []int64) ([]int64, *Error) {
	idx, ok := in.mod.FindExport(name)
	if !ok {
		return nil, ExecutionError(name, "export not found")
	}
	return in.call(idx, args)
}

// call invokes function idx (spanning the import/local index space),
// dispatching imports to Primitives and running local bodies through the
// bytecode interpreter.
func (in *Instance) call(idx uint32, args []int64) ([]int64, *Error) {
	if int(idx) < len(in.mod.Imports) {
		imp := in.mod.Imports[idx]
		if imp.module == "env" && imp.name == "__instrumented_use_gas" {
			if len(args) != 1 {
				return nil, InvalidParameterError("amount", "", "__instrumented_use_gas")
			}
			in.gasLeft -= args[0]
			if in.gasLeft < 0 {
				return nil, nil // caller checks gasLeft; treated as a halt below
			}
			return nil, nil
		}
		return in.prims.Dispatch(in, imp.name, args)
	}
	local := int(idx) - len(in.mod.Imports)
	if local < 0 || local >= len(in.mod.Code) {
		return nil, ExecutionError("call", "function index out of range")
	}
	ft, ok := in.mod.funcTypeOf(idx)
	if !ok {
		return nil, ExecutionError("call", "unknown function type")
	}
	body := in.mod.Code[local]
	locals := make([]int64, len(ft.params)+int(body.numLocals))
	copy(locals, args)
	return in.runBody(body, ft, locals)
}

type ctrlFrame struct {
	op        byte
	bodyStart int
	elsePos   int
	endPos    int
}

// runBody interprets one function's bytecode to completion, returning the
// values left on the stack that correspond to the function's declared
// result arity, or a halt (nil, nil) if the frame left StatusRunning or
// gas was exhausted partway through.
func (in *Instance) runBody(body codeBody, ft funcType, locals []int64) ([]int64, *Error) {
	code := body.code
	r := &byteReader{buf: code}
	var stack []int64
	var ctrl []ctrlFrame

	push := func(v int64) { stack = append(stack, v) }
	pop := func() int64 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}

	for {
		if in.frame.Status() != StatusRunning || in.gasLeft < 0 {
			return nil, nil
		}
		if r.eof() {
			break
		}
		op, err := r.readByte()
		if err != nil {
			return nil, ExecutionError("interpret", "truncated instruction stream")
		}
		switch op {
		case 0x00: // unreachable
			return nil, ExecutionError("unreachable", "trap")
		case 0x01: // nop

		case 0x02, 0x03, 0x04: // block, loop, if
			if _, err := r.readI64LEB(); err != nil {
				return nil, ExecutionError("interpret", "bad block type")
			}
			bodyStart := r.pos
			elsePos, endPos, serr := scanToEnd(code, bodyStart)
			if serr != nil {
				return nil, ExecutionError("interpret", "unterminated block")
			}
			cf := ctrlFrame{op: op, bodyStart: bodyStart, elsePos: elsePos, endPos: endPos}
			if op == 0x04 {
				cond := pop()
				if cond == 0 {
					if elsePos >= 0 {
						ctrl = append(ctrl, cf)
						r.pos = elsePos + 1
					} else {
						r.pos = endPos + 1
					}
				} else {
					ctrl = append(ctrl, cf)
				}
			} else {
				ctrl = append(ctrl, cf)
			}

		case 0x05: // else: reached by falling through the "then" arm
			top := ctrl[len(ctrl)-1]
			ctrl = ctrl[:len(ctrl)-1]
			r.pos = top.endPos + 1

		case 0x0B: // end
			if len(ctrl) == 0 {
				goto functionEnd
			}
			ctrl = ctrl[:len(ctrl)-1]

		case 0x0C, 0x0D: // br, br_if
			label, err := r.readU32LEB()
			if err != nil {
				return nil, ExecutionError("interpret", "bad branch label")
			}
			if op == 0x0D {
				if pop() == 0 {
					continue
				}
			}
			if int(label) >= len(ctrl) {
				goto functionEnd
			}
			target := ctrl[len(ctrl)-1-int(label)]
			if target.op == 0x03 {
				ctrl = ctrl[:len(ctrl)-int(label)]
				r.pos = target.bodyStart
			} else {
				ctrl = ctrl[:len(ctrl)-int(label)-1]
				r.pos = target.endPos + 1
			}

		case 0x0F: // return
			goto functionEnd

		case 0x10: // call
			idx, err := r.readU32LEB()
			if err != nil {
				return nil, ExecutionError("interpret", "bad call index")
			}
			ft2, ok := in.mod.funcTypeOf(idx)
			if !ok {
				return nil, ExecutionError("call", "unknown callee type")
			}
			callArgs := make([]int64, len(ft2.params))
			for i := len(callArgs) - 1; i >= 0; i-- {
				callArgs[i] = pop()
			}
			results, cerr := in.call(idx, callArgs)
			if cerr != nil {
				return nil, cerr
			}
			if in.frame.Status() != StatusRunning || in.gasLeft < 0 {
				return nil, nil
			}
			for _, v := range results {
				push(v)
			}

		case 0x1A: // drop
			pop()

		case 0x1B: // select
			c := pop()
			b := pop()
			a := pop()
			if c != 0 {
				push(a)
			} else {
				push(b)
			}

		case 0x20: // local.get
			idx, _ := r.readU32LEB()
			push(locals[idx])
		case 0x21: // local.set
			idx, _ := r.readU32LEB()
			locals[idx] = pop()
		case 0x22: // local.tee
			idx, _ := r.readU32LEB()
			v := pop()
			locals[idx] = v
			push(v)

		case 0x28, 0x29, 0x2C, 0x2D, 0x2E, 0x2F, 0x36, 0x37, 0x3A, 0x3B:
			align, _ := r.readU32LEB()
			offset, _ := r.readU32LEB()
			_ = align
			if err := in.execMemOp(op, offset, &stack); err != nil {
				return nil, err
			}

		case 0x3F, 0x40: // memory.size, memory.grow
			if _, err := r.readByte(); err != nil {
				return nil, ExecutionError("interpret", "bad memory op")
			}
			if op == 0x3F {
				push(int64(len(in.memory) / wasmPageSize))
			} else {
				delta := pop()
				old := len(in.memory) / wasmPageSize
				in.memory = append(in.memory, make([]byte, int(delta)*wasmPageSize)...)
				push(int64(old))
			}

		case 0x41: // i32.const
			v, _ := r.readI64LEB()
			push(int64(int32(v)))
		case 0x42: // i64.const
			v, _ := r.readI64LEB()
			push(v)

		default:
			if err := in.execArith(op, &stack); err != nil {
				return nil, err
			}
		}
	}

functionEnd:
	nres := len(ft.results)
	if nres > len(stack) {
		nres = len(stack)
	}
	return stack[len(stack)-nres:], nil
}

func (in *Instance) execMemOp(op byte, offset uint32, stack *[]int64) *Error {
	pop := func() int64 {
		s := *stack
		v := s[len(s)-1]
		*stack = s[:len(s)-1]
		return v
	}
	push := func(v int64) { *stack = append(*stack, v) }

	readN := func(addr, n uint32, name string) ([]byte, *Error) {
		if !in.ValidateRange(addr, n) {
			return nil, OutOfBoundsError(addr, n, name, "out of bounds")
		}
		return in.Read(addr, n), nil
	}
	writeN := func(addr uint32, data []byte, name string) *Error {
		if !in.ValidateRange(addr, uint32(len(data))) {
			return OutOfBoundsError(addr, uint32(len(data)), name, "out of bounds")
		}
		in.Write(addr, data)
		return nil
	}

	switch op {
	case 0x28: // i32.load
		addr := uint32(pop()) + offset
		b, err := readN(addr, 4, "i32.load")
		if err != nil {
			return err
		}
		push(int64(int32(binary.LittleEndian.Uint32(b))))
	case 0x29: // i64.load
		addr := uint32(pop()) + offset
		b, err := readN(addr, 8, "i64.load")
		if err != nil {
			return err
		}
		push(int64(binary.LittleEndian.Uint64(b)))
	case 0x2C, 0x2D: // i32.load8_s/u
		addr := uint32(pop()) + offset
		b, err := readN(addr, 1, "i32.load8")
		if err != nil {
			return err
		}
		if op == 0x2C {
			push(int64(int8(b[0])))
		} else {
			push(int64(b[0]))
		}
	case 0x2E, 0x2F: // i32.load16_s/u
		addr := uint32(pop()) + offset
		b, err := readN(addr, 2, "i32.load16")
		if err != nil {
			return err
		}
		v := binary.LittleEndian.Uint16(b)
		if op == 0x2E {
			push(int64(int16(v)))
		} else {
			push(int64(v))
		}
	case 0x36: // i32.store
		v := pop()
		addr := uint32(pop()) + offset
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v))
		if err := writeN(addr, b[:], "i32.store"); err != nil {
			return err
		}
	case 0x37: // i64.store
		v := pop()
		addr := uint32(pop()) + offset
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v))
		if err := writeN(addr, b[:], "i64.store"); err != nil {
			return err
		}
	case 0x3A: // i32.store8
		v := pop()
		addr := uint32(pop()) + offset
		if err := writeN(addr, []byte{byte(v)}, "i32.store8"); err != nil {
			return err
		}
	case 0x3B: // i32.store16
		v := pop()
		addr := uint32(pop()) + offset
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		if err := writeN(addr, b[:], "i32.store16"); err != nil {
			return err
		}
	}
	return nil
}

func (in *Instance) execArith(op byte, stack *[]int64) *Error {
	pop := func() int64 {
		s := *stack
		v := s[len(s)-1]
		*stack = s[:len(s)-1]
		return v
	}
	push := func(v int64) { *stack = append(*stack, v) }
	boolI64 := func(b bool) int64 {
		if b {
			return 1
		}
		return 0
	}

	switch op {
	// i32 comparisons
	case 0x45:
		push(boolI64(int32(pop()) == 0))
	case 0x46:
		b, a := pop(), pop()
		push(boolI64(int32(a) == int32(b)))
	case 0x47:
		b, a := pop(), pop()
		push(boolI64(int32(a) != int32(b)))
	case 0x48:
		b, a := pop(), pop()
		push(boolI64(int32(a) < int32(b)))
	case 0x49:
		b, a := pop(), pop()
		push(boolI64(uint32(a) < uint32(b)))
	case 0x4A:
		b, a := pop(), pop()
		push(boolI64(int32(a) > int32(b)))
	case 0x4B:
		b, a := pop(), pop()
		push(boolI64(uint32(a) > uint32(b)))
	case 0x4C:
		b, a := pop(), pop()
		push(boolI64(int32(a) <= int32(b)))
	case 0x4D:
		b, a := pop(), pop()
		push(boolI64(uint32(a) <= uint32(b)))
	case 0x4E:
		b, a := pop(), pop()
		push(boolI64(int32(a) >= int32(b)))
	case 0x4F:
		b, a := pop(), pop()
		push(boolI64(uint32(a) >= uint32(b)))

	// i64 comparisons
	case 0x50:
		push(boolI64(pop() == 0))
	case 0x51:
		b, a := pop(), pop()
		push(boolI64(a == b))
	case 0x52:
		b, a := pop(), pop()
		push(boolI64(a != b))
	case 0x53:
		b, a := pop(), pop()
		push(boolI64(a < b))
	case 0x54:
		b, a := pop(), pop()
		push(boolI64(uint64(a) < uint64(b)))
	case 0x55:
		b, a := pop(), pop()
		push(boolI64(a > b))
	case 0x56:
		b, a := pop(), pop()
		push(boolI64(uint64(a) > uint64(b)))
	case 0x57:
		b, a := pop(), pop()
		push(boolI64(a <= b))
	case 0x58:
		b, a := pop(), pop()
		push(boolI64(uint64(a) <= uint64(b)))
	case 0x59:
		b, a := pop(), pop()
		push(boolI64(a >= b))
	case 0x5A:
		b, a := pop(), pop()
		push(boolI64(uint64(a) >= uint64(b)))

	// i32 arithmetic
	case 0x6A:
		b, a := pop(), pop()
		push(int64(int32(a) + int32(b)))
	case 0x6B:
		b, a := pop(), pop()
		push(int64(int32(a) - int32(b)))
	case 0x6C:
		b, a := pop(), pop()
		push(int64(int32(a) * int32(b)))
	case 0x6D:
		b, a := pop(), pop()
		if int32(b) == 0 {
			return ArithmeticError("i32.div_s", "i32.div_s", "division by zero")
		}
		push(int64(int32(a) / int32(b)))
	case 0x6E:
		b, a := pop(), pop()
		if uint32(b) == 0 {
			return ArithmeticError("i32.div_u", "i32.div_u", "division by zero")
		}
		push(int64(int32(uint32(a) / uint32(b))))
	case 0x6F:
		b, a := pop(), pop()
		if int32(b) == 0 {
			return ArithmeticError("i32.rem_s", "i32.rem_s", "division by zero")
		}
		push(int64(int32(a) % int32(b)))
	case 0x70:
		b, a := pop(), pop()
		if uint32(b) == 0 {
			return ArithmeticError("i32.rem_u", "i32.rem_u", "division by zero")
		}
		push(int64(int32(uint32(a) % uint32(b))))
	case 0x71:
		b, a := pop(), pop()
		push(int64(int32(a) & int32(b)))
	case 0x72:
		b, a := pop(), pop()
		push(int64(int32(a) | int32(b)))
	case 0x73:
		b, a := pop(), pop()
		push(int64(int32(a) ^ int32(b)))
	case 0x74:
		b, a := pop(), pop()
		push(int64(int32(a) << (uint32(b) % 32)))
	case 0x75:
		b, a := pop(), pop()
		push(int64(int32(a) >> (uint32(b) % 32)))
	case 0x76:
		b, a := pop(), pop()
		push(int64(int32(uint32(a) >> (uint32(b) % 32))))

	// i64 arithmetic
	case 0x7C:
		b, a := pop(), pop()
		push(a + b)
	case 0x7D:
		b, a := pop(), pop()
		push(a - b)
	case 0x7E:
		b, a := pop(), pop()
		push(a * b)
	case 0x7F:
		b, a := pop(), pop()
		if b == 0 {
			return ArithmeticError("i64.div_s", "i64.div_s", "division by zero")
		}
		push(a / b)
	case 0x80:
		b, a := pop(), pop()
		if b == 0 {
			return ArithmeticError("i64.div_u", "i64.div_u", "division by zero")
		}
		push(int64(uint64(a) / uint64(b)))
	case 0x81:
		b, a := pop(), pop()
		if b == 0 {
			return ArithmeticError("i64.rem_s", "i64.rem_s", "division by zero")
		}
		push(a % b)
	case 0x82:
		b, a := pop(), pop()
		if b == 0 {
			return ArithmeticError("i64.rem_u", "i64.rem_u", "division by zero")
		}
		push(int64(uint64(a) % uint64(b)))
	case 0x83:
		b, a := pop(), pop()
		push(a & b)
	case 0x84:
		b, a := pop(), pop()
		push(a | b)
	case 0x85:
		b, a := pop(), pop()
		push(a ^ b)
	case 0x86:
		b, a := pop(), pop()
		push(a << (uint64(b) % 64))
	case 0x87:
		b, a := pop(), pop()
		push(a >> (uint64(b) % 64))
	case 0x88:
		b, a := pop(), pop()
		push(int64(uint64(a) >> (uint64(b) % 64)))

	case 0xA7: // i32.wrap_i64
		push(int64(int32(pop())))
	case 0xAC: // i64.extend_i32_s
		push(int64(int32(pop())))
	case 0xAD: // i64.extend_i32_u
		push(int64(uint32(pop())))

	default:
		return ExecutionError("interpret", "unsupported opcode")
	}
	return nil
}

// scanToEnd scans a block/loop/if body starting at pos (just after the
// blocktype byte) for its matching depth-0 else (if any, ifs only) and
// end, skipping immediates of every instruction it passes over so nested
// structures don't confuse the depth count.
func scanToEnd(code []byte, pos int) (elsePos, endPos int, err error) {
	r := &byteReader{buf: code, pos: pos}
	depth := 0
	elsePos = -1
	for {
		if r.eof() {
			return 0, 0, ErrWasmBadSection
		}
		opPos := r.pos
		op, err := r.readByte()
		if err != nil {
			return 0, 0, err
		}
		switch op {
		case 0x02, 0x03, 0x04:
			depth++
			if err := skipImmediate(r, op); err != nil {
				return 0, 0, err
			}
		case 0x05:
			if depth == 0 {
				elsePos = opPos
			}
		case 0x0B:
			if depth == 0 {
				return elsePos, opPos, nil
			}
			depth--
		default:
			if err := skipImmediate(r, op); err != nil {
				return 0, 0, err
			}
		}
	}
}

// skipImmediate advances r past op's immediate operands, per the WASM MVP
// encoding of each instruction this engine recognises.
func skipImmediate(r *byteReader, op byte) error {
	switch op {
	case 0x02, 0x03, 0x04: // block, loop, if: blocktype
		_, err := r.readI64LEB()
		return err
	case 0x0C, 0x0D: // br, br_if: label
		_, err := r.readU32LEB()
		return err
	case 0x0E: // br_table: vec(label) + default
		n, err := r.readU32LEB()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n+1; i++ {
			if _, err := r.readU32LEB(); err != nil {
				return err
			}
		}
		return nil
	case 0x10: // call: func index
		_, err := r.readU32LEB()
		return err
	case 0x11: // call_indirect: type index + table index
		if _, err := r.readU32LEB(); err != nil {
			return err
		}
		_, err := r.readU32LEB()
		return err
	case 0x20, 0x21, 0x22, 0x23, 0x24: // local/global get/set/tee
		_, err := r.readU32LEB()
		return err
	case 0x28, 0x29, 0x2C, 0x2D, 0x2E, 0x2F, 0x30, 0x31, 0x32, 0x33, 0x34, 0x35,
		0x36, 0x37, 0x38, 0x39, 0x3A, 0x3B, 0x3C, 0x3D, 0x3E: // loads/stores: align + offset
		if _, err := r.readU32LEB(); err != nil {
			return err
		}
		_, err := r.readU32LEB()
		return err
	case 0x3F, 0x40: // memory.size/grow: reserved byte
		_, err := r.readByte()
		return err
	case 0x41, 0x42: // i32.const, i64.const
		_, err := r.readI64LEB()
		return err
	case 0x43: // f32.const
		_, err := r.readN(4)
		return err
	case 0x44: // f64.const
		_, err := r.readN(8)
		return err
	default:
		return nil
	}
}
