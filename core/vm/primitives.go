package vm

import (
	"strconv"

	"github.com/eth2030/evmbridge/core/types"
	"github.com/eth2030/evmbridge/metrics"
)

// Metrics holds the counters and histograms the bridge records for the
// Prometheus exporter (SPEC_FULL.md's DOMAIN STACK: gas
// consumed per run, primitive calls by name).
var Metrics = metrics.NewRegistry()

// Primitives is the dispatch table wiring WASM "env" imports to Host
// methods through the Memory Bridge (§4.3 Host Primitive Catalogue). Each
// entry follows the same shape the Rust source's host_functions/*.rs
// files use throughout: validate parameters against guest memory, read
// the operands, call the corresponding Host method, and write the result
// back — never touching guest memory without a bounds check first.
//
// Calling convention used consistently across every primitive below:
//   - a fixed-width scalar result (address/word) is written to a
//     guest-supplied resultOffset and the primitive itself returns no
//     value;
//   - a size query returns an i32 byte count;
//   - a variable-length copy takes (destOffset, srcOffset, length) and
//     applies the zero-fill-past-source-end rule via ZeroFillCopy;
//   - call/create variants return i32 0 on success, 1 on failure.
type Primitives struct {
	host Host
}

// NewPrimitives returns a dispatcher bound to host.
func NewPrimitives(host Host) *Primitives { return &Primitives{host: host} }

// Dispatch resolves name to a primitive and runs it against in's current
// frame and memory. Unknown names are a bridge-level execution error
// (§4.3 failure policy: unresolved imports never silently no-op).
func (p *Primitives) Dispatch(in *Instance, name string, args []int64) ([]int64, *Error) {
	fn, ok := primitiveTable[name]
	if !ok {
		return nil, ExecutionError(name, "unknown host primitive")
	}
	Metrics.Counter("primitive_calls_" + name).Inc()
	mem := NewMemoryBridge(in)
	return fn(&primCtx{in: in, mem: mem, frame: in.frame, host: p.host}, args)
}

type primCtx struct {
	in    *Instance
	mem   *MemoryBridge
	frame *Frame
	host  Host
}

type primFunc func(ctx *primCtx, args []int64) ([]int64, *Error)

func arg32(args []int64, i int) uint32 { return uint32(args[i]) }

var primitiveTable map[string]primFunc

func init() {
	primitiveTable = map[string]primFunc{
		"getAddress":        pGetAddress,
		"getCaller":         pGetCaller,
		"getTxOrigin":       pGetTxOrigin,
		"getCallValue":      pGetCallValue,
		"getChainId":        pGetChainID,
		"getBlockNumber":    pGetBlockNumber,
		"getBlockTimestamp": pGetBlockTimestamp,
		"getBlockGasLimit":  pGetBlockGasLimit,
		"getBlockCoinbase":  pGetBlockCoinbase,
		"getBlockPrevRandao": pGetBlockPrevRandao,
		"getBlockHash":      pGetBlockHash,
		"getBaseFee":        pGetBaseFee,
		"getBlobBaseFee":    pGetBlobBaseFee,
		"getTxGasPrice":     pGetTxGasPrice,
		"getGasLeft":        pGetGasLeft,

		"getCallDataSize": pGetCallDataSize,
		"callDataCopy":    pCallDataCopy,
		"getCodeSize":     pGetCodeSize,
		"codeCopy":        pCodeCopy,

		"getExternalBalance":   pGetExternalBalance,
		"getExternalCodeSize":  pGetExternalCodeSize,
		"getExternalCodeHash":  pGetExternalCodeHash,
		"externalCodeCopy":     pExternalCodeCopy,

		"storageStore": pStorageStore,
		"storageLoad":  pStorageLoad,

		"getReturnDataSize": pGetReturnDataSize,
		"returnDataCopy":    pReturnDataCopy,

		"finish":       pFinish,
		"revert":       pRevert,
		"invalid":      pInvalid,
		"selfDestruct": pSelfDestruct,

		"emitLogEvent": pEmitLogEvent,

		"callContract":   pCallContract,
		"callCode":       pCallCode,
		"callDelegate":   pCallDelegate,
		"callStatic":     pCallStatic,
		"createContract": pCreateContract,

		"sha256":    pSHA256,
		"keccak256": pKeccak256,
		"addmod":    pAddMod,
		"mulmod":    pMulMod,
		"expmod":    pExpMod,
	}
}

func writeAddressResult(ctx *primCtx, name string, resultOff uint32, addr types.Address) ([]int64, *Error) {
	if err := ctx.mem.WriteAddress(name, resultOff, addr); err != nil {
		return nil, err
	}
	return nil, nil
}

func writeWordResult(ctx *primCtx, name string, resultOff uint32, w types.Word) ([]int64, *Error) {
	if err := ctx.mem.WriteWord(name, resultOff, w); err != nil {
		return nil, err
	}
	return nil, nil
}

// --- Identity ---

func pGetAddress(ctx *primCtx, args []int64) ([]int64, *Error) {
	return writeAddressResult(ctx, "getAddress", arg32(args, 0), ctx.host.GetAddress(ctx.frame))
}

func pGetCaller(ctx *primCtx, args []int64) ([]int64, *Error) {
	return writeAddressResult(ctx, "getCaller", arg32(args, 0), ctx.host.GetCaller(ctx.frame))
}

func pGetTxOrigin(ctx *primCtx, args []int64) ([]int64, *Error) {
	return writeAddressResult(ctx, "getTxOrigin", arg32(args, 0), ctx.host.GetTxOrigin(ctx.frame))
}

// --- Environment ---

func pGetCallValue(ctx *primCtx, args []int64) ([]int64, *Error) {
	return writeWordResult(ctx, "getCallValue", arg32(args, 0), ctx.host.GetCallValue(ctx.frame))
}

func pGetChainID(ctx *primCtx, args []int64) ([]int64, *Error) {
	return writeWordResult(ctx, "getChainId", arg32(args, 0), ctx.host.GetChainID(ctx.frame))
}

func pGetBlockNumber(ctx *primCtx, args []int64) ([]int64, *Error) {
	return []int64{ctx.host.GetBlockNumber(ctx.frame)}, nil
}

func pGetBlockTimestamp(ctx *primCtx, args []int64) ([]int64, *Error) {
	return []int64{ctx.host.GetBlockTimestamp(ctx.frame)}, nil
}

func pGetBlockGasLimit(ctx *primCtx, args []int64) ([]int64, *Error) {
	return []int64{ctx.host.GetBlockGasLimit(ctx.frame)}, nil
}

func pGetBlockCoinbase(ctx *primCtx, args []int64) ([]int64, *Error) {
	return writeAddressResult(ctx, "getBlockCoinbase", arg32(args, 0), ctx.host.GetBlockCoinbase(ctx.frame))
}

func pGetBlockPrevRandao(ctx *primCtx, args []int64) ([]int64, *Error) {
	return writeWordResult(ctx, "getBlockPrevRandao", arg32(args, 0), ctx.host.GetBlockPrevRandao(ctx.frame))
}

// getBlockHash(number i64, resultOffset i32) -> i32 (1 if found and
// written, 0 if out of range — §4.3/§8 boundary behaviour).
func pGetBlockHash(ctx *primCtx, args []int64) ([]int64, *Error) {
	number := args[0]
	resultOff := arg32(args, 1)
	hash, ok := ctx.host.GetBlockHash(ctx.frame, number)
	if !ok {
		if err := ctx.mem.WriteWord("getBlockHash", resultOff, types.Word{}); err != nil {
			return nil, err
		}
		return []int64{0}, nil
	}
	if err := ctx.mem.WriteWord("getBlockHash", resultOff, hash); err != nil {
		return nil, err
	}
	return []int64{1}, nil
}

func pGetBaseFee(ctx *primCtx, args []int64) ([]int64, *Error) {
	return writeWordResult(ctx, "getBaseFee", arg32(args, 0), ctx.host.GetBaseFee(ctx.frame))
}

func pGetBlobBaseFee(ctx *primCtx, args []int64) ([]int64, *Error) {
	return writeWordResult(ctx, "getBlobBaseFee", arg32(args, 0), ctx.host.GetBlobBaseFee(ctx.frame))
}

func pGetTxGasPrice(ctx *primCtx, args []int64) ([]int64, *Error) {
	return writeWordResult(ctx, "getTxGasPrice", arg32(args, 0), ctx.host.GetTxGasPrice(ctx.frame))
}

func pGetGasLeft(ctx *primCtx, args []int64) ([]int64, *Error) {
	return []int64{ctx.host.GetGasLeft(ctx.frame, ctx.in.GasLeft())}, nil
}

// --- Inputs ---

func pGetCallDataSize(ctx *primCtx, args []int64) ([]int64, *Error) {
	return []int64{int64(len(ctx.host.CallData(ctx.frame)))}, nil
}

func pCallDataCopy(ctx *primCtx, args []int64) ([]int64, *Error) {
	data := ctx.host.CallData(ctx.frame)
	destOff, srcOff, length := arg32(args, 0), arg32(args, 1), arg32(args, 2)
	out := ZeroFillCopy(data, srcOff, length)
	if err := ctx.mem.WriteBytes("callDataCopy", destOff, out); err != nil {
		return nil, err
	}
	return nil, nil
}

func pGetCodeSize(ctx *primCtx, args []int64) ([]int64, *Error) {
	return []int64{int64(len(ctx.host.ContractCode(ctx.frame)))}, nil
}

func pCodeCopy(ctx *primCtx, args []int64) ([]int64, *Error) {
	code := ctx.host.ContractCode(ctx.frame)
	destOff, srcOff, length := arg32(args, 0), arg32(args, 1), arg32(args, 2)
	out := ZeroFillCopy(code, srcOff, length)
	if err := ctx.mem.WriteBytes("codeCopy", destOff, out); err != nil {
		return nil, err
	}
	return nil, nil
}

// --- External accounts ---

func pGetExternalBalance(ctx *primCtx, args []int64) ([]int64, *Error) {
	addr, err := ctx.mem.ReadAddress("getExternalBalance", arg32(args, 0))
	if err != nil {
		return nil, err
	}
	return writeWordResult(ctx, "getExternalBalance", arg32(args, 1), ctx.host.ExternalBalance(ctx.frame, addr))
}

func pGetExternalCodeSize(ctx *primCtx, args []int64) ([]int64, *Error) {
	addr, err := ctx.mem.ReadAddress("getExternalCodeSize", arg32(args, 0))
	if err != nil {
		return nil, err
	}
	size, ok := ctx.host.ExternalCodeSize(ctx.frame, addr)
	if !ok {
		return []int64{0}, nil
	}
	return []int64{int64(size)}, nil
}

func pGetExternalCodeHash(ctx *primCtx, args []int64) ([]int64, *Error) {
	addr, err := ctx.mem.ReadAddress("getExternalCodeHash", arg32(args, 0))
	if err != nil {
		return nil, err
	}
	hash, ok := ctx.host.ExternalCodeHash(ctx.frame, addr)
	if !ok {
		hash = types.Word{}
	}
	return writeWordResult(ctx, "getExternalCodeHash", arg32(args, 1), hash)
}

func pExternalCodeCopy(ctx *primCtx, args []int64) ([]int64, *Error) {
	addr, err := ctx.mem.ReadAddress("externalCodeCopy", arg32(args, 0))
	if err != nil {
		return nil, err
	}
	code, _ := ctx.host.ExternalCodeCopy(ctx.frame, addr)
	destOff, srcOff, length := arg32(args, 1), arg32(args, 2), arg32(args, 3)
	out := ZeroFillCopy(code, srcOff, length)
	if err := ctx.mem.WriteBytes("externalCodeCopy", destOff, out); err != nil {
		return nil, err
	}
	return nil, nil
}

// --- State ---

func pStorageStore(ctx *primCtx, args []int64) ([]int64, *Error) {
	key, err := ctx.mem.ReadWord("storageStore", arg32(args, 0))
	if err != nil {
		return nil, err
	}
	value, err := ctx.mem.ReadWord("storageStore", arg32(args, 1))
	if err != nil {
		return nil, err
	}
	if serr := ctx.host.StorageStore(ctx.frame, key, value); serr != nil {
		if serr.Kind == KindStorage {
			// A write the host rejects (e.g. in a static frame) ends the
			// frame reverted rather than aborting it.
			ctx.frame.Revert(nil)
			ctx.host.OnRevert(ctx.frame, nil)
			return nil, nil
		}
		return nil, serr
	}
	return nil, nil
}

func pStorageLoad(ctx *primCtx, args []int64) ([]int64, *Error) {
	key, err := ctx.mem.ReadWord("storageLoad", arg32(args, 0))
	if err != nil {
		return nil, err
	}
	return writeWordResult(ctx, "storageLoad", arg32(args, 1), ctx.host.StorageLoad(ctx.frame, key))
}

// --- Return data ---

func pGetReturnDataSize(ctx *primCtx, args []int64) ([]int64, *Error) {
	return []int64{int64(len(ctx.frame.LastReturnData()))}, nil
}

func pReturnDataCopy(ctx *primCtx, args []int64) ([]int64, *Error) {
	data := ctx.frame.LastReturnData()
	destOff, srcOff, length := arg32(args, 0), arg32(args, 1), arg32(args, 2)
	out := ZeroFillCopy(data, srcOff, length)
	if err := ctx.mem.WriteBytes("returnDataCopy", destOff, out); err != nil {
		return nil, err
	}
	return nil, nil
}

// --- Control transfer ---

func pFinish(ctx *primCtx, args []int64) ([]int64, *Error) {
	data, err := ctx.mem.ReadBytes("finish", arg32(args, 0), arg32(args, 1))
	if err != nil {
		return nil, err
	}
	ctx.frame.Finish(data)
	ctx.host.OnFinish(ctx.frame, data)
	return nil, nil
}

func pRevert(ctx *primCtx, args []int64) ([]int64, *Error) {
	data, err := ctx.mem.ReadBytes("revert", arg32(args, 0), arg32(args, 1))
	if err != nil {
		return nil, err
	}
	ctx.frame.Revert(data)
	ctx.host.OnRevert(ctx.frame, data)
	return nil, nil
}

func pInvalid(ctx *primCtx, args []int64) ([]int64, *Error) {
	ctx.frame.Invalid()
	ctx.host.OnInvalid(ctx.frame)
	return nil, nil
}

// selfDestruct halts the frame after crediting the beneficiary, matching
// §9's resolution that the default mock actually performs the transfer
// rather than leaving it a no-op.
func pSelfDestruct(ctx *primCtx, args []int64) ([]int64, *Error) {
	addr, err := ctx.mem.ReadAddress("selfDestruct", arg32(args, 0))
	if err != nil {
		return nil, err
	}
	ctx.host.SelfDestruct(ctx.frame, addr)
	ctx.frame.Finish(nil)
	return nil, nil
}

// --- Logging ---

// emitLogEvent(dataOffset, dataLength, nTopics i32, t1, t2, t3, t4
// (32 bytes each, fixed slots)) -- nTopics selects how many of t1..t4 are
// actually read; a guest-supplied count outside [0,4] is a bridge-level
// parameter error (§4.3 failure policy), not a behavioural failure.
func pEmitLogEvent(ctx *primCtx, args []int64) ([]int64, *Error) {
	dataOff, dataLen := arg32(args, 0), arg32(args, 1)
	nTopics := int32(args[2])
	if nTopics < 0 || nTopics > 4 {
		return nil, InvalidParameterError("nTopics", strconv.Itoa(int(nTopics)), "emitLogEvent")
	}
	data, err := ctx.mem.ReadBytes("emitLogEvent", dataOff, dataLen)
	if err != nil {
		return nil, err
	}
	topics := make([]types.Word, nTopics)
	for i := 0; i < int(nTopics); i++ {
		w, err := ctx.mem.ReadWord("emitLogEvent", arg32(args, 3+i))
		if err != nil {
			return nil, err
		}
		topics[i] = w
	}
	ctx.host.EmitLogEvent(ctx.frame, types.LogEvent{
		ContractAddress: ctx.host.GetAddress(ctx.frame),
		Topics:           topics,
		Data:             data,
	})
	return nil, nil
}

// --- Inter-contract calls ---
//
// callContract(gas i64, addrOffset i32, valueOffset i32, argsOffset i32,
//              argsLength i32) -> i32 (0 success, 1 failure)

func readCallArgs(ctx *primCtx, args []int64, name string, withValue bool) (types.Address, types.Word, []byte, *Error) {
	gasArgIdx := 0
	addr, err := ctx.mem.ReadAddress(name, arg32(args, gasArgIdx+1))
	if err != nil {
		return types.Address{}, types.Word{}, nil, err
	}
	idx := gasArgIdx + 2
	var value types.Word
	if withValue {
		value, err = ctx.mem.ReadWord(name, arg32(args, idx))
		if err != nil {
			return types.Address{}, types.Word{}, nil, err
		}
		idx++
	}
	dataOff, dataLen := arg32(args, idx), arg32(args, idx+1)
	data, err := ctx.mem.ReadBytes(name, dataOff, dataLen)
	if err != nil {
		return types.Address{}, types.Word{}, nil, err
	}
	return addr, value, data, nil
}

func callResultCode(ctx *primCtx, res types.ContractCallResult) int64 {
	ctx.frame.SetLastReturnData(res.ReturnData)
	if res.Success {
		return 0
	}
	return 1
}

func pCallContract(ctx *primCtx, args []int64) ([]int64, *Error) {
	addr, value, data, err := readCallArgs(ctx, args, "callContract", true)
	if err != nil {
		return nil, err
	}
	res := ctx.host.CallContract(ctx.frame, args[0], addr, value, data)
	return []int64{callResultCode(ctx, res)}, nil
}

func pCallCode(ctx *primCtx, args []int64) ([]int64, *Error) {
	addr, value, data, err := readCallArgs(ctx, args, "callCode", true)
	if err != nil {
		return nil, err
	}
	res := ctx.host.CallCode(ctx.frame, args[0], addr, value, data)
	return []int64{callResultCode(ctx, res)}, nil
}

func pCallDelegate(ctx *primCtx, args []int64) ([]int64, *Error) {
	addr, _, data, err := readCallArgs(ctx, args, "callDelegate", false)
	if err != nil {
		return nil, err
	}
	res := ctx.host.CallDelegate(ctx.frame, args[0], addr, data)
	return []int64{callResultCode(ctx, res)}, nil
}

func pCallStatic(ctx *primCtx, args []int64) ([]int64, *Error) {
	addr, _, data, err := readCallArgs(ctx, args, "callStatic", false)
	if err != nil {
		return nil, err
	}
	res := ctx.host.CallStatic(ctx.frame, args[0], addr, data)
	return []int64{callResultCode(ctx, res)}, nil
}

// createContract(valueOffset, codeOffset, codeLength, dataOffset,
// dataLength, saltOffset, isCreate2 i32, resultAddrOffset) -> i32. salt and
// isCreate2 are always present, fixed-position arguments: isCreate2 picks
// the derivation rule at runtime rather than the guest linking against a
// separate create/create2 import.
func pCreateContract(ctx *primCtx, args []int64) ([]int64, *Error) {
	value, err := ctx.mem.ReadWord("createContract", arg32(args, 0))
	if err != nil {
		return nil, err
	}
	codeOff, codeLen := arg32(args, 1), arg32(args, 2)
	code, err := ctx.mem.ReadBytes("createContract", codeOff, codeLen)
	if err != nil {
		return nil, err
	}
	dataOff, dataLen := arg32(args, 3), arg32(args, 4)
	data, err := ctx.mem.ReadBytes("createContract", dataOff, dataLen)
	if err != nil {
		return nil, err
	}
	salt, err := ctx.mem.ReadWord("createContract", arg32(args, 5))
	if err != nil {
		return nil, err
	}
	isCreate2 := arg32(args, 6) != 0
	resAddrOff := arg32(args, 7)

	res := ctx.host.CreateContract(ctx.frame, value, code, data, salt, isCreate2)
	ctx.frame.SetLastReturnData(res.ReturnData)
	if !res.Success {
		return []int64{1}, nil
	}
	if err := ctx.mem.WriteAddress("createContract", resAddrOff, res.ContractAddress); err != nil {
		return nil, err
	}
	return []int64{0}, nil
}

// --- Cryptography and modular arithmetic ---

func pSHA256(ctx *primCtx, args []int64) ([]int64, *Error) {
	data, err := ctx.mem.ReadBytes("sha256", arg32(args, 0), arg32(args, 1))
	if err != nil {
		return nil, err
	}
	return writeWordResult(ctx, "sha256", arg32(args, 2), ctx.host.SHA256(data))
}

func pKeccak256(ctx *primCtx, args []int64) ([]int64, *Error) {
	data, err := ctx.mem.ReadBytes("keccak256", arg32(args, 0), arg32(args, 1))
	if err != nil {
		return nil, err
	}
	return writeWordResult(ctx, "keccak256", arg32(args, 2), ctx.host.Keccak256(data))
}

func readThreeWords(ctx *primCtx, name string, args []int64) (a, b, n types.Word, err *Error) {
	a, err = ctx.mem.ReadWord(name, arg32(args, 0))
	if err != nil {
		return
	}
	b, err = ctx.mem.ReadWord(name, arg32(args, 1))
	if err != nil {
		return
	}
	n, err = ctx.mem.ReadWord(name, arg32(args, 2))
	return
}

func pAddMod(ctx *primCtx, args []int64) ([]int64, *Error) {
	a, b, n, err := readThreeWords(ctx, "addmod", args)
	if err != nil {
		return nil, err
	}
	return writeWordResult(ctx, "addmod", arg32(args, 3), ctx.host.AddMod(a, b, n))
}

func pMulMod(ctx *primCtx, args []int64) ([]int64, *Error) {
	a, b, n, err := readThreeWords(ctx, "mulmod", args)
	if err != nil {
		return nil, err
	}
	return writeWordResult(ctx, "mulmod", arg32(args, 3), ctx.host.MulMod(a, b, n))
}

func pExpMod(ctx *primCtx, args []int64) ([]int64, *Error) {
	base, exp, mod, err := readThreeWords(ctx, "expmod", args)
	if err != nil {
		return nil, err
	}
	return writeWordResult(ctx, "expmod", arg32(args, 3), ctx.host.ExpMod(base, exp, mod))
}
