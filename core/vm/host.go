package vm

import (
	"crypto/sha256"

	"github.com/eth2030/evmbridge/core/types"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// Host abstracts the blockchain state and side-effect sinks so the bridge
// works identically against a real node, a mock, or a test harness (§4.2).
// Every method is called with the Frame it pertains to, since spec.md
// models the bridge as stateless: the Host never owns frame identity, only
// persistent backend state (balances, external code) and the sinks that a
// frame's primitives write through.
type Host interface {
	// Identity
	GetAddress(f *Frame) types.Address
	GetCaller(f *Frame) types.Address
	GetTxOrigin(f *Frame) types.Address

	// Environment
	GetCallValue(f *Frame) types.Word
	GetChainID(f *Frame) types.Word
	GetBlockNumber(f *Frame) int64
	GetBlockTimestamp(f *Frame) int64
	GetBlockGasLimit(f *Frame) int64
	GetBlockCoinbase(f *Frame) types.Address
	GetBlockPrevRandao(f *Frame) types.Word
	GetBlockHash(f *Frame, number int64) (types.Word, bool)
	GetBaseFee(f *Frame) types.Word
	GetBlobBaseFee(f *Frame) types.Word
	GetTxGasPrice(f *Frame) types.Word
	GetGasLeft(f *Frame, engineGasLeft int64) int64

	// Inputs
	CallData(f *Frame) []byte
	ContractCode(f *Frame) []byte

	// State
	StorageStore(f *Frame, key, value types.Word) *Error
	StorageLoad(f *Frame, key types.Word) types.Word

	// External accounts
	ExternalBalance(f *Frame, addr types.Address) types.Word
	ExternalCodeSize(f *Frame, addr types.Address) (int32, bool)
	ExternalCodeHash(f *Frame, addr types.Address) (types.Word, bool)
	ExternalCodeCopy(f *Frame, addr types.Address) ([]byte, bool)

	// Control sinks
	OnFinish(f *Frame, data []byte)
	OnRevert(f *Frame, data []byte)
	OnInvalid(f *Frame)
	SelfDestruct(f *Frame, recipient types.Address) types.Word

	// Side effects
	EmitLogEvent(f *Frame, ev types.LogEvent)

	// Inter-contract calls
	CallContract(f *Frame, gas int64, addr types.Address, value types.Word, data []byte) types.ContractCallResult
	CallCode(f *Frame, gas int64, addr types.Address, value types.Word, data []byte) types.ContractCallResult
	CallDelegate(f *Frame, gas int64, addr types.Address, data []byte) types.ContractCallResult
	CallStatic(f *Frame, gas int64, addr types.Address, data []byte) types.ContractCallResult
	CreateContract(f *Frame, value types.Word, code, data []byte, salt types.Word, isCreate2 bool) types.ContractCreateResult

	// Cryptography and modular arithmetic (pure; DefaultCrypto provides the
	// canonical implementation and is safe to embed).
	SHA256(data []byte) types.Word
	Keccak256(data []byte) types.Word
	AddMod(a, b, n types.Word) types.Word
	MulMod(a, b, n types.Word) types.Word
	ExpMod(base, exp, mod types.Word) types.Word
}

// DefaultCrypto implements the pure, stateless portion of Host (§4.2
// "Default implementations"): the two hash functions and the three
// modular-arithmetic primitives. Concrete Host implementations embed this
// to avoid re-deriving the EVM edge cases.
type DefaultCrypto struct{}

// SHA256 hashes data with the standard library's SHA-256. No third-party
// implementation appears anywhere in the retrieved pack for this
// algorithm (the Rust source's own `sha2` crate is the direct analogue of
// Go's crypto/sha256), so the standard library is the grounded choice.
func (DefaultCrypto) SHA256(data []byte) types.Word {
	sum := sha256.Sum256(data)
	return types.Word(sum)
}

// Keccak256 hashes data with Keccak-256 (not NIST SHA-3), matching
// Ethereum's hash function, via golang.org/x/crypto/sha3 — the same
// package the teacher's ewasm_precompiles.go uses for its own keccak
// hashing.
func (DefaultCrypto) Keccak256(data []byte) types.Word {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	var out types.Word
	h.Sum(out[:0])
	return out
}

// AddMod computes (a+b) mod n over 256-bit big-endian operands, honouring
// the EVM rule that a zero modulus yields zero.
func (DefaultCrypto) AddMod(a, b, n types.Word) types.Word {
	nu := n.Uint256()
	if nu.IsZero() {
		return types.Word{}
	}
	au, bu := a.Uint256(), b.Uint256()
	var sum uint256.Int
	sum.AddMod(au, bu, nu)
	return types.WordFromUint256(&sum)
}

// MulMod computes (a*b) mod n over 256-bit big-endian operands, honouring
// the EVM rule that a zero modulus yields zero.
func (DefaultCrypto) MulMod(a, b, n types.Word) types.Word {
	nu := n.Uint256()
	if nu.IsZero() {
		return types.Word{}
	}
	au, bu := a.Uint256(), b.Uint256()
	var prod uint256.Int
	prod.MulMod(au, bu, nu)
	return types.WordFromUint256(&prod)
}

// ExpMod computes (base^exp) mod n over 256-bit big-endian operands,
// applying the EVM-specific edge cases spec.md §4.2/§8 enumerate:
//
//	n == 0                -> 0
//	n == 1                -> 0
//	exp == 0, n > 1       -> 1   (0^0 included)
//	base == 0, exp>0, n>1 -> 0
//
// uint256.Int has no built-in arbitrary-modulus exponentiation (Exp wraps
// at 2^256, not an arbitrary modulus), so the remaining case is computed
// by textbook binary square-and-multiply on top of the library's own
// MulMod, the same primitive the addmod/mulmod defaults use.
func (DefaultCrypto) ExpMod(base, exp, mod types.Word) types.Word {
	modU := mod.Uint256()
	if modU.IsZero() || modU.Eq(uint256.NewInt(1)) {
		return types.Word{}
	}
	expU := exp.Uint256()
	if expU.IsZero() {
		return types.WordFromUint256(uint256.NewInt(1))
	}
	baseU := base.Uint256()
	if baseU.IsZero() {
		return types.Word{}
	}
	result := expModBySquaring(baseU, expU, modU)
	return types.WordFromUint256(result)
}

// expModBySquaring computes base^exp mod m for m > 1, exp > 0, base > 0.
func expModBySquaring(base, exp, m *uint256.Int) *uint256.Int {
	result := uint256.NewInt(1)
	b := new(uint256.Int).Mod(base, m)
	e := new(uint256.Int).Set(exp)
	one := uint256.NewInt(1)
	for !e.IsZero() {
		var bit uint256.Int
		bit.And(e, one)
		if !bit.IsZero() {
			result.MulMod(result, b, m)
		}
		b.MulMod(b, b, m)
		e.Rsh(e, 1)
	}
	return result
}
