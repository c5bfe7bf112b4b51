package vm

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/eth2030/evmbridge/core/types"
)

func TestSHA256EmptyVector(t *testing.T) {
	var c DefaultCrypto
	got := c.SHA256(nil)
	want := mustHex(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855")
	if got != want {
		t.Fatalf("got %x want %x", got, want)
	}
}

func TestKeccak256EmptyVector(t *testing.T) {
	var c DefaultCrypto
	got := c.Keccak256(nil)
	want := mustHex(t, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470")
	if got != want {
		t.Fatalf("got %x want %x", got, want)
	}
}

func TestKeccak256Selector(t *testing.T) {
	var c DefaultCrypto
	got := c.Keccak256([]byte("transfer(address,uint256)"))
	want := mustHex(t, "a9059cbb2ab09eb219583f4a59a5d0623ade346d962bcd4e46b11da047c9049b")
	if got != want {
		t.Fatalf("got %x want %x", got, want)
	}
}

func TestAddModZeroModulus(t *testing.T) {
	var c DefaultCrypto
	got := c.AddMod(types.Uint64ToWord(5), types.Uint64ToWord(5), types.Word{})
	if !got.IsZero() {
		t.Fatalf("expected zero, got %x", got)
	}
}

func TestMulModZeroModulus(t *testing.T) {
	var c DefaultCrypto
	got := c.MulMod(types.Uint64ToWord(5), types.Uint64ToWord(5), types.Word{})
	if !got.IsZero() {
		t.Fatalf("expected zero, got %x", got)
	}
}

func TestAddModOverflow(t *testing.T) {
	var c DefaultCrypto
	maxWord := types.BytesToWord(bytesOfAllOnes(32))
	got := c.AddMod(maxWord, types.Uint64ToWord(100), types.Uint64ToWord(7))
	// (2^256 - 1 + 100) mod 7 == 3, per spec.md scenario 3.
	want := types.Uint64ToWord(3)
	if got != want {
		t.Fatalf("got %x want %x", got, want)
	}
}

func TestExpModZeroModulus(t *testing.T) {
	var c DefaultCrypto
	got := c.ExpMod(types.Uint64ToWord(3), types.Uint64ToWord(4), types.Word{})
	if !got.IsZero() {
		t.Fatalf("expected zero, got %x", got)
	}
}

func TestExpModZeroExponent(t *testing.T) {
	var c DefaultCrypto
	got := c.ExpMod(types.Uint64ToWord(0), types.Uint64ToWord(0), types.Uint64ToWord(5))
	want := types.Uint64ToWord(1)
	if got != want {
		t.Fatalf("0^0 mod n (n>1) must be 1: got %x want %x", got, want)
	}
}

func TestExpModZeroBasePositiveExponent(t *testing.T) {
	var c DefaultCrypto
	got := c.ExpMod(types.Uint64ToWord(0), types.Uint64ToWord(5), types.Uint64ToWord(11))
	if !got.IsZero() {
		t.Fatalf("0^e mod n for e>0 must be 0, got %x", got)
	}
}

func TestExpModKnownValue(t *testing.T) {
	var c DefaultCrypto
	// 2^10 mod 1000 = 1024 mod 1000 = 24
	got := c.ExpMod(types.Uint64ToWord(2), types.Uint64ToWord(10), types.Uint64ToWord(1000))
	want := types.Uint64ToWord(24)
	if got != want {
		t.Fatalf("got %x want %x", got, want)
	}
}

func mustHex(t *testing.T, s string) types.Word {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex fixture: %v", err)
	}
	return types.BytesToWord(b)
}

func bytesOfAllOnes(n int) []byte {
	max := new(big.Int).Lsh(big.NewInt(1), uint(8*n))
	max.Sub(max, big.NewInt(1))
	b := max.Bytes()
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}
