package vm

import (
	"testing"

	"github.com/eth2030/evmbridge/core/types"
)

func newWiredMockHost() (*MockHost, *ContractExecutor) {
	host := NewMockHost()
	exec := NewContractExecutor(host)
	host.SetExecutor(exec)
	return host, exec
}

func TestGetBlockHashBoundsCheck(t *testing.T) {
	host := NewMockHost().WithBlockNumber(10).WithBlockHash(5, types.Word{1})
	f := NewRootFrame(types.Address{}, types.Address{}, types.Address{}, types.Word{}, nil, nil)

	if hash, ok := host.GetBlockHash(f, 5); !ok || hash != (types.Word{1}) {
		t.Fatalf("GetBlockHash(5) = %v, %v, want {1}, true", hash, ok)
	}
	if _, ok := host.GetBlockHash(f, 10); ok {
		t.Fatal("GetBlockHash(current block) should not be found")
	}
	if _, ok := host.GetBlockHash(f, -1); ok {
		t.Fatal("GetBlockHash(negative) should not be found")
	}
	if _, ok := host.GetBlockHash(f, 999); ok {
		t.Fatal("GetBlockHash(future block) should not be found")
	}
}

func TestCallContractFallsBackToParentCodeForUnregisteredAddress(t *testing.T) {
	host, _ := newWiredMockHost()
	parent := NewRootFrame(types.Address{1}, types.Address{}, types.Address{}, types.Word{}, nil, buildFinishModule("call"))

	res := host.CallContract(parent, 1_000_000, types.Address{9}, types.Word{}, nil)
	if !res.Success {
		t.Fatalf("CallContract to an unregistered address should fall back to the parent's own code, got %+v", res)
	}
}

func TestCallContractRunsRegisteredChildCode(t *testing.T) {
	host, _ := newWiredMockHost()
	target := types.Address{2}
	parent := NewRootFrame(types.Address{1}, types.Address{}, types.Address{}, types.Word{}, nil, nil)
	parent.Shared.Register(target, "child", buildFinishModule("call"))

	res := host.CallContract(parent, 1_000_000, target, types.Word{}, nil)
	if !res.Success {
		t.Fatalf("CallContract to registered child = %+v, want success", res)
	}
}

func TestCallContractTransfersValue(t *testing.T) {
	host, _ := newWiredMockHost()
	host.WithBalance(types.Address{1}, types.Uint64ToWord(100))
	parent := NewRootFrame(types.Address{1}, types.Address{}, types.Address{}, types.Word{}, nil, nil)

	host.CallContract(parent, 1_000_000, types.Address{9}, types.Uint64ToWord(30), nil)

	if got := host.ExternalBalance(parent, types.Address{1}); got != types.Uint64ToWord(70) {
		t.Fatalf("sender balance = %v, want 70", got)
	}
	if got := host.ExternalBalance(parent, types.Address{9}); got != types.Uint64ToWord(30) {
		t.Fatalf("recipient balance = %v, want 30", got)
	}
}

func TestCallCodeRunsAtCallerAddress(t *testing.T) {
	host, _ := newWiredMockHost()
	target := types.Address{2}
	parent := NewRootFrame(types.Address{1}, types.Address{}, types.Address{}, types.Word{}, nil, nil)
	parent.Shared.Register(target, "child", buildFinishModule("call"))

	res := host.CallCode(parent, 1_000_000, target, types.Word{}, nil)
	if !res.Success {
		t.Fatalf("CallCode = %+v, want success", res)
	}
}

func TestCallStaticMarksChildFrameStatic(t *testing.T) {
	host, _ := newWiredMockHost()
	host.StrictStatic = true
	target := types.Address{2}

	// a child that tries to write storage, which StrictStatic must reject.
	code := buildStorageWriteModule()
	parent := NewRootFrame(types.Address{1}, types.Address{}, types.Address{}, types.Word{}, nil, nil)
	parent.Shared.Register(target, "child", code)

	res := host.CallStatic(parent, 1_000_000, target, nil)
	if res.Success {
		t.Fatal("CallStatic into a storage-writing child should fail under StrictStatic")
	}
}

func TestCreateContractRejectsEmptyCode(t *testing.T) {
	host, _ := newWiredMockHost()
	f := NewRootFrame(types.Address{1}, types.Address{}, types.Address{}, types.Word{}, nil, nil)

	res := host.CreateContract(f, types.Word{}, nil, nil, types.Word{}, false)
	if res.Success {
		t.Fatal("CreateContract with empty code should fail")
	}
}

func TestCreateContractRegistersNewAddressOnSuccess(t *testing.T) {
	host, _ := newWiredMockHost()
	f := NewRootFrame(types.Address{1}, types.Address{}, types.Address{}, types.Word{}, nil, nil)
	f.Tx = TxInfo{GasLimit: 1_000_000}

	res := host.CreateContract(f, types.Word{}, buildFinishModule("deploy"), nil, types.Word{}, false)
	if !res.Success {
		t.Fatalf("CreateContract = %+v, want success", res)
	}
	if res.ContractAddress.IsZero() {
		t.Fatal("CreateContract should assign a nonzero placeholder address")
	}
	if entry := f.Shared.Lookup(res.ContractAddress); entry == nil {
		t.Fatal("successful CreateContract should register the new address")
	}
}

func TestCreate2UsesSaltInAddressDerivation(t *testing.T) {
	host, _ := newWiredMockHost()
	f1 := NewRootFrame(types.Address{1}, types.Address{}, types.Address{}, types.Word{}, nil, nil)
	f1.Tx = TxInfo{GasLimit: 1_000_000}
	f2 := NewRootFrame(types.Address{1}, types.Address{}, types.Address{}, types.Word{}, nil, nil)
	f2.Tx = TxInfo{GasLimit: 1_000_000}

	res1 := host.CreateContract(f1, types.Word{}, buildFinishModule("deploy"), nil, types.Word{1}, true)
	res2 := host.CreateContract(f2, types.Word{}, buildFinishModule("deploy"), nil, types.Word{2}, true)
	if res1.ContractAddress == res2.ContractAddress {
		t.Fatal("different salts should derive different placeholder addresses")
	}
}

func TestSelfDestructTransfersBalanceAndUnregisters(t *testing.T) {
	host := NewMockHost()
	host.WithBalance(types.Address{1}, types.Uint64ToWord(50))
	f := NewRootFrame(types.Address{1}, types.Address{}, types.Address{}, types.Word{}, nil, nil)
	f.Shared.Register(types.Address{1}, "self", []byte{0x00})

	gone := host.SelfDestruct(f, types.Address{9})
	if gone != types.Uint64ToWord(50) {
		t.Fatalf("SelfDestruct returned %v, want 50", gone)
	}
	if got := host.ExternalBalance(f, types.Address{1}); !got.IsZero() {
		t.Fatalf("self balance after destruct = %v, want 0", got)
	}
	if got := host.ExternalBalance(f, types.Address{9}); got != types.Uint64ToWord(50) {
		t.Fatalf("recipient balance = %v, want 50", got)
	}
	if f.Shared.Lookup(types.Address{1}) != nil {
		t.Fatal("SelfDestruct should unregister the contract")
	}
}

func TestTransferSaturatesAtZeroRatherThanGoingNegative(t *testing.T) {
	host := NewMockHost()
	host.WithBalance(types.Address{1}, types.Uint64ToWord(10))
	f := NewRootFrame(types.Address{1}, types.Address{}, types.Address{}, types.Word{}, nil, nil)

	host.transfer(types.Address{1}, types.Address{2}, types.Uint64ToWord(100))
	if got := host.ExternalBalance(f, types.Address{1}); !got.IsZero() {
		t.Fatalf("sender balance = %v, want saturated at 0", got)
	}
	if got := host.ExternalBalance(f, types.Address{2}); got != types.Uint64ToWord(100) {
		t.Fatalf("recipient balance = %v, want 100 (full amount still credited)", got)
	}
}

// buildStorageWriteModule assembles a module importing env.storageStore
// (i32,i32)->() with one memory page and a "call"-exported function that
// writes the zero key to the zero value.
func buildStorageWriteModule() []byte {
	var b []byte
	b = append(b, 0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00)

	typeBody := []byte{0x02, 0x60, 0x02, 0x7F, 0x7F, 0x00, 0x60, 0x00, 0x00}
	b = appendTestSection(b, secType, typeBody)

	importBody := []byte{
		0x01, 0x03, 'e', 'n', 'v',
		0x0C, 's', 't', 'o', 'r', 'a', 'g', 'e', 'S', 't', 'o', 'r', 'e',
		0x00, 0x00,
	}
	b = appendTestSection(b, secImport, importBody)

	b = appendTestSection(b, secFunction, []byte{0x01, 0x01})

	memBody := []byte{0x01, 0x00, 0x01}
	b = appendTestSection(b, secMemory, memBody)

	exportBody := []byte{0x01, 0x04, 'c', 'a', 'l', 'l', 0x00, 0x01}
	b = appendTestSection(b, secExport, exportBody)

	code := []byte{0x41, 0x00, 0x41, 0x00, 0x10, 0x00, 0x0B}
	fn := append([]byte{0x00}, code...)
	b = appendTestSection(b, secCode, append([]byte{0x01, byte(len(fn))}, fn...))

	return b
}
