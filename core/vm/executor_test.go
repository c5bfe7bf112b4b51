package vm

import (
	"testing"

	"github.com/eth2030/evmbridge/core/types"
)

// buildFinishModule assembles a module importing env.finish (i32,i32)->()
// with one memory page, a local function that calls finish with a
// zero-length buffer, exported under entryName.
func buildFinishModule(entryName string) []byte {
	var b []byte
	b = append(b, 0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00)

	// type 0: (i32, i32) -> (), type 1: () -> ()
	typeBody := []byte{0x02, 0x60, 0x02, 0x7F, 0x7F, 0x00, 0x60, 0x00, 0x00}
	b = appendTestSection(b, secType, typeBody)

	importBody := []byte{0x01, 0x03, 'e', 'n', 'v', 0x06, 'f', 'i', 'n', 'i', 's', 'h', 0x00, 0x00}
	b = appendTestSection(b, secImport, importBody)

	b = appendTestSection(b, secFunction, []byte{0x01, 0x01})

	memBody := []byte{0x01, 0x00, 0x01}
	b = appendTestSection(b, secMemory, memBody)

	nameBytes := []byte(entryName)
	exportBody := append([]byte{0x01, byte(len(nameBytes))}, nameBytes...)
	exportBody = append(exportBody, 0x00, 0x01) // kind func, idx 1 (past the import)
	b = appendTestSection(b, secExport, exportBody)

	// i32.const 0; i32.const 0; call 0 (finish); end
	code := []byte{0x41, 0x00, 0x41, 0x00, 0x10, 0x00, 0x0B}
	fn := append([]byte{0x00}, code...)
	b = appendTestSection(b, secCode, append([]byte{0x01, byte(len(fn))}, fn...))

	return b
}

func TestRunCallReachesFinished(t *testing.T) {
	host := NewMockHost()
	exec := NewContractExecutor(host)
	frame := NewRootFrame(types.Address{}, types.Address{}, types.Address{}, types.Word{}, nil, buildFinishModule("call"))

	res := exec.RunCall(frame, 1_000_000)
	if res.Err != nil {
		t.Fatalf("RunCall: %v", res.Err)
	}
	if res.Status != StatusFinished {
		t.Fatalf("status = %v, want Finished", res.Status)
	}
	if len(res.ReturnData) != 0 {
		t.Fatalf("return data = %v, want empty", res.ReturnData)
	}
}

func TestRunDeployReachesFinished(t *testing.T) {
	host := NewMockHost()
	exec := NewContractExecutor(host)
	frame := NewRootFrame(types.Address{}, types.Address{}, types.Address{}, types.Word{}, nil, buildFinishModule("deploy"))

	res := exec.RunDeploy(frame, 1_000_000)
	if res.Err != nil {
		t.Fatalf("RunDeploy: %v", res.Err)
	}
	if res.Status != StatusFinished {
		t.Fatalf("status = %v, want Finished", res.Status)
	}
}

func TestExecuteBuildsRootFrameAndDispatches(t *testing.T) {
	host := NewMockHost()
	exec := NewContractExecutor(host)

	frame, res := exec.Execute(types.Address{1}, types.Address{2}, types.Address{2}, types.Word{}, nil, buildFinishModule("call"), 1_000_000, false)
	if res.Err != nil {
		t.Fatalf("Execute(call): %v", res.Err)
	}
	if frame.Address != (types.Address{1}) {
		t.Fatalf("frame.Address = %v, want {1}", frame.Address)
	}
	if res.Status != StatusFinished {
		t.Fatalf("status = %v, want Finished", res.Status)
	}
}

func TestRunReportsZeroGasUsedWithoutMeter(t *testing.T) {
	host := NewMockHost()
	exec := NewContractExecutor(host)
	frame := NewRootFrame(types.Address{}, types.Address{}, types.Address{}, types.Word{}, nil, buildFinishModule("call"))

	res := exec.RunCall(frame, 5) // plenty for this tiny body; GasUsed should be 0 since it never imports the gas meter
	if res.Err != nil {
		t.Fatalf("RunCall: %v", res.Err)
	}
	if res.GasUsed != 0 {
		t.Fatalf("GasUsed = %d, want 0 (module never calls __instrumented_use_gas)", res.GasUsed)
	}
}

func TestRunParseErrorReturnsInvalid(t *testing.T) {
	host := NewMockHost()
	exec := NewContractExecutor(host)
	frame := NewRootFrame(types.Address{}, types.Address{}, types.Address{}, types.Word{}, nil, []byte("not wasm"))

	res := exec.RunCall(frame, 1_000_000)
	if res.Status != StatusInvalid {
		t.Fatalf("status = %v, want Invalid", res.Status)
	}
	if res.Err == nil {
		t.Fatal("expected a parse error")
	}
}
