package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/eth2030/evmbridge/core/types"
	"github.com/eth2030/evmbridge/core/vm"
	"github.com/eth2030/evmbridge/gasmeter"
	"github.com/eth2030/evmbridge/log"
)

var runLog = log.Module("cmd")

// runParams collects everything a single bridge invocation needs, decoupled
// from how those values were obtained (CLI flags in production, struct
// literals in tests) — the same shape as the teacher's ethConfigParams/
// nodeConfigParams split between flag parsing and the logic those flags
// drive.
type runParams struct {
	modulePath string
	entry      string // "call" or "deploy"
	gasBudget  int64

	meter             bool
	instructionCost   uint64
	memoryGrowCost    uint64
	callPerLocalCost  uint64

	address   string
	caller    string
	origin    string
	value     string
	balance   string
	callData  string
}

// runReport is what runBridge hands back to the caller to print or assert
// on; it never touches stdout/stderr itself so tests can inspect it
// directly.
type runReport struct {
	Status      string
	GasUsed     int64
	ReturnData  []byte
	Events      int
	Err         error
	MeteredSize int // 0 when meter wasn't requested
}

// runBridge loads the module at p.modulePath, optionally runs it through
// the gas-metering transform, and drives one call or deploy invocation
// through a MockHost. It is the single chokepoint both the CLI Action and
// this package's tests call into.
func runBridge(p runParams) (runReport, error) {
	code, err := os.ReadFile(p.modulePath)
	if err != nil {
		return runReport{}, fmt.Errorf("reading module: %w", err)
	}

	report := runReport{}
	if p.meter {
		rules := gasmeter.NewConstantCostRules(p.instructionCost, p.memoryGrowCost, p.callPerLocalCost)
		instrumented, err := gasmeter.TransformWithRules(code, rules)
		if err != nil {
			return runReport{}, fmt.Errorf("metering module: %w", err)
		}
		code = instrumented
		report.MeteredSize = len(code)
	}

	address, err := decodeAddress(p.address)
	if err != nil {
		return runReport{}, fmt.Errorf("address: %w", err)
	}
	caller, err := decodeAddress(p.caller)
	if err != nil {
		return runReport{}, fmt.Errorf("caller: %w", err)
	}
	origin, err := decodeAddress(p.origin)
	if err != nil {
		return runReport{}, fmt.Errorf("origin: %w", err)
	}
	value, err := decodeWord(p.value)
	if err != nil {
		return runReport{}, fmt.Errorf("value: %w", err)
	}
	callData, err := decodeBytes(p.callData)
	if err != nil {
		return runReport{}, fmt.Errorf("calldata: %w", err)
	}

	host := vm.NewMockHost()
	if p.balance != "" {
		balance, err := decodeWord(p.balance)
		if err != nil {
			return runReport{}, fmt.Errorf("balance: %w", err)
		}
		host.WithBalance(address, balance)
	}

	exec := vm.NewContractExecutor(host)
	host.SetExecutor(exec)

	deploy := p.entry == "deploy"
	frame, res := exec.Execute(address, caller, origin, value, callData, code, p.gasBudget, deploy)

	runLog.Debug("bridge run finished",
		"entry", p.entry, "status", res.Status.String(), "gas_used", res.GasUsed)

	report.Status = res.Status.String()
	report.GasUsed = res.GasUsed
	report.ReturnData = res.ReturnData
	report.Events = len(frame.Events())
	if res.Err != nil {
		report.Err = res.Err
	}
	return report, nil
}

func decodeAddress(s string) (types.Address, error) {
	b, err := decodeBytes(s)
	if err != nil {
		return types.Address{}, err
	}
	return types.BytesToAddress(b), nil
}

func decodeWord(s string) (types.Word, error) {
	b, err := decodeBytes(s)
	if err != nil {
		return types.Word{}, err
	}
	return types.BytesToWord(b), nil
}

// decodeBytes decodes s as hex, tolerating an optional "0x" prefix and an
// empty string (treated as no bytes at all).
func decodeBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}
