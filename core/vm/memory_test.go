package vm

import (
	"bytes"
	"testing"

	"github.com/eth2030/evmbridge/core/types"
)

// fakeMemory is a flat byte slice used to exercise MemoryBridge without an
// engine.
type fakeMemory struct {
	buf []byte
}

func newFakeMemory(size int) *fakeMemory { return &fakeMemory{buf: make([]byte, size)} }

func (f *fakeMemory) ValidateRange(offset, length uint32) bool {
	end := uint64(offset) + uint64(length)
	return end <= uint64(len(f.buf))
}

func (f *fakeMemory) Read(offset, length uint32) []byte {
	out := make([]byte, length)
	copy(out, f.buf[offset:offset+length])
	return out
}

func (f *fakeMemory) Write(offset uint32, data []byte) {
	copy(f.buf[offset:], data)
}

func TestMemoryBridgeReadWriteWord(t *testing.T) {
	mem := newFakeMemory(64)
	b := NewMemoryBridge(mem)
	var w types.Word
	w[31] = 0x42
	if err := b.WriteWord("test", 0, w); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := b.ReadWord("test", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != w {
		t.Fatalf("got %x want %x", got, w)
	}
}

func TestMemoryBridgeOutOfBounds(t *testing.T) {
	mem := newFakeMemory(16)
	b := NewMemoryBridge(mem)
	if _, err := b.ReadBytes("test", 10, 10); err == nil {
		t.Fatal("expected out of bounds error")
	}
}

func TestMemoryBridgeNoPartialWriteOnFailure(t *testing.T) {
	mem := newFakeMemory(16)
	b := NewMemoryBridge(mem)
	before := append([]byte(nil), mem.buf...)
	if err := b.WriteBytes("test", 8, make([]byte, 100)); err == nil {
		t.Fatal("expected error")
	}
	if !bytes.Equal(before, mem.buf) {
		t.Fatal("memory was modified despite validation failure")
	}
}

func TestValidateAddressParamRejectsNegative(t *testing.T) {
	mem := newFakeMemory(64)
	b := NewMemoryBridge(mem)
	if _, err := b.ValidateAddressParam("test", -1); err == nil {
		t.Fatal("expected error for negative offset")
	}
}

func TestZeroFillCopyWithinBounds(t *testing.T) {
	source := []byte{1, 2, 3, 4, 5}
	got := ZeroFillCopy(source, 1, 3)
	want := []byte{2, 3, 4}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestZeroFillCopyBeyondSource(t *testing.T) {
	source := []byte{1, 2, 3}
	got := ZeroFillCopy(source, 2, 5)
	want := []byte{3, 0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestZeroFillCopySrcPastEnd(t *testing.T) {
	source := []byte{1, 2, 3}
	got := ZeroFillCopy(source, 10, 4)
	want := []byte{0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
