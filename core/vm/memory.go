package vm

import (
	"github.com/eth2030/evmbridge/core/types"
)

// GuestMemory is the narrow accessor the bridge uses to reach an engine
// instance's linear memory. It mirrors the engine interface consumed by
// the bridge (§6): validate_wasm_addr, get_host_memory. An implementation
// owns no data of its own; it is obtained fresh from the engine for every
// primitive invocation and every nested call, which is what keeps the
// bridge itself stateless and re-entrancy-safe (§9 design notes).
type GuestMemory interface {
	// ValidateRange reports whether [offset, offset+length) lies entirely
	// within the instance's addressable linear memory.
	ValidateRange(offset, length uint32) bool
	// Read returns a copy of length bytes starting at offset. The caller
	// must have validated the range first.
	Read(offset, length uint32) []byte
	// Write copies data into memory starting at offset. The caller must
	// have validated the range first.
	Write(offset uint32, data []byte)
}

// MemoryBridge provides validated read/write access to a GuestMemory. It
// owns no state beyond the instance handle it wraps, so a fresh
// MemoryBridge is cheap to construct per primitive call.
type MemoryBridge struct {
	mem GuestMemory
}

// NewMemoryBridge wraps mem for bounds-checked access.
func NewMemoryBridge(mem GuestMemory) *MemoryBridge {
	return &MemoryBridge{mem: mem}
}

// ValidateRange delegates to the engine's own bounds predicate.
func (b *MemoryBridge) ValidateRange(offset, length uint32) bool {
	return b.mem.ValidateRange(offset, length)
}

// ReadBytes reads length bytes at offset, failing with OutOfBounds if the
// range is invalid.
func (b *MemoryBridge) ReadBytes(primitive string, offset, length uint32) ([]byte, *Error) {
	if !b.mem.ValidateRange(offset, length) {
		return nil, OutOfBoundsError(offset, length, primitive, "read out of bounds")
	}
	return b.mem.Read(offset, length), nil
}

// WriteBytes writes data at offset, failing with OutOfBounds if the range
// is invalid. Validation happens before any partial write occurs.
func (b *MemoryBridge) WriteBytes(primitive string, offset uint32, data []byte) *Error {
	if !b.mem.ValidateRange(offset, uint32(len(data))) {
		return OutOfBoundsError(offset, uint32(len(data)), primitive, "write out of bounds")
	}
	b.mem.Write(offset, data)
	return nil
}

// ReadWord reads a 32-octet Word at offset.
func (b *MemoryBridge) ReadWord(primitive string, offset uint32) (types.Word, *Error) {
	data, err := b.ReadBytes(primitive, offset, types.WordLength)
	if err != nil {
		return types.Word{}, err
	}
	var w types.Word
	copy(w[:], data)
	return w, nil
}

// WriteWord writes a 32-octet Word at offset.
func (b *MemoryBridge) WriteWord(primitive string, offset uint32, w types.Word) *Error {
	return b.WriteBytes(primitive, offset, w[:])
}

// ReadAddress reads a 20-octet Address at offset.
func (b *MemoryBridge) ReadAddress(primitive string, offset uint32) (types.Address, *Error) {
	data, err := b.ReadBytes(primitive, offset, types.AddressLength)
	if err != nil {
		return types.Address{}, err
	}
	var a types.Address
	copy(a[:], data)
	return a, nil
}

// WriteAddress writes a 20-octet Address at offset.
func (b *MemoryBridge) WriteAddress(primitive string, offset uint32, a types.Address) *Error {
	return b.WriteBytes(primitive, offset, a[:])
}

// ValidateAddressParam rejects a negative offset and verifies the full
// 20-byte range is accessible, returning the canonicalised unsigned
// offset. The primitives in primitives.go do not call it: they convert
// offsets with a plain uint32 conversion, so a negative offset reaches the
// read/write bounds check as a large unsigned value and fails there as
// OutOfBounds, not InvalidParameter.
func (b *MemoryBridge) ValidateAddressParam(primitive string, offset int32) (uint32, *Error) {
	return b.validateScalarParam(primitive, offset, types.AddressLength)
}

// ValidateWordParam rejects a negative offset and verifies the full
// 32-byte range is accessible, returning the canonicalised unsigned
// offset. The primitives in primitives.go do not call it (see
// ValidateAddressParam).
func (b *MemoryBridge) ValidateWordParam(primitive string, offset int32) (uint32, *Error) {
	return b.validateScalarParam(primitive, offset, types.WordLength)
}

func (b *MemoryBridge) validateScalarParam(primitive string, offset int32, size uint32) (uint32, *Error) {
	if offset < 0 {
		return 0, InvalidParameterError("offset", "negative", primitive)
	}
	off := uint32(offset)
	if !b.mem.ValidateRange(off, size) {
		return 0, OutOfBoundsError(off, size, primitive, "parameter out of bounds")
	}
	return off, nil
}

// ValidateDataParam rejects negative offset/length and verifies the full
// declared range is accessible, returning canonicalised unsigned
// offset/length. The primitives in primitives.go do not call it (see
// ValidateAddressParam).
func (b *MemoryBridge) ValidateDataParam(primitive string, offset, length int32) (uint32, uint32, *Error) {
	if offset < 0 {
		return 0, 0, InvalidParameterError("offset", "negative", primitive)
	}
	if length < 0 {
		return 0, 0, InvalidParameterError("length", "negative", primitive)
	}
	off, ln := uint32(offset), uint32(length)
	if !b.mem.ValidateRange(off, ln) {
		return 0, 0, OutOfBoundsError(off, ln, primitive, "parameter out of bounds")
	}
	return off, ln, nil
}

// ZeroFillCopy implements the EVM "copy" semantics shared by
// callDataCopy/codeCopy/externalCodeCopy/returnDataCopy (§4.3 zero-fill
// rule): exactly len bytes are written to dest, with up to
// min(len, max(0, len(source)-src)) bytes coming from source starting at
// src and the remainder zero-filled. Negative src is the caller's error to
// raise before calling this.
func ZeroFillCopy(source []byte, src uint32, length uint32) []byte {
	buf := make([]byte, length)
	if int(src) >= len(source) {
		return buf
	}
	available := uint32(len(source)) - src
	n := length
	if available < n {
		n = available
	}
	copy(buf[:n], source[src:src+n])
	return buf
}
