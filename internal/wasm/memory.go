package wasm

import (
	"bytes"
	"encoding/binary"

	"github.com/tetratelabs/wazero/api"
)

// DefaultMaxStringLen caps NUL-terminated string reads from guest memory.
const DefaultMaxStringLen = 1 << 20

// stringChunk is how many bytes ReadCString inspects per step.
const stringChunk = 256

// MemoryAccess is the subset of api.Memory used by Memory.
// api.Memory satisfies it; tests can back it with a plain byte slice.
type MemoryAccess interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
	ReadUint32Le(offset uint32) (uint32, bool)
	Write(offset uint32, v []byte) bool
	WriteUint32Le(offset, v uint32) bool
}

// Memory provides safe memory operations for Wasm module interaction.
//
// Wasm modules have their own isolated memory space that is separate from Go's memory.
// Every read is bounds-checked and every value returned is copied out of the
// guest, so it stays valid after the guest frees or reuses the region.
type Memory struct {
	mem MemoryAccess
}

// NewMemory creates a memory helper for a module's exported memory.
func NewMemory(module api.Module) *Memory {
	return &Memory{mem: module.Memory()}
}

// WrapMemory creates a memory helper over any MemoryAccess.
func WrapMemory(mem MemoryAccess) *Memory {
	return &Memory{mem: mem}
}

// Size returns the current memory size in bytes.
func (m *Memory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// ReadString reads a null-terminated string of at most maxLen bytes from a
// fixed window. The window must lie entirely inside memory.
func (m *Memory) ReadString(ptr uint32, maxLen uint32) (string, bool) {
	buf, ok := m.mem.Read(ptr, maxLen)
	if !ok {
		return "", false
	}

	end := len(buf)
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		end = i
	}

	return string(buf[:end]), true
}

// ReadCString reads a NUL-terminated string starting at ptr, scanning forward
// until the terminator, the end of memory, or DefaultMaxStringLen bytes.
func (m *Memory) ReadCString(ptr uint32) (string, error) {
	size := m.Size()
	if ptr >= size {
		return "", &MemoryAccessError{Operation: "read_cstring", Address: ptr, Length: 1, Err: errOutOfRange}
	}

	var out []byte
	offset := ptr
	for offset < size && uint32(len(out)) < DefaultMaxStringLen {
		n := uint32(stringChunk)
		if remaining := size - offset; remaining < n {
			n = remaining
		}
		buf, ok := m.mem.Read(offset, n)
		if !ok {
			return "", &MemoryAccessError{Operation: "read_cstring", Address: offset, Length: n, Err: errOutOfRange}
		}
		if i := bytes.IndexByte(buf, 0); i >= 0 {
			out = append(out, buf[:i]...)
			return string(out), nil
		}
		out = append(out, buf...)
		offset += n
	}

	return "", &MemoryAccessError{Operation: "read_cstring", Address: ptr, Length: uint32(len(out)), Err: errUnterminated}
}

// ReadOptionalCString reads a string pointer, mapping NULL to nil.
func (m *Memory) ReadOptionalCString(ptr uint32) (*string, error) {
	if ptr == 0 {
		return nil, nil
	}
	s, err := m.ReadCString(ptr)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ReadBytes reads raw bytes from Wasm memory.
func (m *Memory) ReadBytes(ptr uint32, length uint32) ([]byte, bool) {
	return m.mem.Read(ptr, length)
}

// ReadUint32 reads a little-endian uint32.
func (m *Memory) ReadUint32(ptr uint32) (uint32, error) {
	v, ok := m.mem.ReadUint32Le(ptr)
	if !ok {
		return 0, &MemoryAccessError{Operation: "read_uint32", Address: ptr, Length: 4, Err: errOutOfRange}
	}
	return v, nil
}

// ReadInt32 reads a little-endian int32.
func (m *Memory) ReadInt32(ptr uint32) (int32, error) {
	v, err := m.ReadUint32(ptr)
	return int32(v), err
}

// WriteUint32 writes a little-endian uint32.
func (m *Memory) WriteUint32(ptr uint32, v uint32) error {
	if !m.mem.WriteUint32Le(ptr, v) {
		return &MemoryAccessError{Operation: "write_uint32", Address: ptr, Length: 4, Err: errOutOfRange}
	}
	return nil
}

// WriteBytes writes bytes at ptr.
func (m *Memory) WriteBytes(ptr uint32, data []byte) error {
	if !m.mem.Write(ptr, data) {
		return &MemoryAccessError{Operation: "write", Address: ptr, Length: uint32(len(data)), Err: errOutOfRange}
	}
	return nil
}

// WriteCString writes s followed by a NUL terminator at ptr.
// The region must hold len(s)+1 bytes.
func (m *Memory) WriteCString(ptr uint32, s string) error {
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	return m.WriteBytes(ptr, buf)
}

// Zero clears length bytes at ptr.
func (m *Memory) Zero(ptr uint32, length uint32) error {
	return m.WriteBytes(ptr, make([]byte, length))
}

// PutUint32 encodes v into buf at offset, for building structs before a single write.
func PutUint32(buf []byte, offset uint32, v uint32) {
	binary.LittleEndian.PutUint32(buf[offset:], v)
}
