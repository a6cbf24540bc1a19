// Package memory adapts live wazero memories to the weval.Memory interface.
package memory

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-weval/errors"
)

const label = "live memory"

// Wrap wraps a wazero api.Memory. It returns nil for a nil memory.
func Wrap(mem api.Memory) *Wrapper {
	if mem == nil {
		return nil
	}
	return &Wrapper{Mem: mem}
}

// Wrapper adapts wazero api.Memory to weval.Memory and weval.MemorySizer.
type Wrapper struct {
	Mem api.Memory
}

func readErr(offset uint32, size uint32, length uint32) error {
	return errors.OutOfBounds(errors.PhaseRead, []string{label}, uint64(offset), size, int(length))
}

func writeErr(offset uint32, size uint32, length uint32) error {
	return errors.OutOfBounds(errors.PhaseWrite, []string{label}, uint64(offset), size, int(length))
}

// Size returns the current size in bytes.
func (m *Wrapper) Size() uint32 {
	return m.Mem.Size()
}

// Read returns a view of length bytes at offset. The view aliases the live
// memory and is invalidated when it grows.
func (m *Wrapper) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.Mem.Read(offset, length)
	if !ok {
		return nil, readErr(offset, length, m.Mem.Size())
	}
	return data, nil
}

// Write copies data to offset.
func (m *Wrapper) Write(offset uint32, data []byte) error {
	if !m.Mem.Write(offset, data) {
		return writeErr(offset, uint32(len(data)), m.Mem.Size())
	}
	return nil
}

func (m *Wrapper) ReadU8(offset uint32) (uint8, error) {
	v, ok := m.Mem.ReadByte(offset)
	if !ok {
		return 0, readErr(offset, 1, m.Mem.Size())
	}
	return v, nil
}

func (m *Wrapper) ReadU16(offset uint32) (uint16, error) {
	v, ok := m.Mem.ReadUint16Le(offset)
	if !ok {
		return 0, readErr(offset, 2, m.Mem.Size())
	}
	return v, nil
}

func (m *Wrapper) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.Mem.ReadUint32Le(offset)
	if !ok {
		return 0, readErr(offset, 4, m.Mem.Size())
	}
	return v, nil
}

func (m *Wrapper) ReadU64(offset uint32) (uint64, error) {
	v, ok := m.Mem.ReadUint64Le(offset)
	if !ok {
		return 0, readErr(offset, 8, m.Mem.Size())
	}
	return v, nil
}

func (m *Wrapper) WriteU8(offset uint32, value uint8) error {
	if !m.Mem.WriteByte(offset, value) {
		return writeErr(offset, 1, m.Mem.Size())
	}
	return nil
}

func (m *Wrapper) WriteU16(offset uint32, value uint16) error {
	if !m.Mem.WriteUint16Le(offset, value) {
		return writeErr(offset, 2, m.Mem.Size())
	}
	return nil
}

func (m *Wrapper) WriteU32(offset uint32, value uint32) error {
	if !m.Mem.WriteUint32Le(offset, value) {
		return writeErr(offset, 4, m.Mem.Size())
	}
	return nil
}

func (m *Wrapper) WriteU64(offset uint32, value uint64) error {
	if !m.Mem.WriteUint64Le(offset, value) {
		return writeErr(offset, 8, m.Mem.Size())
	}
	return nil
}
