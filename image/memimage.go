package image

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/wippyai/wasm-weval/errors"
	"github.com/wippyai/wasm-weval/wasm"
	"lukechampine.com/uint128"
)

// PageSize is the size of a linear memory page.
const PageSize = wasm.PageSize

// MemImage is the byte snapshot of one linear memory. Len always equals
// len(Bytes) and is a multiple of PageSize.
type MemImage struct {
	label string
	Bytes []byte
	Len   int
}

// NewMemImage returns a zero-filled image of the given number of pages.
func NewMemImage(pages uint32) *MemImage {
	n := int(pages) * PageSize
	return &MemImage{Bytes: make([]byte, n), Len: n, label: "memory"}
}

// CanRead reports whether size bytes at addr lie within the image. An
// access whose end overflows 32 bits is never readable.
func (m *MemImage) CanRead(addr, size uint32) bool {
	end := uint64(addr) + uint64(size)
	return end <= math.MaxUint32 && end <= uint64(m.Len)
}

func (m *MemImage) check(phase errors.Phase, addr, size uint32) error {
	if !m.CanRead(addr, size) {
		return errors.OutOfBounds(phase, []string{m.label}, uint64(addr), size, m.Len)
	}
	return nil
}

// Size returns the image length in bytes, saturated at math.MaxUint32.
func (m *MemImage) Size() uint32 {
	if uint64(m.Len) > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(m.Len)
}

// Read returns a copy of length bytes at offset.
func (m *MemImage) Read(offset, length uint32) ([]byte, error) {
	if err := m.check(errors.PhaseRead, offset, length); err != nil {
		return nil, err
	}
	return append([]byte(nil), m.Bytes[offset:offset+length]...), nil
}

// Write copies data to offset.
func (m *MemImage) Write(offset uint32, data []byte) error {
	if uint64(len(data)) > math.MaxUint32 {
		return errors.OutOfBounds(errors.PhaseWrite, []string{m.label}, uint64(offset), math.MaxUint32, m.Len)
	}
	if err := m.check(errors.PhaseWrite, offset, uint32(len(data))); err != nil {
		return err
	}
	copy(m.Bytes[offset:], data)
	return nil
}

// ReadU8 reads one byte.
func (m *MemImage) ReadU8(addr uint32) (uint8, error) {
	if err := m.check(errors.PhaseRead, addr, 1); err != nil {
		return 0, err
	}
	return m.Bytes[addr], nil
}

// ReadU16 reads a little-endian uint16.
func (m *MemImage) ReadU16(addr uint32) (uint16, error) {
	if err := m.check(errors.PhaseRead, addr, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(m.Bytes[addr:]), nil
}

// ReadU32 reads a little-endian uint32.
func (m *MemImage) ReadU32(addr uint32) (uint32, error) {
	if err := m.check(errors.PhaseRead, addr, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.Bytes[addr:]), nil
}

// ReadU64 reads two uint32 halves, low half first.
func (m *MemImage) ReadU64(addr uint32) (uint64, error) {
	lo, err := m.ReadU32(addr)
	if err != nil {
		return 0, err
	}
	hiAddr, ok := add32(addr, 4)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseRead, []string{m.label}, uint64(addr)+4, 4, m.Len)
	}
	hi, err := m.ReadU32(hiAddr)
	if err != nil {
		return 0, err
	}
	return uint64(lo) | uint64(hi)<<32, nil
}

// ReadU128 reads two uint64 halves, low half first.
func (m *MemImage) ReadU128(addr uint32) (uint128.Uint128, error) {
	lo, err := m.ReadU64(addr)
	if err != nil {
		return uint128.Zero, err
	}
	hiAddr, ok := add32(addr, 8)
	if !ok {
		return uint128.Zero, errors.OutOfBounds(errors.PhaseRead, []string{m.label}, uint64(addr)+8, 8, m.Len)
	}
	hi, err := m.ReadU64(hiAddr)
	if err != nil {
		return uint128.Zero, err
	}
	return uint128.New(lo, hi), nil
}

// ReadSize reads a little-endian unsigned value of width bytes. Width must
// be 1, 2, 4 or 8.
func (m *MemImage) ReadSize(addr uint32, width uint8) (uint64, error) {
	switch width {
	case 1:
		v, err := m.ReadU8(addr)
		return uint64(v), err
	case 2:
		v, err := m.ReadU16(addr)
		return uint64(v), err
	case 4:
		v, err := m.ReadU32(addr)
		return uint64(v), err
	case 8:
		return m.ReadU64(addr)
	}
	panic(fmt.Sprintf("image: invalid read width %d", width))
}

// ReadString reads a NUL-terminated UTF-8 string starting at addr. The
// terminator is not included.
func (m *MemImage) ReadString(addr uint32) (string, error) {
	start := uint64(addr)
	end := start
	for {
		if end >= uint64(m.Len) || end > math.MaxUint32 {
			return "", errors.OutOfBounds(errors.PhaseRead, []string{m.label}, end, 1, m.Len)
		}
		if m.Bytes[end] == 0 {
			break
		}
		end++
	}
	data := m.Bytes[start:end]
	if !utf8.Valid(data) {
		return "", errors.InvalidUTF8(errors.PhaseRead, []string{m.label}, data)
	}
	return string(data), nil
}

// WriteU8 writes one byte.
func (m *MemImage) WriteU8(addr uint32, v uint8) error {
	if err := m.check(errors.PhaseWrite, addr, 1); err != nil {
		return err
	}
	m.Bytes[addr] = v
	return nil
}

// WriteU16 writes a little-endian uint16.
func (m *MemImage) WriteU16(addr uint32, v uint16) error {
	if err := m.check(errors.PhaseWrite, addr, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(m.Bytes[addr:], v)
	return nil
}

// WriteU32 writes a little-endian uint32.
func (m *MemImage) WriteU32(addr uint32, v uint32) error {
	if err := m.check(errors.PhaseWrite, addr, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.Bytes[addr:], v)
	return nil
}

// WriteU64 writes a little-endian uint64.
func (m *MemImage) WriteU64(addr uint32, v uint64) error {
	if err := m.check(errors.PhaseWrite, addr, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.Bytes[addr:], v)
	return nil
}

func add32(a, b uint32) (uint32, bool) {
	s := a + b
	return s, s >= a
}
