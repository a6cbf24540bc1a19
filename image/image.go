// Package image builds and manipulates the initial-state snapshot of a
// WebAssembly module.
package image

import (
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"
	"lukechampine.com/uint128"

	"github.com/wippyai/wasm-weval/errors"
	"github.com/wippyai/wasm-weval/module"
)

// Sentinel errors for errors.Is.
var (
	ErrOutOfBounds        = errors.Sentinel(errors.KindOutOfBounds)
	ErrInvalidUTF8        = errors.Sentinel(errors.KindInvalidUTF8)
	ErrNoMainHeap         = &errors.Error{Kind: errors.KindNotConfigured, Detail: "no main heap"}
	ErrNoMainTable        = &errors.Error{Kind: errors.KindNotConfigured, Detail: "no main table"}
	ErrFuncPtrOutOfBounds = &errors.Error{Kind: errors.KindOutOfBounds, Path: []string{"main table"}}
)

// maxPages is the largest initial size a 32-bit address space holds.
const maxPages = 1 << 16

// Image is the snapshot of a module's memories, constant globals and table
// contents. Keys and buffer lengths are fixed at Build; buffer contents
// change through writes.
type Image struct {
	Memories map[module.Memory]*MemImage
	Globals  map[module.Global]Value
	Tables   map[module.Table][]module.Func

	stackPointer *module.Global
	mainHeap     *module.Memory
	mainTable    *module.Table
}

// Build snapshots the initial state of m.
//
// Every memory gets a zero-filled buffer of its initial size with active
// segments copied in declaration order. Globals with a known numeric
// initializer are recorded; tables keep their function elements. Roles
// default to the first declared global, memory and table.
func Build(m *module.Module, opts ...Option) (*Image, error) {
	var cfg buildConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	im := &Image{
		Memories: make(map[module.Memory]*MemImage, len(m.Memories)),
		Globals:  make(map[module.Global]Value, len(m.Globals)),
		Tables:   make(map[module.Table][]module.Func, len(m.Tables)),
	}

	for i := range m.Memories {
		id := module.Memory(i)
		mem, err := buildMemory(id, &m.Memories[i])
		if err != nil {
			return nil, err
		}
		im.Memories[id] = mem
		Logger().Debug("memory image",
			zap.Stringer("memory", id),
			zap.Uint64("pages", m.Memories[i].InitialPages),
			zap.Int("segments", len(m.Memories[i].Segments)))
	}

	for i, g := range m.Globals {
		if g.Value == nil {
			continue
		}
		if v, ok := ValueFromBits(g.Type, *g.Value); ok {
			im.Globals[module.Global(i)] = v
		}
	}

	for i, t := range m.Tables {
		elems := make([]module.Func, len(t.FuncElements))
		copy(elems, t.FuncElements)
		im.Tables[module.Table(i)] = elems
	}

	if err := im.assignRoles(m, &cfg); err != nil {
		return nil, err
	}
	return im, nil
}

func buildMemory(id module.Memory, md *module.MemoryData) (*MemImage, error) {
	if md.InitialPages > maxPages {
		return nil, errors.New(errors.PhaseBuild, errors.KindUnsupported).
			Path(id.String()).
			Value(md.InitialPages).
			Detail("initial size of %d pages exceeds 4 GiB", md.InitialPages).
			Build()
	}
	mem := NewMemImage(uint32(md.InitialPages))
	mem.label = id.String()

	for i, seg := range md.Segments {
		end := seg.Offset + uint64(len(seg.Data))
		if seg.Offset > uint64(mem.Len) || end > uint64(mem.Len) {
			return nil, errors.New(errors.PhaseBuild, errors.KindInvalidData).
				Path(id.String(), "segment", fmt.Sprint(i)).
				Value(seg.Offset).
				Detail("segment end 0x%x exceeds 0x%x", end, mem.Len).
				Build()
		}
		copy(mem.Bytes[seg.Offset:end], seg.Data)
	}
	return mem, nil
}

func (im *Image) assignRoles(m *module.Module, cfg *buildConfig) error {
	if len(m.Globals) > 0 {
		g := module.Global(0)
		im.stackPointer = &g
	}
	if len(m.Memories) > 0 {
		mem := module.Memory(0)
		im.mainHeap = &mem
	}
	if len(m.Tables) > 0 {
		t := module.Table(0)
		im.mainTable = &t
	}

	if cfg.fromExports {
		if e, ok := m.Export(ExportStackPointer); ok && e.Kind == module.KindGlobal {
			g := module.Global(e.Index)
			cfg.stackPointer = orGlobal(cfg.stackPointer, g)
		}
		if e, ok := m.Export(ExportMainHeap); ok && e.Kind == module.KindMemory {
			cfg.mainHeap = orMemory(cfg.mainHeap, module.Memory(e.Index))
		}
		if e, ok := m.Export(ExportMainTable); ok && e.Kind == module.KindTable {
			cfg.mainTable = orTable(cfg.mainTable, module.Table(e.Index))
		}
	}

	if g := cfg.stackPointer; g != nil {
		if int(*g) >= len(m.Globals) {
			return errors.NotFound(errors.PhaseResolve, "stack pointer", g.String())
		}
		im.stackPointer = g
	}
	if mem := cfg.mainHeap; mem != nil {
		if _, ok := im.Memories[*mem]; !ok {
			return errors.NotFound(errors.PhaseResolve, "main heap", mem.String())
		}
		im.mainHeap = mem
	}
	if t := cfg.mainTable; t != nil {
		if _, ok := im.Tables[*t]; !ok {
			return errors.NotFound(errors.PhaseResolve, "main table", t.String())
		}
		im.mainTable = t
	}

	fields := []zap.Field{}
	if im.stackPointer != nil {
		fields = append(fields, zap.Stringer("stack_pointer", *im.stackPointer))
	}
	if im.mainHeap != nil {
		fields = append(fields, zap.Stringer("main_heap", *im.mainHeap))
	}
	if im.mainTable != nil {
		fields = append(fields, zap.Stringer("main_table", *im.mainTable))
	}
	Logger().Debug("image roles", fields...)
	return nil
}

func orGlobal(explicit *module.Global, g module.Global) *module.Global {
	if explicit != nil {
		return explicit
	}
	return &g
}

func orMemory(explicit *module.Memory, m module.Memory) *module.Memory {
	if explicit != nil {
		return explicit
	}
	return &m
}

func orTable(explicit *module.Table, t module.Table) *module.Table {
	if explicit != nil {
		return explicit
	}
	return &t
}

// MemoryIDs returns the memory ids in ascending order.
func (im *Image) MemoryIDs() []module.Memory {
	return slices.Sorted(maps.Keys(im.Memories))
}

// Memory returns the image of mem.
func (im *Image) Memory(mem module.Memory) (*MemImage, bool) {
	m, ok := im.Memories[mem]
	return m, ok
}

func (im *Image) mustMemory(mem module.Memory) *MemImage {
	m, ok := im.Memories[mem]
	if !ok {
		panic(fmt.Sprintf("image: %s is not part of the image", mem))
	}
	return m
}

// CanRead reports whether size bytes at addr of mem are inside the image.
// Unknown memories are never readable.
func (im *Image) CanRead(mem module.Memory, addr, size uint32) bool {
	m, ok := im.Memories[mem]
	return ok && m.CanRead(addr, size)
}

// MainHeap returns the memory that pointers address by default.
func (im *Image) MainHeap() (module.Memory, error) {
	if im.mainHeap == nil {
		return 0, errors.NotConfigured(errors.PhaseResolve, "main heap")
	}
	return *im.mainHeap, nil
}

// StackPointer returns the global holding the shadow stack pointer.
func (im *Image) StackPointer() (module.Global, bool) {
	if im.stackPointer == nil {
		return 0, false
	}
	return *im.stackPointer, true
}

// MainTable returns the table that function pointers index.
func (im *Image) MainTable() (module.Table, bool) {
	if im.mainTable == nil {
		return 0, false
	}
	return *im.mainTable, true
}

// FuncPtr resolves a function pointer through the main table. Empty slots
// resolve to module.InvalidFunc.
func (im *Image) FuncPtr(idx uint32) (module.Func, error) {
	if im.mainTable == nil {
		return module.InvalidFunc, errors.NotConfigured(errors.PhaseRead, "main table")
	}
	elems := im.Tables[*im.mainTable]
	if uint64(idx) >= uint64(len(elems)) {
		return module.InvalidFunc, errors.IndexOutOfBounds(errors.PhaseRead, []string{"main table"}, int(idx), len(elems))
	}
	return elems[idx], nil
}

// The accessors below panic when mem is not part of the image.

func (im *Image) ReadU8(mem module.Memory, addr uint32) (uint8, error) {
	return im.mustMemory(mem).ReadU8(addr)
}

func (im *Image) ReadU16(mem module.Memory, addr uint32) (uint16, error) {
	return im.mustMemory(mem).ReadU16(addr)
}

func (im *Image) ReadU32(mem module.Memory, addr uint32) (uint32, error) {
	return im.mustMemory(mem).ReadU32(addr)
}

func (im *Image) ReadU64(mem module.Memory, addr uint32) (uint64, error) {
	return im.mustMemory(mem).ReadU64(addr)
}

func (im *Image) ReadU128(mem module.Memory, addr uint32) (uint128.Uint128, error) {
	return im.mustMemory(mem).ReadU128(addr)
}

func (im *Image) ReadSize(mem module.Memory, addr uint32, width uint8) (uint64, error) {
	return im.mustMemory(mem).ReadSize(addr, width)
}

func (im *Image) ReadString(mem module.Memory, addr uint32) (string, error) {
	return im.mustMemory(mem).ReadString(addr)
}

func (im *Image) WriteU8(mem module.Memory, addr uint32, v uint8) error {
	return im.mustMemory(mem).WriteU8(addr, v)
}

func (im *Image) WriteU16(mem module.Memory, addr uint32, v uint16) error {
	return im.mustMemory(mem).WriteU16(addr, v)
}

func (im *Image) WriteU32(mem module.Memory, addr uint32, v uint32) error {
	return im.mustMemory(mem).WriteU32(addr, v)
}

func (im *Image) WriteU64(mem module.Memory, addr uint32, v uint64) error {
	return im.mustMemory(mem).WriteU64(addr, v)
}
