package image_test

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"math"
	"testing"

	weval "github.com/wippyai/wasm-weval"
	"github.com/wippyai/wasm-weval/errors"
	"github.com/wippyai/wasm-weval/image"
	"github.com/wippyai/wasm-weval/module"
	"github.com/wippyai/wasm-weval/wasm"
)

var (
	_ weval.Memory      = (*image.MemImage)(nil)
	_ weval.MemorySizer = (*image.MemImage)(nil)
)

func u64(v uint64) *uint64 { return &v }

// testModule has two memories, three globals and two tables.
func testModule() *module.Module {
	return &module.Module{
		Memories: []module.MemoryData{
			{InitialPages: 1, Segments: []module.Segment{
				{Offset: 0, Data: []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}},
				{Offset: 4, Data: []byte{0xAA}},
				{Offset: 100, Data: []byte("hello\x00")},
			}},
			{InitialPages: 2},
		},
		Globals: []module.GlobalData{
			{Type: wasm.ValI32, Mutable: true, Value: u64(1024)},
			{Type: wasm.ValI64, Imported: true},
			{Type: wasm.ValF32, Value: u64(uint64(math.Float32bits(1.5)))},
			{Type: wasm.ValFuncRef, Value: u64(3)},
		},
		Tables: []module.TableData{
			{ElemType: wasm.ValFuncRef, Initial: 4, FuncElements: []module.Func{module.InvalidFunc, 7, 9}},
			{ElemType: wasm.ValFuncRef, Initial: 1},
		},
		Exports: []module.Export{
			{Name: "memory", Kind: module.KindMemory, Index: 1},
			{Name: "__stack_pointer", Kind: module.KindGlobal, Index: 2},
			{Name: "__indirect_function_table", Kind: module.KindTable, Index: 1},
		},
	}
}

func build(t *testing.T, m *module.Module, opts ...image.Option) *image.Image {
	t.Helper()
	im, err := image.Build(m, opts...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return im
}

func TestBuild(t *testing.T) {
	im := build(t, testModule())

	ids := im.MemoryIDs()
	if len(ids) != 2 || ids[0] != 0 || ids[1] != 1 {
		t.Fatalf("MemoryIDs = %v", ids)
	}
	mem0, _ := im.Memory(0)
	if mem0.Len != image.PageSize || len(mem0.Bytes) != mem0.Len {
		t.Errorf("memory0 len = %d/%d", mem0.Len, len(mem0.Bytes))
	}
	if want := []byte{1, 2, 3, 4, 0xAA, 6, 7, 8, 0}; !bytes.Equal(mem0.Bytes[:9], want) {
		t.Errorf("memory0 prefix = %x, want %x", mem0.Bytes[:9], want)
	}
	if mem1, _ := im.Memory(1); mem1.Len != 2*image.PageSize {
		t.Errorf("memory1 len = %d", mem1.Len)
	}

	if len(im.Globals) != 2 {
		t.Errorf("globals = %v", im.Globals)
	}
	if v := im.Globals[0]; v.Type != wasm.ValI32 || v.I32() != 1024 {
		t.Errorf("global0 = %v", v)
	}
	if v := im.Globals[2]; v.F32() != 1.5 {
		t.Errorf("global2 = %v", v)
	}

	if elems := im.Tables[0]; len(elems) != 3 || elems[1] != 7 {
		t.Errorf("table0 = %v", elems)
	}
	if elems, ok := im.Tables[1]; !ok || elems == nil || len(elems) != 0 {
		t.Errorf("table1 = %#v, want empty non-nil slice", elems)
	}

	if sp, ok := im.StackPointer(); !ok || sp != 0 {
		t.Errorf("StackPointer = %v, %v", sp, ok)
	}
	if heap, err := im.MainHeap(); err != nil || heap != 0 {
		t.Errorf("MainHeap = %v, %v", heap, err)
	}
	if tbl, ok := im.MainTable(); !ok || tbl != 0 {
		t.Errorf("MainTable = %v, %v", tbl, ok)
	}
}

func TestBuildDoesNotAliasModule(t *testing.T) {
	m := testModule()
	im := build(t, m)
	im.Tables[0][1] = 42
	if m.Tables[0].FuncElements[1] != 7 {
		t.Error("table elements alias the module")
	}
	if err := im.WriteU8(0, 0, 0xFF); err != nil {
		t.Fatal(err)
	}
	if m.Memories[0].Segments[0].Data[0] != 1 {
		t.Error("memory buffer aliases segment data")
	}
}

func TestRoles(t *testing.T) {
	im := build(t, testModule(), image.RolesFromExports())
	if heap, _ := im.MainHeap(); heap != 1 {
		t.Errorf("MainHeap from exports = %v", heap)
	}
	if sp, _ := im.StackPointer(); sp != 2 {
		t.Errorf("StackPointer from exports = %v", sp)
	}
	if tbl, _ := im.MainTable(); tbl != 1 {
		t.Errorf("MainTable from exports = %v", tbl)
	}

	im = build(t, testModule(), image.WithMainHeap(0), image.RolesFromExports(), image.WithStackPointer(1))
	if heap, _ := im.MainHeap(); heap != 0 {
		t.Errorf("explicit MainHeap lost: %v", heap)
	}
	if sp, _ := im.StackPointer(); sp != 1 {
		t.Errorf("explicit StackPointer lost: %v", sp)
	}

	invalid := []image.Option{
		image.WithMainHeap(5),
		image.WithStackPointer(9),
		image.WithMainTable(3),
	}
	for _, opt := range invalid {
		if _, err := image.Build(testModule(), opt); !stderrors.Is(err, errors.Sentinel(errors.KindNotFound)) {
			t.Errorf("invalid role: got %v", err)
		}
	}

	empty := build(t, &module.Module{})
	if _, err := empty.MainHeap(); !stderrors.Is(err, image.ErrNoMainHeap) {
		t.Errorf("MainHeap on empty image: %v", err)
	}
	if _, ok := empty.StackPointer(); ok {
		t.Error("empty image has a stack pointer")
	}
	if _, err := empty.FuncPtr(0); !stderrors.Is(err, image.ErrNoMainTable) || stderrors.Is(err, image.ErrNoMainHeap) {
		t.Errorf("FuncPtr on empty image: %v", err)
	}
}

func TestBuildErrors(t *testing.T) {
	m := testModule()
	m.Memories[0].Segments = append(m.Memories[0].Segments, module.Segment{Offset: image.PageSize - 2, Data: []byte{1, 2, 3}})
	_, err := image.Build(m)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseBuild, Kind: errors.KindInvalidData}) {
		t.Errorf("overflowing segment: %v", err)
	}

	m = testModule()
	m.Memories[1].Segments = []module.Segment{{Offset: math.MaxUint64 - 1, Data: []byte{1, 2, 3}}}
	if _, err := image.Build(m); !stderrors.Is(err, errors.Sentinel(errors.KindInvalidData)) {
		t.Errorf("wrapping segment offset: %v", err)
	}

	m = testModule()
	m.Memories[1].InitialPages = 1<<16 + 1
	if _, err := image.Build(m); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseBuild, Kind: errors.KindUnsupported}) {
		t.Errorf("oversized memory: %v", err)
	}
}

func TestReads(t *testing.T) {
	im := build(t, testModule())

	if v, err := im.ReadU8(0, 4); err != nil || v != 0xAA {
		t.Errorf("ReadU8 = %#x, %v", v, err)
	}
	if v, err := im.ReadU16(0, 0); err != nil || v != 0x0201 {
		t.Errorf("ReadU16 = %#x, %v", v, err)
	}
	if v, err := im.ReadU32(0, 0); err != nil || v != 0x04030201 {
		t.Errorf("ReadU32 = %#x, %v", v, err)
	}
	if v, err := im.ReadU64(0, 0); err != nil || v != 0x080706AA04030201 {
		t.Errorf("ReadU64 = %#x, %v", v, err)
	}
	v128, err := im.ReadU128(0, 0)
	if err != nil || v128.Lo != 0x080706AA04030201 || v128.Hi != 0 {
		t.Errorf("ReadU128 = %v, %v", v128, err)
	}

	for _, tt := range []struct {
		width uint8
		want  uint64
	}{{1, 0x01}, {2, 0x0201}, {4, 0x04030201}, {8, 0x080706AA04030201}} {
		if v, err := im.ReadSize(0, 0, tt.width); err != nil || v != tt.want {
			t.Errorf("ReadSize(%d) = %#x, %v", tt.width, v, err)
		}
	}

	if s, err := im.ReadString(0, 100); err != nil || s != "hello" {
		t.Errorf("ReadString = %q, %v", s, err)
	}
}

func TestReadBounds(t *testing.T) {
	im := build(t, testModule())
	last := uint32(image.PageSize)

	tests := []struct {
		name string
		read func() error
	}{
		{"u8 at end", func() error { _, err := im.ReadU8(0, last); return err }},
		{"u16 straddling", func() error { _, err := im.ReadU16(0, last-1); return err }},
		{"u32 straddling", func() error { _, err := im.ReadU32(0, last-3); return err }},
		{"u32 wrapping", func() error { _, err := im.ReadU32(0, math.MaxUint32-1); return err }},
		{"u64 second half", func() error { _, err := im.ReadU64(0, last-4); return err }},
		{"u64 wrapping", func() error { _, err := im.ReadU64(0, math.MaxUint32-3); return err }},
		{"u128 second half", func() error { _, err := im.ReadU128(0, last-8); return err }},
		{"string without terminator", func() error {
			_ = im.WriteU8(0, last-1, 'x')
			_, err := im.ReadString(0, last-1)
			return err
		}},
		{"write u32", func() error { return im.WriteU32(0, last-2, 1) }},
		{"write u64", func() error { return im.WriteU64(0, last-7, 1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.read(); !stderrors.Is(err, image.ErrOutOfBounds) {
				t.Errorf("got %v, want out of bounds", err)
			}
		})
	}

	if v, err := im.ReadU32(0, last-8); err != nil || v != 0 {
		t.Errorf("ReadU32 near end = %v, %v", v, err)
	}
	if v, err := im.ReadU8(0, last-1); err != nil || v != 'x' {
		t.Errorf("ReadU8 at last byte = %v, %v", v, err)
	}
	if !im.CanRead(0, last-4, 4) || im.CanRead(0, last-3, 4) {
		t.Error("CanRead at page end")
	}
	if im.CanRead(0, math.MaxUint32, 2) {
		t.Error("CanRead with overflowing end")
	}
	if im.CanRead(7, 0, 1) {
		t.Error("CanRead on unknown memory")
	}
}

func TestReadStringInvalidUTF8(t *testing.T) {
	im := build(t, testModule())
	if err := im.WriteU16(1, 0, 0x28C3); err != nil {
		t.Fatal(err)
	}
	if _, err := im.ReadString(1, 0); !stderrors.Is(err, image.ErrInvalidUTF8) {
		t.Errorf("got %v, want invalid UTF-8", err)
	}
}

func TestWrites(t *testing.T) {
	im := build(t, testModule())

	if err := im.WriteU32(1, 8, 0xDEADBEEF); err != nil {
		t.Fatal(err)
	}
	if err := im.WriteU16(1, 12, 0xCAFE); err != nil {
		t.Fatal(err)
	}
	if err := im.WriteU64(1, 16, 0x0102030405060708); err != nil {
		t.Fatal(err)
	}
	mem, _ := im.Memory(1)
	want := []byte{0xEF, 0xBE, 0xAD, 0xDE, 0xFE, 0xCA, 0, 0, 8, 7, 6, 5, 4, 3, 2, 1}
	if !bytes.Equal(mem.Bytes[8:24], want) {
		t.Errorf("bytes = %x, want %x", mem.Bytes[8:24], want)
	}
	if v, _ := im.ReadU64(1, 16); v != 0x0102030405060708 {
		t.Errorf("ReadU64 after write = %#x", v)
	}
}

func TestContractViolations(t *testing.T) {
	im := build(t, testModule())

	assertPanics(t, "unknown memory", func() { _, _ = im.ReadU32(9, 0) })
	assertPanics(t, "unknown memory write", func() { _ = im.WriteU8(9, 0, 0) })
	for _, width := range []uint8{0, 3, 16} {
		assertPanics(t, fmt.Sprintf("width %d", width), func() { _, _ = im.ReadSize(0, 0, width) })
	}
}

func assertPanics(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}

func TestFuncPtr(t *testing.T) {
	im := build(t, testModule())

	if f, err := im.FuncPtr(1); err != nil || f != 7 {
		t.Errorf("FuncPtr(1) = %v, %v", f, err)
	}
	if f, err := im.FuncPtr(0); err != nil || f.IsValid() {
		t.Errorf("FuncPtr(0) = %v, %v, want an invalid func without error", f, err)
	}
	_, err := im.FuncPtr(3)
	if !stderrors.Is(err, image.ErrFuncPtrOutOfBounds) || !stderrors.Is(err, image.ErrOutOfBounds) {
		t.Errorf("FuncPtr(3) = %v", err)
	}
}

func TestUpdate(t *testing.T) {
	m := testModule()
	im := build(t, m)
	if err := im.WriteU32(1, 64, 7); err != nil {
		t.Fatal(err)
	}

	image.Update(m, im)

	for _, id := range im.MemoryIDs() {
		segs := m.Memories[id].Segments
		mem, _ := im.Memory(id)
		if len(segs) != 1 || segs[0].Offset != 0 || !bytes.Equal(segs[0].Data, mem.Bytes) {
			t.Errorf("%s segments = %d", id, len(segs))
		}
	}

	_ = im.WriteU8(1, 64, 0)
	if m.Memories[1].Segments[0].Data[64] != 7 {
		t.Error("written-back segment aliases the image buffer")
	}

	again := build(t, m)
	if v, _ := again.ReadU32(1, 64); v != 7 {
		t.Errorf("rebuilt image reads %d", v)
	}
	if v, _ := again.ReadU8(0, 4); v != 0xAA {
		t.Errorf("rebuilt image lost memory0 contents")
	}
}

func TestValueFromBits(t *testing.T) {
	if _, ok := image.ValueFromBits(wasm.ValFuncRef, 1); ok {
		t.Error("funcref accepted")
	}
	if _, ok := image.ValueFromBits(wasm.ValV128, 1); ok {
		t.Error("v128 accepted")
	}
	v, ok := image.ValueFromBits(wasm.ValI32, 0x1_FFFF_FFFF)
	if !ok || v.Bits != 0xFFFF_FFFF || v.String() != "i32:-1" {
		t.Errorf("i32 value = %+v (%s)", v, v)
	}
	v, _ = image.ValueFromBits(wasm.ValF64, math.Float64bits(2.5))
	if v.F64() != 2.5 || v.String() != "f64:2.5" {
		t.Errorf("f64 value = %s", v)
	}
	if v, _ := image.ValueFromBits(wasm.ValI64, 5); v.I64() != 5 {
		t.Errorf("i64 value = %s", v)
	}
}
