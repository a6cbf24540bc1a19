package module_test

import (
	"bytes"
	stderrors "errors"
	"testing"

	"github.com/wippyai/wasm-weval/errors"
	"github.com/wippyai/wasm-weval/ir"
	"github.com/wippyai/wasm-weval/module"
	"github.com/wippyai/wasm-weval/wasm"
)

func testModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
			{Results: []wasm.ValType{wasm.ValI32}},
		},
		Imports: []wasm.Import{
			{Module: "weval", Name: "assume.const.memory", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
			{Module: "env", Name: "memory", Desc: wasm.ImportDesc{Kind: wasm.KindMemory, Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 1}}}},
			{Module: "env", Name: "base", Desc: wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &wasm.GlobalType{ValType: wasm.ValI32}}},
		},
		Funcs:    []uint32{1, 1},
		Tables:   []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 8}}},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 2}}},
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true}, Init: wasm.ConstI32Expr(65536)},
			{Type: wasm.GlobalType{ValType: wasm.ValF64}, Init: []byte{wasm.OpF64Const, 0, 0, 0, 0, 0, 0, 0xF0, 0x3F, wasm.OpEnd}},
			{Type: wasm.GlobalType{ValType: wasm.ValI32}, Init: []byte{wasm.OpGlobalGet, 0, wasm.OpEnd}},
			{Type: wasm.GlobalType{ValType: wasm.ValI32}, Init: []byte{wasm.OpGlobalGet, 1, wasm.OpI32Const, 4, wasm.OpI32Add, wasm.OpEnd}},
			{Type: wasm.GlobalType{ValType: wasm.ValFuncRef}, Init: []byte{wasm.OpRefFunc, 1, wasm.OpEnd}},
		},
		Exports: []wasm.Export{
			{Name: "memory", Kind: wasm.KindMemory, Idx: 1},
			{Name: "answer", Kind: wasm.KindFunc, Idx: 2},
		},
		Elements: []wasm.Element{
			{Offset: wasm.ConstI32Expr(1), FuncIdxs: []uint32{1, 2}},
			{Flags: 4, Offset: wasm.ConstI32Expr(4), Type: wasm.ValFuncRef, Exprs: [][]byte{
				{wasm.OpRefFunc, 0, wasm.OpEnd},
				{wasm.OpRefNull, byte(wasm.ValFuncRef), wasm.OpEnd},
			}},
		},
		Code: []wasm.FuncBody{
			{Code: []byte{wasm.OpI32Const, 42, wasm.OpEnd}},
			{Code: []byte{wasm.OpI32Const, 7, wasm.OpEnd}},
		},
		Data: []wasm.DataSegment{
			{Offset: wasm.ConstI32Expr(16), Init: []byte("abc")},
			{Flags: 2, MemIdx: 1, Offset: wasm.ConstI32Expr(8), Init: []byte{1, 2}},
			{Flags: 2, MemIdx: 1, Offset: []byte{wasm.OpGlobalGet, 1, wasm.OpI32Const, 4, wasm.OpI32Add, wasm.OpEnd}, Init: []byte{3}},
		},
	}
}

func TestFromWasm(t *testing.T) {
	m, err := module.FromWasm(testModule())
	if err != nil {
		t.Fatalf("FromWasm: %v", err)
	}

	if len(m.Funcs) != 3 || !m.Funcs[0].Imported || m.Funcs[1].Imported {
		t.Errorf("funcs = %+v", m.Funcs)
	}
	if len(m.Imports) != 3 || m.Imports[2].Kind != module.KindGlobal || m.Imports[2].Index != 0 {
		t.Errorf("imports = %+v", m.Imports)
	}
	if exp, ok := m.Export("answer"); !ok || exp.Kind != module.KindFunc || exp.Index != 2 {
		t.Errorf("Export(answer) = %+v, %v", exp, ok)
	}
	if _, ok := m.Export("missing"); ok {
		t.Errorf("Export(missing) found")
	}

	if len(m.Memories) != 2 || !m.Memories[0].Imported || m.Memories[1].InitialPages != 2 {
		t.Fatalf("memories = %+v", m.Memories)
	}
	if segs := m.Memories[0].Segments; len(segs) != 1 || segs[0].Offset != 16 {
		t.Errorf("memory0 segments = %+v", segs)
	}
	if segs := m.Memories[1].Segments; len(segs) != 2 || segs[1].Offset != 65540 {
		t.Errorf("memory1 segments = %+v", segs)
	}

	wantGlobals := []struct {
		known bool
		bits  uint64
	}{
		{false, 0}, // imported
		{true, 65536},
		{true, 0x3FF0000000000000},
		{false, 0}, // depends on the imported global
		{true, 65540},
		{false, 0}, // funcref
	}
	if len(m.Globals) != len(wantGlobals) {
		t.Fatalf("globals = %d", len(m.Globals))
	}
	for i, want := range wantGlobals {
		g := m.Globals[i]
		if (g.Value != nil) != want.known {
			t.Errorf("global %d known = %v, want %v", i, g.Value != nil, want.known)
			continue
		}
		if want.known && *g.Value != want.bits {
			t.Errorf("global %d = %#x, want %#x", i, *g.Value, want.bits)
		}
	}

	wantTable := []module.Func{module.InvalidFunc, 1, 2, module.InvalidFunc, 0, module.InvalidFunc}
	got := m.Tables[0].FuncElements
	if len(got) != len(wantTable) {
		t.Fatalf("table elements = %v", got)
	}
	for i := range wantTable {
		if got[i] != wantTable[i] {
			t.Errorf("slot %d = %v, want %v", i, got[i], wantTable[i])
		}
	}

	if ft, ok := m.FuncType(2); !ok || len(ft.Params) != 0 || len(ft.Results) != 1 {
		t.Errorf("FuncType(2) = %+v, %v", ft, ok)
	}
	if _, ok := m.FuncType(9); ok {
		t.Errorf("FuncType(9) should not exist")
	}
}

func TestFromWasmErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*wasm.Module)
		kind   errors.Kind
	}{
		{"offset from import", func(w *wasm.Module) {
			w.Data[0].Offset = []byte{wasm.OpGlobalGet, 0, wasm.OpEnd}
		}, errors.KindUnsupported},
		{"missing memory", func(w *wasm.Module) {
			w.Data[1].MemIdx = 5
		}, errors.KindInvalidData},
		{"element past table", func(w *wasm.Module) {
			w.Elements[0].Offset = wasm.ConstI32Expr(7)
		}, errors.KindInvalidData},
		{"bad global init", func(w *wasm.Module) {
			w.Globals[0].Init = []byte{wasm.OpI32Const, 1}
		}, errors.KindInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := testModule()
			tt.mutate(w)
			_, err := module.FromWasm(w)
			if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseResolve, Kind: tt.kind}) {
				t.Errorf("got %v, want resolve/%s", err, tt.kind)
			}
		})
	}

	if _, err := module.Parse([]byte("not wasm")); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindInvalidData}) {
		t.Errorf("Parse: got %v", err)
	}
}

func TestEncodeReplacedSegments(t *testing.T) {
	m, err := module.FromWasm(testModule())
	if err != nil {
		t.Fatalf("FromWasm: %v", err)
	}
	snapshot := bytes.Repeat([]byte{0xAB}, 16)
	m.Memories[1].Segments = []module.Segment{{Offset: 0, Data: snapshot}}

	out, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	again, err := module.Parse(out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if segs := again.Memories[1].Segments; len(segs) != 1 || segs[0].Offset != 0 || !bytes.Equal(segs[0].Data, snapshot) {
		t.Errorf("memory1 segments after round trip = %+v", segs)
	}
	if segs := again.Memories[0].Segments; len(segs) != 1 || !bytes.Equal(segs[0].Data, []byte("abc")) {
		t.Errorf("memory0 segments changed: %+v", segs)
	}
	if len(again.Raw().Data) != 2 {
		t.Errorf("data section has %d segments, want 2", len(again.Raw().Data))
	}
	if again.Raw().Data[1].Flags != 2 || again.Raw().Data[1].MemIdx != 1 {
		t.Errorf("memory1 segment encoding = %+v", again.Raw().Data[1])
	}
	if len(m.Raw().Data) != 3 {
		t.Errorf("Encode mutated the source module")
	}
}

func TestEncodePassiveSegments(t *testing.T) {
	w := testModule()
	w.Data = append([]wasm.DataSegment{{Flags: 1, Init: []byte{9}}}, w.Data...)
	w.Data = append(w.Data, wasm.DataSegment{Flags: 1, Init: []byte{8}})
	count := uint32(len(w.Data))
	w.DataCount = &count

	m, err := module.FromWasm(w)
	if err != nil {
		t.Fatalf("FromWasm: %v", err)
	}

	// memory1 loses a segment before the trailing passive one.
	m.Memories[1].Segments = m.Memories[1].Segments[:1]
	if _, err := m.Encode(); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseEncode, Kind: errors.KindUnsupported}) {
		t.Errorf("expected unsupported renumbering error, got %v", err)
	}

	// Same number of segments: passive indices stay put.
	m.Memories[1].Segments = []module.Segment{{Offset: 0, Data: []byte{1}}, {Offset: 4, Data: []byte{2}}}
	out, err := m.ToWasm()
	if err != nil {
		t.Fatalf("ToWasm: %v", err)
	}
	if out.Data[0].IsActive() || out.Data[4].IsActive() {
		t.Errorf("passive segments moved")
	}
	if out.DataCount == nil || *out.DataCount != 5 {
		t.Errorf("data count = %v", out.DataCount)
	}
}

func TestBody(t *testing.T) {
	m, err := module.FromWasm(testModule())
	if err != nil {
		t.Fatalf("FromWasm: %v", err)
	}
	body, err := m.Body(1)
	if err != nil {
		t.Fatalf("Body: %v", err)
	}
	ret, ok := body.Block(body.Entry).Term.(*ir.Return)
	if !ok {
		t.Fatalf("terminator = %T", body.Block(body.Entry).Term)
	}
	if c, ok := body.I32Const(ret.Values[0]); !ok || c != 42 {
		t.Errorf("returns %d, %v", c, ok)
	}

	if _, err := m.Body(0); err == nil {
		t.Errorf("Body of an imported function should fail")
	}
}

func TestIDs(t *testing.T) {
	if module.InvalidFunc.IsValid() || !module.Func(0).IsValid() {
		t.Error("IsValid")
	}
	if s := module.Func(3).String(); s != "func3" {
		t.Errorf("Func.String = %q", s)
	}
	if s := module.InvalidFunc.String(); s != "func<invalid>" {
		t.Errorf("InvalidFunc.String = %q", s)
	}
	if s := module.Memory(1).String(); s != "memory1" {
		t.Errorf("Memory.String = %q", s)
	}
}
