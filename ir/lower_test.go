package ir_test

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/wippyai/wasm-weval/errors"
	"github.com/wippyai/wasm-weval/ir"
	"github.com/wippyai/wasm-weval/wasm"
)

var (
	noResults  = wasm.FuncType{}
	i32Result  = wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}}
	i32ToI32   = wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}
	i32Compare = byte(0x48) // i32.lt_s
)

// singleFunc builds a module with one imported function (type 0) followed
// by one defined function of type sig.
func singleFunc(sig wasm.FuncType, locals []wasm.LocalEntry, code ...byte) *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{noResults, sig},
		Imports: []wasm.Import{
			{Module: "env", Name: "f", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
		},
		Funcs: []uint32{1},
		Code:  []wasm.FuncBody{{Locals: locals, Code: code}},
	}
}

func lower(t *testing.T, m *wasm.Module) *ir.FunctionBody {
	t.Helper()
	body, err := ir.Lower(m, 1)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if err := body.Check(); err != nil {
		t.Fatalf("Check: %v\n%s", err, body)
	}
	return body
}

func TestLowerConstantReturn(t *testing.T) {
	body := lower(t, singleFunc(i32Result, nil, wasm.OpI32Const, 42, wasm.OpEnd))

	ret, ok := body.Block(body.Entry).Term.(*ir.Return)
	if !ok {
		t.Fatalf("entry terminator = %T, want *ir.Return", body.Block(body.Entry).Term)
	}
	if len(ret.Values) != 1 {
		t.Fatalf("return values = %d", len(ret.Values))
	}
	if c, ok := body.I32Const(ret.Values[0]); !ok || c != 42 {
		t.Errorf("I32Const = %d, %v", c, ok)
	}
}

func TestLowerExplicitReturnAndDeadCode(t *testing.T) {
	body := lower(t, singleFunc(i32Result, nil,
		wasm.OpI32Const, 1,
		wasm.OpReturn,
		wasm.OpI32Const, 2,
		wasm.OpDrop,
		wasm.OpBlock, 0x40, wasm.OpEnd,
		wasm.OpI32Const, 3,
		wasm.OpEnd))

	ret := body.Block(body.Entry).Term.(*ir.Return)
	if c, _ := body.I32Const(ret.Values[0]); c != 1 {
		t.Errorf("returned %d, want 1", c)
	}
	if n := len(body.Block(body.Entry).Insts); n != 1 {
		t.Errorf("entry has %d instructions, dead code was lowered", n)
	}
}

func TestLowerBlockResult(t *testing.T) {
	body := lower(t, singleFunc(i32Result, nil,
		wasm.OpBlock, byte(wasm.ValI32),
		wasm.OpI32Const, 7,
		wasm.OpEnd,
		wasm.OpEnd))

	br, ok := body.Block(body.Entry).Term.(*ir.Br)
	if !ok {
		t.Fatalf("entry terminator = %T, want *ir.Br", body.Block(body.Entry).Term)
	}
	if len(br.Target.Args) != 1 {
		t.Fatalf("branch args = %d", len(br.Target.Args))
	}
	target := body.Block(br.Target.Block)
	ret, ok := target.Term.(*ir.Return)
	if !ok {
		t.Fatalf("target terminator = %T", target.Term)
	}
	if !body.IsBlockParam(ret.Values[0], br.Target.Block, 0) {
		t.Errorf("target does not return its first parameter:\n%s", body)
	}
	if len(target.Preds) != 1 || target.Preds[0] != body.Entry {
		t.Errorf("preds = %v", target.Preds)
	}
}

func TestLowerLoopLocals(t *testing.T) {
	body := lower(t, singleFunc(i32Result, []wasm.LocalEntry{{Count: 1, ValType: wasm.ValI32}},
		wasm.OpLoop, 0x40,
		wasm.OpLocalGet, 0,
		wasm.OpI32Const, 1,
		wasm.OpI32Add,
		wasm.OpLocalTee, 0,
		wasm.OpI32Const, 10,
		i32Compare,
		wasm.OpBrIf, 0,
		wasm.OpEnd,
		wasm.OpLocalGet, 0,
		wasm.OpEnd))

	entry := body.Block(body.Entry)
	br, ok := entry.Term.(*ir.Br)
	if !ok {
		t.Fatalf("entry terminator = %T", entry.Term)
	}
	header := body.Block(br.Target.Block)
	if len(header.Params) != 1 {
		t.Fatalf("loop header params = %d, want 1\n%s", len(header.Params), body)
	}
	if c, ok := body.I32Const(br.Target.Args[0]); !ok || c != 0 {
		t.Errorf("loop entry passes %v, want the zero-initialized local", br.Target.Args)
	}
	cond, ok := header.Term.(*ir.CondBr)
	if !ok {
		t.Fatalf("header terminator = %T", header.Term)
	}
	if cond.IfTrue.Block != br.Target.Block {
		t.Errorf("back edge targets block%d, want block%d", cond.IfTrue.Block, br.Target.Block)
	}
	if len(header.Preds) != 2 {
		t.Errorf("header preds = %v", header.Preds)
	}
}

func TestLowerIfElse(t *testing.T) {
	body := lower(t, singleFunc(i32ToI32, nil,
		wasm.OpLocalGet, 0,
		wasm.OpIf, byte(wasm.ValI32),
		wasm.OpI32Const, 1,
		wasm.OpElse,
		wasm.OpI32Const, 2,
		wasm.OpEnd,
		wasm.OpEnd))

	cond, ok := body.Block(body.Entry).Term.(*ir.CondBr)
	if !ok {
		t.Fatalf("entry terminator = %T", body.Block(body.Entry).Term)
	}
	if !body.IsBlockParam(cond.Cond, body.Entry, 0) {
		t.Errorf("condition is not the function parameter")
	}
	thenBr := body.Block(cond.IfTrue.Block).Term.(*ir.Br)
	elseBr := body.Block(cond.IfFalse.Block).Term.(*ir.Br)
	if thenBr.Target.Block != elseBr.Target.Block {
		t.Errorf("arms join at different blocks")
	}
	a, _ := body.I32Const(thenBr.Target.Args[0])
	b, _ := body.I32Const(elseBr.Target.Args[0])
	if a != 1 || b != 2 {
		t.Errorf("arm values = %d, %d", a, b)
	}
}

func TestLowerIfWithoutElseMergesLocal(t *testing.T) {
	body := lower(t, singleFunc(i32ToI32, nil,
		wasm.OpLocalGet, 0,
		wasm.OpIf, 0x40,
		wasm.OpI32Const, 5,
		wasm.OpLocalSet, 0,
		wasm.OpEnd,
		wasm.OpLocalGet, 0,
		wasm.OpEnd))

	var join ir.Block
	found := false
	for i := range body.Blocks {
		if _, ok := body.Blocks[i].Term.(*ir.Return); ok {
			join, found = ir.Block(i), true
		}
	}
	if !found {
		t.Fatalf("no return block:\n%s", body)
	}
	if n := len(body.Block(join).Params); n != 1 {
		t.Errorf("join block params = %d, want 1 for the merged local\n%s", n, body)
	}
}

func TestLowerBranchesToFunctionLabel(t *testing.T) {
	body := lower(t, singleFunc(i32ToI32, nil,
		wasm.OpI32Const, 9,
		wasm.OpLocalGet, 0,
		wasm.OpBrIf, 0,
		wasm.OpDrop,
		wasm.OpI32Const, 3,
		wasm.OpLocalGet, 0,
		wasm.OpBrTable, 1, 0, 0,
		wasm.OpEnd))

	cond := body.Block(body.Entry).Term.(*ir.CondBr)
	ret, ok := body.Block(cond.IfTrue.Block).Term.(*ir.Return)
	if !ok {
		t.Fatalf("br_if to function label does not reach a return block")
	}
	if !body.IsBlockParam(ret.Values[0], cond.IfTrue.Block, 0) {
		t.Errorf("return block does not return its parameter")
	}
	sel, ok := body.Block(cond.IfFalse.Block).Term.(*ir.Select)
	if !ok {
		t.Fatalf("br_table terminator = %T", body.Block(cond.IfFalse.Block).Term)
	}
	if sel.Default.Block != cond.IfTrue.Block || sel.Targets[0].Block != cond.IfTrue.Block {
		t.Errorf("br_table targets do not share the return block")
	}
	if !strings.Contains(body.String(), "br_table") {
		t.Errorf("dump misses br_table:\n%s", body)
	}
}

func TestLowerCallsAndStores(t *testing.T) {
	m := singleFunc(noResults, nil,
		wasm.OpCall, 0,
		wasm.OpI32Const, 8,
		wasm.OpI32Const, 1,
		wasm.OpI32Store, 2, 0,
		wasm.OpReturnCall, 0,
		wasm.OpEnd)
	m.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}}
	body := lower(t, m)

	insts := body.Block(body.Entry).Insts
	var names []string
	for _, v := range insts {
		names = append(names, body.Value(v).Op.Name())
	}
	got := strings.Join(names, " ")
	if got != "call i32.const i32.const i32.store call" {
		t.Errorf("instructions = %q", got)
	}
	if _, ok := body.Block(body.Entry).Term.(*ir.Return); !ok {
		t.Errorf("return_call should end in a return")
	}
}

func TestLowerErrors(t *testing.T) {
	tests := []struct {
		name string
		m    *wasm.Module
		idx  uint32
		kind errors.Kind
	}{
		{"imported", singleFunc(noResults, nil, wasm.OpEnd), 0, errors.KindInvalidData},
		{"out of range", singleFunc(noResults, nil, wasm.OpEnd), 4, errors.KindOutOfBounds},
		{"underflow", singleFunc(i32Result, nil, wasm.OpI32Add, wasm.OpEnd), 1, errors.KindInvalidData},
		{"missing end", singleFunc(noResults, nil, wasm.OpNop), 1, errors.KindInvalidData},
		{"simd", singleFunc(noResults, nil, wasm.OpPrefixSIMD, 0x0C, wasm.OpEnd), 1, errors.KindUnsupported},
		{"bad local", singleFunc(i32Result, nil, wasm.OpLocalGet, 3, wasm.OpEnd), 1, errors.KindInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ir.Lower(tt.m, tt.idx)
			if err == nil {
				t.Fatal("expected error")
			}
			if !stderrors.Is(err, errors.Sentinel(tt.kind)) {
				t.Errorf("got %v, want kind %s", err, tt.kind)
			}
			if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLower, Kind: tt.kind}) {
				t.Errorf("phase should be lower: %v", err)
			}
		})
	}
}
