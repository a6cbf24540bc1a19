package wasm_test

import (
	"errors"
	"testing"

	"github.com/wippyai/wasm-weval/wasm"
)

func TestEvalConstExpr(t *testing.T) {
	globals := func(idx uint32) (wasm.ConstValue, bool) {
		if idx == 0 {
			return wasm.ConstValue{Type: wasm.ValI32, Bits: 100}, true
		}
		return wasm.ConstValue{}, false
	}

	tests := []struct {
		name string
		expr []byte
		want wasm.ConstValue
	}{
		{"i32", wasm.ConstI32Expr(-1), wasm.ConstValue{Type: wasm.ValI32, Bits: 0xFFFFFFFF}},
		{"i64", wasm.ConstI64Expr(-2), wasm.ConstValue{Type: wasm.ValI64, Bits: 0xFFFFFFFFFFFFFFFE}},
		{"f32", []byte{wasm.OpF32Const, 0x00, 0x00, 0x80, 0x3F, wasm.OpEnd}, wasm.ConstValue{Type: wasm.ValF32, Bits: 0x3F800000}},
		{"f64", []byte{wasm.OpF64Const, 0, 0, 0, 0, 0, 0, 0xF0, 0x3F, wasm.OpEnd}, wasm.ConstValue{Type: wasm.ValF64, Bits: 0x3FF0000000000000}},
		{"global", []byte{wasm.OpGlobalGet, 0x00, wasm.OpEnd}, wasm.ConstValue{Type: wasm.ValI32, Bits: 100}},
		{"extended", []byte{wasm.OpGlobalGet, 0x00, wasm.OpI32Const, 0x08, wasm.OpI32Add, wasm.OpI32Const, 0x02, wasm.OpI32Mul, wasm.OpEnd}, wasm.ConstValue{Type: wasm.ValI32, Bits: 216}},
		{"i64 sub", []byte{wasm.OpI64Const, 0x01, wasm.OpI64Const, 0x02, wasm.OpI64Sub, wasm.OpEnd}, wasm.ConstValue{Type: wasm.ValI64, Bits: ^uint64(0)}},
		{"ref.func", []byte{wasm.OpRefFunc, 0x03, wasm.OpEnd}, wasm.ConstValue{Type: wasm.ValFuncRef, Bits: 3}},
		{"ref.null", []byte{wasm.OpRefNull, byte(wasm.ValFuncRef), wasm.OpEnd}, wasm.ConstValue{Type: wasm.ValFuncRef, Null: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := wasm.EvalConstExpr(tt.expr, globals)
			if err != nil {
				t.Fatalf("EvalConstExpr: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEvalConstExprErrors(t *testing.T) {
	if _, err := wasm.EvalConstExpr([]byte{wasm.OpGlobalGet, 0x01, wasm.OpEnd}, nil); !errors.Is(err, wasm.ErrNotConstant) {
		t.Errorf("nil resolver: got %v", err)
	}
	if _, err := wasm.EvalConstExpr([]byte{wasm.OpGlobalGet, 0x05, wasm.OpEnd}, func(uint32) (wasm.ConstValue, bool) {
		return wasm.ConstValue{}, false
	}); !errors.Is(err, wasm.ErrNotConstant) {
		t.Errorf("unknown global: got %v", err)
	}

	bad := map[string][]byte{
		"missing end": {wasm.OpI32Const, 0x01},
		"empty":       {wasm.OpEnd},
		"two values":  {wasm.OpI32Const, 0x01, wasm.OpI32Const, 0x02, wasm.OpEnd},
		"underflow":   {wasm.OpI32Const, 0x01, wasm.OpI32Add, wasm.OpEnd},
		"mixed":       {wasm.OpI32Const, 0x01, wasm.OpI64Const, 0x01, wasm.OpI32Add, wasm.OpEnd},
		"non-const":   {wasm.OpLocalGet, 0x00, wasm.OpEnd},
	}
	for name, expr := range bad {
		if _, err := wasm.EvalConstExpr(expr, nil); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
