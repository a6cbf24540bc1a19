package image

import (
	"fmt"
	"math"

	"github.com/wippyai/wasm-weval/wasm"
)

// Value is a numeric global value held as raw bits.
type Value struct {
	Bits uint64
	Type wasm.ValType
}

// ValueFromBits builds a Value of a numeric type. Reference and vector
// types are rejected.
func ValueFromBits(t wasm.ValType, bits uint64) (Value, bool) {
	switch t {
	case wasm.ValI32, wasm.ValF32:
		return Value{Type: t, Bits: bits & math.MaxUint32}, true
	case wasm.ValI64, wasm.ValF64:
		return Value{Type: t, Bits: bits}, true
	}
	return Value{}, false
}

func (v Value) I32() uint32  { return uint32(v.Bits) }
func (v Value) I64() uint64  { return v.Bits }
func (v Value) F32() float32 { return math.Float32frombits(uint32(v.Bits)) }
func (v Value) F64() float64 { return math.Float64frombits(v.Bits) }

func (v Value) String() string {
	switch v.Type {
	case wasm.ValI32:
		return fmt.Sprintf("i32:%d", int32(v.I32()))
	case wasm.ValI64:
		return fmt.Sprintf("i64:%d", int64(v.I64()))
	case wasm.ValF32:
		return fmt.Sprintf("f32:%g", v.F32())
	case wasm.ValF64:
		return fmt.Sprintf("f64:%g", v.F64())
	}
	return fmt.Sprintf("%s:%#x", v.Type, v.Bits)
}
