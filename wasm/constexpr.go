package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-weval/wasm/internal/binary"
)

// ErrNotConstant is returned by EvalConstExpr when an expression depends on
// a value that is only known at instantiation, such as an imported global.
var ErrNotConstant = errors.New("expression is not a compile-time constant")

// ConstValue is the result of a constant expression. Numeric values carry
// their raw bits; funcref values carry the function index in Bits unless
// Null is set.
type ConstValue struct {
	Bits uint64
	Type ValType
	Null bool
}

// GlobalResolver returns the value of an earlier global, or false when the
// value is unknown.
type GlobalResolver func(idx uint32) (ConstValue, bool)

// EvalConstExpr evaluates an init expression (end opcode included).
// A nil resolver treats every global.get as unknown.
func EvalConstExpr(expr []byte, globals GlobalResolver) (ConstValue, error) {
	r := binary.NewReader(expr)
	var stack []ConstValue

	pop2 := func() (ConstValue, ConstValue, error) {
		if len(stack) < 2 {
			return ConstValue{}, ConstValue{}, fmt.Errorf("constant expression stack underflow")
		}
		a, b := stack[len(stack)-2], stack[len(stack)-1]
		stack = stack[:len(stack)-2]
		if a.Type != b.Type {
			return ConstValue{}, ConstValue{}, fmt.Errorf("constant expression operand mismatch: %s vs %s", a.Type, b.Type)
		}
		return a, b, nil
	}

	for {
		op, err := r.ReadByte()
		if err != nil {
			return ConstValue{}, fmt.Errorf("constant expression missing end")
		}
		switch op {
		case OpEnd:
			if len(stack) != 1 {
				return ConstValue{}, fmt.Errorf("constant expression leaves %d values", len(stack))
			}
			return stack[0], nil
		case OpI32Const:
			v, err := r.ReadS32()
			if err != nil {
				return ConstValue{}, err
			}
			stack = append(stack, ConstValue{Type: ValI32, Bits: uint64(uint32(v))})
		case OpI64Const:
			v, err := r.ReadS64()
			if err != nil {
				return ConstValue{}, err
			}
			stack = append(stack, ConstValue{Type: ValI64, Bits: uint64(v)})
		case OpF32Const:
			v, err := r.ReadU32LE()
			if err != nil {
				return ConstValue{}, err
			}
			stack = append(stack, ConstValue{Type: ValF32, Bits: uint64(v)})
		case OpF64Const:
			v, err := r.ReadU64LE()
			if err != nil {
				return ConstValue{}, err
			}
			stack = append(stack, ConstValue{Type: ValF64, Bits: v})
		case OpRefNull:
			t, err := r.ReadByte()
			if err != nil {
				return ConstValue{}, err
			}
			stack = append(stack, ConstValue{Type: ValType(t), Null: true})
		case OpRefFunc:
			idx, err := r.ReadU32()
			if err != nil {
				return ConstValue{}, err
			}
			stack = append(stack, ConstValue{Type: ValFuncRef, Bits: uint64(idx)})
		case OpGlobalGet:
			idx, err := r.ReadU32()
			if err != nil {
				return ConstValue{}, err
			}
			if globals == nil {
				return ConstValue{}, ErrNotConstant
			}
			v, ok := globals(idx)
			if !ok {
				return ConstValue{}, ErrNotConstant
			}
			stack = append(stack, v)
		case OpI32Add, OpI32Sub, OpI32Mul:
			a, b, err := pop2()
			if err != nil {
				return ConstValue{}, err
			}
			x, y := uint32(a.Bits), uint32(b.Bits)
			var res uint32
			switch op {
			case OpI32Add:
				res = x + y
			case OpI32Sub:
				res = x - y
			default:
				res = x * y
			}
			stack = append(stack, ConstValue{Type: ValI32, Bits: uint64(res)})
		case OpI64Add, OpI64Sub, OpI64Mul:
			a, b, err := pop2()
			if err != nil {
				return ConstValue{}, err
			}
			var res uint64
			switch op {
			case OpI64Add:
				res = a.Bits + b.Bits
			case OpI64Sub:
				res = a.Bits - b.Bits
			default:
				res = a.Bits * b.Bits
			}
			stack = append(stack, ConstValue{Type: ValI64, Bits: res})
		default:
			return ConstValue{}, fmt.Errorf("unsupported opcode 0x%02x in constant expression", op)
		}
	}
}
