package ir

import (
	"fmt"

	"github.com/wippyai/wasm-weval/wasm"
)

var (
	typesI32 = []wasm.ValType{wasm.ValI32}
	typesI64 = []wasm.ValType{wasm.ValI64}
	typesF32 = []wasm.ValType{wasm.ValF32}
	typesF64 = []wasm.ValType{wasm.ValF64}
)

// numericEffect returns operand count and result types of the plain numeric
// opcodes 0x45..0xC4.
func numericEffect(op byte) (int, []wasm.ValType, bool) {
	switch {
	case op == wasm.OpI32Eqz, op == wasm.OpI64Eqz:
		return 1, typesI32, true
	case op >= wasm.OpI32Eq && op <= wasm.OpI32GeU,
		op >= wasm.OpI64Eq && op <= wasm.OpI64GeU,
		op >= wasm.OpF32Eq && op <= wasm.OpF32Ge,
		op >= wasm.OpF64Eq && op <= wasm.OpF64Ge:
		return 2, typesI32, true
	case op >= wasm.OpI32Clz && op <= wasm.OpI32Popcnt:
		return 1, typesI32, true
	case op >= wasm.OpI32Add && op <= wasm.OpI32Rotr:
		return 2, typesI32, true
	case op >= wasm.OpI64Clz && op <= wasm.OpI64Popcnt:
		return 1, typesI64, true
	case op >= wasm.OpI64Add && op <= wasm.OpI64Rotr:
		return 2, typesI64, true
	case op >= wasm.OpF32Abs && op <= wasm.OpF32Sqrt:
		return 1, typesF32, true
	case op >= wasm.OpF32Add && op <= wasm.OpF32Copysign:
		return 2, typesF32, true
	case op >= wasm.OpF64Abs && op <= wasm.OpF64Sqrt:
		return 1, typesF64, true
	case op >= wasm.OpF64Add && op <= wasm.OpF64Copysign:
		return 2, typesF64, true
	case op == wasm.OpI32WrapI64, op >= wasm.OpI32TruncF32S && op <= wasm.OpI32TruncF64U,
		op == wasm.OpI32ReinterpretF32, op == wasm.OpI32Extend8S, op == wasm.OpI32Extend16S:
		return 1, typesI32, true
	case op >= wasm.OpI64ExtendI32S && op <= wasm.OpI64TruncF64U,
		op == wasm.OpI64ReinterpretF64, op >= wasm.OpI64Extend8S && op <= wasm.OpI64Extend32S:
		return 1, typesI64, true
	case op >= wasm.OpF32ConvertI32S && op <= wasm.OpF32DemoteF64, op == wasm.OpF32ReinterpretI32:
		return 1, typesF32, true
	case op >= wasm.OpF64ConvertI32S && op <= wasm.OpF64PromoteF32, op == wasm.OpF64ReinterpretI64:
		return 1, typesF64, true
	}
	return 0, nil, false
}

func loadType(op byte) []wasm.ValType {
	switch op {
	case wasm.OpI32Load, wasm.OpI32Load8S, wasm.OpI32Load8U, wasm.OpI32Load16S, wasm.OpI32Load16U:
		return typesI32
	case wasm.OpF32Load:
		return typesF32
	case wasm.OpF64Load:
		return typesF64
	default:
		return typesI64
	}
}

func miscEffect(imm wasm.MiscImm) (int, []wasm.ValType) {
	switch imm.SubOpcode {
	case wasm.MiscI32TruncSatF32S, wasm.MiscI32TruncSatF32U, wasm.MiscI32TruncSatF64S, wasm.MiscI32TruncSatF64U:
		return 1, typesI32
	case wasm.MiscI64TruncSatF32S, wasm.MiscI64TruncSatF32U, wasm.MiscI64TruncSatF64S, wasm.MiscI64TruncSatF64U:
		return 1, typesI64
	case wasm.MiscDataDrop, wasm.MiscElemDrop:
		return 0, nil
	case wasm.MiscTableGrow:
		return 2, typesI32
	case wasm.MiscTableSize:
		return 0, typesI32
	default: // memory.init, memory.copy, memory.fill, table.init, table.copy, table.fill
		return 3, nil
	}
}

// blockType expands an s33 block type into params and results.
func blockType(m *wasm.Module, t int64) ([]wasm.ValType, []wasm.ValType, error) {
	switch {
	case t == wasm.BlockTypeVoid:
		return nil, nil, nil
	case t < 0:
		return nil, []wasm.ValType{wasm.ValType(byte(t & 0x7F))}, nil
	case t >= int64(len(m.Types)):
		return nil, nil, fmt.Errorf("block type index %d out of range", t)
	default:
		ft := m.Types[t]
		return ft.Params, ft.Results, nil
	}
}

// memory64 reports whether memory idx uses 64-bit addressing.
func memory64(m *wasm.Module, idx uint32) bool {
	for _, imp := range m.Imports {
		if imp.Desc.Kind != wasm.KindMemory {
			continue
		}
		if idx == 0 {
			return imp.Desc.Memory.Limits.Memory64
		}
		idx--
	}
	if int(idx) < len(m.Memories) {
		return m.Memories[idx].Limits.Memory64
	}
	return false
}

func zeroOperator(t wasm.ValType) (Operator, error) {
	switch t {
	case wasm.ValI32:
		return Operator{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{}}, nil
	case wasm.ValI64:
		return Operator{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{}}, nil
	case wasm.ValF32:
		return Operator{Opcode: wasm.OpF32Const, Imm: wasm.F32Imm{}}, nil
	case wasm.ValF64:
		return Operator{Opcode: wasm.OpF64Const, Imm: wasm.F64Imm{}}, nil
	case wasm.ValFuncRef, wasm.ValExtern:
		return Operator{Opcode: wasm.OpRefNull, Imm: wasm.RefNullImm{Type: t}}, nil
	}
	return Operator{}, fmt.Errorf("local of type %s", t)
}
