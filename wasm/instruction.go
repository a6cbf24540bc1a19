package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-weval/wasm/internal/binary"
)

// ErrUnsupportedOpcode is returned by DecodeInstructions for instructions
// outside the core, bulk memory and reference type instruction sets.
var ErrUnsupportedOpcode = errors.New("unsupported opcode")

// memArgMultiMemBit flags an explicit memory index in a memarg alignment.
const memArgMultiMemBit = 0x40

// Instruction represents a decoded WebAssembly instruction
type Instruction struct {
	Imm    interface{}
	Offset int // byte offset of the opcode within the body
	Opcode byte
}

// BlockImm holds the block type for block, loop and if instructions.
type BlockImm struct {
	Type int64 // s33: BlockTypeVoid, a negative value type, or a type index
}

// BranchImm holds the label index for br and br_if instructions.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table instruction.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call and return_call.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds type and table indices for call_indirect.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// LocalImm holds the local index for local.get, local.set, local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index for global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// TableImm holds table index for table.get/table.set
type TableImm struct {
	TableIdx uint32
}

// MemoryImm holds memory access parameters for load and store instructions.
type MemoryImm struct {
	Offset uint64
	Align  uint32
	MemIdx uint32
}

// MemoryIdxImm holds memory index for memory.size, memory.grow
type MemoryIdxImm struct {
	MemIdx uint32
}

// I32Imm holds the constant value for i32.const instruction.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant value for i64.const instruction.
type I64Imm struct {
	Value int64
}

// F32Imm holds the raw bits of an f32.const.
type F32Imm struct {
	Bits uint32
}

// F64Imm holds the raw bits of an f64.const.
type F64Imm struct {
	Bits uint64
}

// SelectTypeImm holds value types for typed select
type SelectTypeImm struct {
	Types []ValType
}

// RefNullImm holds the reference type for ref.null
type RefNullImm struct {
	Type ValType
}

// RefFuncImm holds the function index for ref.func
type RefFuncImm struct {
	FuncIdx uint32
}

// MiscImm holds the sub-opcode and immediates for 0xFC prefix instructions
type MiscImm struct {
	Operands  []uint32
	SubOpcode uint32
}

// DecodeInstructions decodes a sequence of instructions from raw bytes
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := binary.NewReader(code)
	instrs := make([]Instruction, 0, len(code)/2)

	for r.Len() > 0 {
		offset := r.Position()
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		imm, err := decodeImmediate(r, op)
		if err != nil {
			return nil, fmt.Errorf("opcode 0x%02x at offset %d: %w", op, offset, err)
		}
		instrs = append(instrs, Instruction{Opcode: op, Imm: imm, Offset: offset})
	}
	return instrs, nil
}

func decodeImmediate(r *binary.Reader, op byte) (interface{}, error) {
	switch {
	case op == OpBlock || op == OpLoop || op == OpIf:
		bt, err := r.ReadS33()
		return BlockImm{Type: bt}, err

	case op == OpBr || op == OpBrIf:
		idx, err := r.ReadU32()
		return BranchImm{LabelIdx: idx}, err

	case op == OpBrTable:
		count, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if int(count) > r.Len() {
			return nil, fmt.Errorf("br_table label count %d exceeds body", count)
		}
		labels := make([]uint32, count)
		for i := range labels {
			if labels[i], err = r.ReadU32(); err != nil {
				return nil, err
			}
		}
		def, err := r.ReadU32()
		return BrTableImm{Labels: labels, Default: def}, err

	case op == OpCall || op == OpReturnCall:
		idx, err := r.ReadU32()
		return CallImm{FuncIdx: idx}, err

	case op == OpCallIndirect || op == OpReturnCallIndirect:
		typeIdx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		tableIdx, err := r.ReadU32()
		return CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}, err

	case op == OpSelectType:
		count, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		imm := SelectTypeImm{}
		for i := uint32(0); i < count; i++ {
			b, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			imm.Types = append(imm.Types, ValType(b))
		}
		return imm, nil

	case op == OpLocalGet || op == OpLocalSet || op == OpLocalTee:
		idx, err := r.ReadU32()
		return LocalImm{LocalIdx: idx}, err

	case op == OpGlobalGet || op == OpGlobalSet:
		idx, err := r.ReadU32()
		return GlobalImm{GlobalIdx: idx}, err

	case op == OpTableGet || op == OpTableSet:
		idx, err := r.ReadU32()
		return TableImm{TableIdx: idx}, err

	case op >= OpI32Load && op <= OpI64Store32:
		return readMemArg(r)

	case op == OpMemorySize || op == OpMemoryGrow:
		idx, err := r.ReadU32()
		return MemoryIdxImm{MemIdx: idx}, err

	case op == OpI32Const:
		v, err := r.ReadS32()
		return I32Imm{Value: v}, err

	case op == OpI64Const:
		v, err := r.ReadS64()
		return I64Imm{Value: v}, err

	case op == OpF32Const:
		v, err := r.ReadU32LE()
		return F32Imm{Bits: v}, err

	case op == OpF64Const:
		v, err := r.ReadU64LE()
		return F64Imm{Bits: v}, err

	case op == OpRefNull:
		b, err := r.ReadByte()
		return RefNullImm{Type: ValType(b)}, err

	case op == OpRefFunc:
		idx, err := r.ReadU32()
		return RefFuncImm{FuncIdx: idx}, err

	case op == OpPrefixMisc:
		return readMiscImmediate(r)

	case op <= OpNop, op == OpElse, op == OpEnd, op == OpReturn,
		op == OpDrop, op == OpSelect, op == OpRefIsNull,
		op >= OpI32Eqz && op <= OpI64Extend32S:
		return nil, nil
	}
	return nil, ErrUnsupportedOpcode
}

func readMemArg(r *binary.Reader) (MemoryImm, error) {
	alignRaw, err := r.ReadU32()
	if err != nil {
		return MemoryImm{}, err
	}

	var memIdx uint32
	if alignRaw&memArgMultiMemBit != 0 {
		if memIdx, err = r.ReadU32(); err != nil {
			return MemoryImm{}, err
		}
	}

	offset, err := r.ReadU64()
	if err != nil {
		return MemoryImm{}, err
	}

	return MemoryImm{
		Align:  alignRaw &^ uint32(memArgMultiMemBit),
		Offset: offset,
		MemIdx: memIdx,
	}, nil
}

func readMiscImmediate(r *binary.Reader) (MiscImm, error) {
	sub, err := r.ReadU32()
	if err != nil {
		return MiscImm{}, err
	}

	var n int
	switch sub {
	case MiscI32TruncSatF32S, MiscI32TruncSatF32U, MiscI32TruncSatF64S, MiscI32TruncSatF64U,
		MiscI64TruncSatF32S, MiscI64TruncSatF32U, MiscI64TruncSatF64S, MiscI64TruncSatF64U:
		n = 0
	case MiscDataDrop, MiscMemoryFill, MiscElemDrop, MiscTableGrow, MiscTableSize, MiscTableFill:
		n = 1
	case MiscMemoryInit, MiscMemoryCopy, MiscTableInit, MiscTableCopy:
		n = 2
	default:
		return MiscImm{}, fmt.Errorf("misc sub-opcode 0x%02x: %w", sub, ErrUnsupportedOpcode)
	}

	imm := MiscImm{SubOpcode: sub}
	for i := 0; i < n; i++ {
		v, err := r.ReadU32()
		if err != nil {
			return MiscImm{}, err
		}
		imm.Operands = append(imm.Operands, v)
	}
	return imm, nil
}
