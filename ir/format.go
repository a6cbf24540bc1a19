package ir

import (
	"fmt"
	"strings"

	"github.com/wippyai/wasm-weval/wasm"
)

var opNames = map[byte]string{
	wasm.OpCall:          "call",
	wasm.OpCallIndirect:  "call_indirect",
	wasm.OpSelect:        "select",
	wasm.OpSelectType:    "select",
	wasm.OpGlobalGet:     "global.get",
	wasm.OpGlobalSet:     "global.set",
	wasm.OpTableGet:      "table.get",
	wasm.OpTableSet:      "table.set",
	wasm.OpI32Load:       "i32.load",
	wasm.OpI64Load:       "i64.load",
	wasm.OpF32Load:       "f32.load",
	wasm.OpF64Load:       "f64.load",
	wasm.OpI32Load8S:     "i32.load8_s",
	wasm.OpI32Load8U:     "i32.load8_u",
	wasm.OpI32Load16S:    "i32.load16_s",
	wasm.OpI32Load16U:    "i32.load16_u",
	wasm.OpI64Load8S:     "i64.load8_s",
	wasm.OpI64Load8U:     "i64.load8_u",
	wasm.OpI64Load16S:    "i64.load16_s",
	wasm.OpI64Load16U:    "i64.load16_u",
	wasm.OpI64Load32S:    "i64.load32_s",
	wasm.OpI64Load32U:    "i64.load32_u",
	wasm.OpI32Store:      "i32.store",
	wasm.OpI64Store:      "i64.store",
	wasm.OpF32Store:      "f32.store",
	wasm.OpF64Store:      "f64.store",
	wasm.OpI32Store8:     "i32.store8",
	wasm.OpI32Store16:    "i32.store16",
	wasm.OpI64Store8:     "i64.store8",
	wasm.OpI64Store16:    "i64.store16",
	wasm.OpI64Store32:    "i64.store32",
	wasm.OpMemorySize:    "memory.size",
	wasm.OpMemoryGrow:    "memory.grow",
	wasm.OpI32Const:      "i32.const",
	wasm.OpI64Const:      "i64.const",
	wasm.OpF32Const:      "f32.const",
	wasm.OpF64Const:      "f64.const",
	wasm.OpI32Eqz:        "i32.eqz",
	wasm.OpI32Eq:         "i32.eq",
	wasm.OpI64Eqz:        "i64.eqz",
	wasm.OpI64Eq:         "i64.eq",
	wasm.OpI32Add:        "i32.add",
	wasm.OpI32Sub:        "i32.sub",
	wasm.OpI32Mul:        "i32.mul",
	wasm.OpI32And:        "i32.and",
	wasm.OpI32Or:         "i32.or",
	wasm.OpI32Xor:        "i32.xor",
	wasm.OpI64Add:        "i64.add",
	wasm.OpI64Sub:        "i64.sub",
	wasm.OpI64Mul:        "i64.mul",
	wasm.OpI64And:        "i64.and",
	wasm.OpI64Or:         "i64.or",
	wasm.OpI64Xor:        "i64.xor",
	wasm.OpI32WrapI64:    "i32.wrap_i64",
	wasm.OpI64ExtendI32S: "i64.extend_i32_s",
	wasm.OpI64ExtendI32U: "i64.extend_i32_u",
	wasm.OpRefNull:       "ref.null",
	wasm.OpRefIsNull:     "ref.is_null",
	wasm.OpRefFunc:       "ref.func",
}

// Name returns the text format mnemonic of the operator, or its opcode in
// hex when none is recorded.
func (o Operator) Name() string {
	if o.Opcode == wasm.OpPrefixMisc {
		if imm, ok := o.Imm.(wasm.MiscImm); ok {
			return fmt.Sprintf("misc.0x%02x", imm.SubOpcode)
		}
	}
	if name, ok := opNames[o.Opcode]; ok {
		return name
	}
	return fmt.Sprintf("op.0x%02x", o.Opcode)
}

func (o Operator) immString() string {
	switch imm := o.Imm.(type) {
	case wasm.I32Imm:
		return fmt.Sprint(imm.Value)
	case wasm.I64Imm:
		return fmt.Sprint(imm.Value)
	case wasm.F32Imm:
		return fmt.Sprintf("0x%08x", imm.Bits)
	case wasm.F64Imm:
		return fmt.Sprintf("0x%016x", imm.Bits)
	case wasm.CallImm:
		return fmt.Sprintf("func%d", imm.FuncIdx)
	case wasm.CallIndirectImm:
		return fmt.Sprintf("type%d table%d", imm.TypeIdx, imm.TableIdx)
	case wasm.GlobalImm:
		return fmt.Sprintf("global%d", imm.GlobalIdx)
	case wasm.TableImm:
		return fmt.Sprintf("table%d", imm.TableIdx)
	case wasm.MemoryImm:
		if imm.MemIdx != 0 {
			return fmt.Sprintf("mem%d offset=%d", imm.MemIdx, imm.Offset)
		}
		return fmt.Sprintf("offset=%d", imm.Offset)
	case wasm.RefFuncImm:
		return fmt.Sprintf("func%d", imm.FuncIdx)
	}
	return ""
}

func (t BlockTarget) String() string {
	return fmt.Sprintf("block%d%s", t.Block, valueList(t.Args))
}

func valueList(vs []Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprintf("v%d", v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// String renders the body in a line-oriented text form, one block per
// paragraph.
func (f *FunctionBody) String() string {
	var b strings.Builder
	for i := range f.Blocks {
		blk := &f.Blocks[i]
		fmt.Fprintf(&b, "block%d(", i)
		for j, p := range blk.Params {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "v%d: %s", p, f.Values[p].Type())
		}
		b.WriteString("):")
		if Block(i) == f.Entry {
			b.WriteString(" ; entry")
		}
		b.WriteByte('\n')

		for _, v := range blk.Insts {
			d := &f.Values[v]
			b.WriteString("  ")
			if len(d.Types) > 0 {
				fmt.Fprintf(&b, "v%d = ", v)
			}
			b.WriteString(d.Op.Name())
			if imm := d.Op.immString(); imm != "" {
				b.WriteByte(' ')
				b.WriteString(imm)
			}
			if len(d.Args) > 0 {
				b.WriteByte(' ')
				b.WriteString(valueList(d.Args))
			}
			b.WriteByte('\n')
		}

		b.WriteString("  ")
		switch t := blk.Term.(type) {
		case *Return:
			b.WriteString("return " + valueList(t.Values))
		case *Br:
			b.WriteString("br " + t.Target.String())
		case *CondBr:
			fmt.Fprintf(&b, "br_if v%d, %s, %s", t.Cond, t.IfTrue, t.IfFalse)
		case *Select:
			fmt.Fprintf(&b, "br_table v%d, [", t.Index)
			for j, tgt := range t.Targets {
				if j > 0 {
					b.WriteString(", ")
				}
				b.WriteString(tgt.String())
			}
			fmt.Fprintf(&b, "], %s", t.Default)
		case *Unreachable:
			b.WriteString("unreachable")
		default:
			b.WriteString("<none>")
		}
		b.WriteByte('\n')
	}
	return b.String()
}
