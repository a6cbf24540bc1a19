// Package ir holds a control-flow form of WebAssembly function bodies.
//
// A body is a set of basic blocks. Blocks take parameters in place of phi
// nodes, hold a list of operator values in program order and end with a
// terminator that names its successor blocks together with the arguments
// passed to their parameters. Wasm locals never appear in this form: every
// local.get is resolved to the value that reaches it.
package ir

import (
	"github.com/wippyai/wasm-weval/wasm"
)

// Block identifies a basic block within a FunctionBody.
type Block uint32

// Value identifies an SSA value within a FunctionBody.
type Value uint32

// ValueKind distinguishes how a value is defined.
type ValueKind uint8

const (
	// ValueOperator is the result of an instruction.
	ValueOperator ValueKind = iota
	// ValueBlockParam is a block parameter.
	ValueBlockParam
	// ValuePick selects one result of a multi-result operator.
	ValuePick
)

// Operator is a wasm instruction with its decoded immediate.
type Operator struct {
	Imm    interface{}
	Opcode byte
}

// ValueDef describes the definition of a Value.
type ValueDef struct {
	Op     Operator
	Args   []Value
	Types  []wasm.ValType
	Index  int   // parameter index, or result index for picks
	Block  Block // owning block of a parameter
	Source Value // operator a pick reads from
	Kind   ValueKind
}

// Type returns the single type of the value, or 0 for operators that
// produce zero or several results.
func (d *ValueDef) Type() wasm.ValType {
	if len(d.Types) != 1 {
		return 0
	}
	return d.Types[0]
}

// BlockTarget is a successor edge: the target block and the arguments
// bound to its parameters.
type BlockTarget struct {
	Args  []Value
	Block Block
}

// Terminator ends a block.
type Terminator interface {
	// Successors returns the outgoing edges in a fixed order.
	Successors() []*BlockTarget
}

// Return leaves the function with the given values.
type Return struct {
	Values []Value
}

// Br jumps unconditionally.
type Br struct {
	Target BlockTarget
}

// CondBr jumps to IfTrue when Cond is non-zero, to IfFalse otherwise.
type CondBr struct {
	IfTrue  BlockTarget
	IfFalse BlockTarget
	Cond    Value
}

// Select jumps to Targets[Index], or to Default when Index is out of range.
type Select struct {
	Targets []BlockTarget
	Default BlockTarget
	Index   Value
}

// Unreachable traps.
type Unreachable struct{}

func (*Return) Successors() []*BlockTarget      { return nil }
func (t *Br) Successors() []*BlockTarget        { return []*BlockTarget{&t.Target} }
func (t *CondBr) Successors() []*BlockTarget    { return []*BlockTarget{&t.IfTrue, &t.IfFalse} }
func (*Unreachable) Successors() []*BlockTarget { return nil }

func (t *Select) Successors() []*BlockTarget {
	out := make([]*BlockTarget, 0, len(t.Targets)+1)
	for i := range t.Targets {
		out = append(out, &t.Targets[i])
	}
	return append(out, &t.Default)
}

// BlockDef is a basic block.
type BlockDef struct {
	Term   Terminator
	Params []Value
	Insts  []Value
	Preds  []Block
}

// FunctionBody is a lowered function.
type FunctionBody struct {
	Params  []wasm.ValType
	Results []wasm.ValType
	Blocks  []BlockDef
	Values  []ValueDef
	Entry   Block
}

// Block returns the definition of b.
func (f *FunctionBody) Block(b Block) *BlockDef {
	return &f.Blocks[b]
}

// Value returns the definition of v.
func (f *FunctionBody) Value(v Value) *ValueDef {
	return &f.Values[v]
}

// I32Const reports the literal of v when v is an i32.const operator.
func (f *FunctionBody) I32Const(v Value) (uint32, bool) {
	d := &f.Values[v]
	if d.Kind != ValueOperator || d.Op.Opcode != wasm.OpI32Const {
		return 0, false
	}
	return uint32(d.Op.Imm.(wasm.I32Imm).Value), true
}

// IsBlockParam reports whether v is parameter index of block b.
func (f *FunctionBody) IsBlockParam(v Value, b Block, index int) bool {
	params := f.Blocks[b].Params
	return index < len(params) && params[index] == v
}
