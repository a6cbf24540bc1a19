package ir

import (
	stderrors "errors"
	"fmt"

	"github.com/wippyai/wasm-weval/errors"
	"github.com/wippyai/wasm-weval/wasm"
)

type frameKind uint8

const (
	frameFunction frameKind = iota
	frameBlock
	frameLoop
	frameIfWithoutElse
	frameIfWithElse
)

type controlFrame struct {
	params    []wasm.ValType
	results   []wasm.ValType
	elseArgs  []Value
	base      int   // operand stack height without the frame's params
	header    Block // loop header, or else block of an if
	following Block // block entered at end
	kind      frameKind
}

// branchArity is the number of values a branch to the frame carries.
func (f *controlFrame) branchArity() int {
	if f.kind == frameLoop {
		return len(f.params)
	}
	return len(f.results)
}

type predEdge struct {
	from Block
	edge int // index into the predecessor's Successors
}

type incompleteParam struct {
	value Value
	local uint32
}

type blockState struct {
	defs       map[uint32]Value
	preds      []predEdge
	incomplete []incompleteParam
	sealed     bool
}

type lowerer struct {
	m           *wasm.Module
	fn          *FunctionBody
	blocks      []blockState
	localTypes  []wasm.ValType
	values      []Value
	frames      []controlFrame
	cur         Block
	retBlock    Block
	hasRetBlock bool

	unreachable      bool
	unreachableDepth int
}

// Lower converts function funcIdx of m (imports included in the index
// space) into control-flow form.
func Lower(m *wasm.Module, funcIdx uint32) (*FunctionBody, error) {
	numImported := uint32(m.NumImportedFuncs())
	if funcIdx < numImported {
		return nil, errors.New(errors.PhaseLower, errors.KindInvalidData).
			Path("func", fmt.Sprint(funcIdx)).
			Detail("imported function has no body").
			Build()
	}
	local := funcIdx - numImported
	if int(local) >= len(m.Code) {
		return nil, errors.IndexOutOfBounds(errors.PhaseLower, []string{"func"}, int(funcIdx), int(numImported)+len(m.Code))
	}
	sig := m.GetFuncType(funcIdx)
	if sig == nil {
		return nil, errors.New(errors.PhaseLower, errors.KindInvalidData).
			Path("func", fmt.Sprint(funcIdx)).
			Detail("function type not found").
			Build()
	}

	instrs, err := wasm.DecodeInstructions(m.Code[local].Code)
	if err != nil {
		kind := errors.KindInvalidData
		if stderrors.Is(err, wasm.ErrUnsupportedOpcode) {
			kind = errors.KindUnsupported
		}
		return nil, errors.New(errors.PhaseLower, kind).
			Path("func", fmt.Sprint(funcIdx)).
			Cause(err).
			Detail("decode body").
			Build()
	}

	l := &lowerer{m: m, fn: &FunctionBody{Params: sig.Params, Results: sig.Results}}
	if err := l.lower(sig, m.Code[local].Locals, instrs); err != nil {
		kind := errors.KindInvalidData
		if stderrors.Is(err, wasm.ErrUnsupportedOpcode) {
			kind = errors.KindUnsupported
		}
		return nil, errors.New(errors.PhaseLower, kind).
			Path("func", fmt.Sprint(funcIdx)).
			Cause(err).
			Detail("lower body").
			Build()
	}
	for i := range l.fn.Blocks {
		for _, p := range l.blocks[i].preds {
			l.fn.Blocks[i].Preds = append(l.fn.Blocks[i].Preds, p.from)
		}
	}
	return l.fn, nil
}

func (l *lowerer) lower(sig *wasm.FuncType, locals []wasm.LocalEntry, instrs []wasm.Instruction) error {
	entry := l.newBlock()
	l.fn.Entry = entry
	l.seal(entry)
	l.cur = entry

	for i, t := range sig.Params {
		v := l.addParam(entry, t)
		l.defineLocal(entry, uint32(i), v)
		l.localTypes = append(l.localTypes, t)
	}
	for _, group := range locals {
		if uint64(len(l.localTypes))+uint64(group.Count) > 50000 {
			return fmt.Errorf("too many locals")
		}
		zero, err := zeroOperator(group.ValType)
		if err != nil {
			return err
		}
		for j := uint32(0); j < group.Count; j++ {
			idx := uint32(len(l.localTypes))
			l.localTypes = append(l.localTypes, group.ValType)
			v := l.emit(zero, nil, []wasm.ValType{group.ValType})
			l.defineLocal(entry, idx, v[0])
		}
	}

	l.frames = append(l.frames, controlFrame{kind: frameFunction, results: sig.Results})

	for _, in := range instrs {
		if len(l.frames) == 0 {
			return fmt.Errorf("instructions after function end at offset %d", in.Offset)
		}
		if err := l.instruction(in); err != nil {
			return fmt.Errorf("offset %d: %w", in.Offset, err)
		}
	}
	if len(l.frames) != 0 {
		return fmt.Errorf("missing end")
	}
	return nil
}

func (l *lowerer) instruction(in wasm.Instruction) error {
	switch in.Opcode {
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
		if l.unreachable {
			l.unreachableDepth++
			return nil
		}
		params, results, err := blockType(l.m, in.Imm.(wasm.BlockImm).Type)
		if err != nil {
			return err
		}
		return l.enter(in.Opcode, params, results)
	case wasm.OpElse:
		return l.elseBranch()
	case wasm.OpEnd:
		return l.end()
	}

	if l.unreachable {
		return nil
	}

	switch in.Opcode {
	case wasm.OpNop:
	case wasm.OpUnreachable:
		l.terminate(&Unreachable{})
	case wasm.OpBr:
		return l.br(in.Imm.(wasm.BranchImm).LabelIdx)
	case wasm.OpBrIf:
		return l.brIf(in.Imm.(wasm.BranchImm).LabelIdx)
	case wasm.OpBrTable:
		return l.brTable(in.Imm.(wasm.BrTableImm))
	case wasm.OpReturn:
		vals, err := l.peek(len(l.fn.Results))
		if err != nil {
			return err
		}
		l.terminate(&Return{Values: vals})
	case wasm.OpDrop:
		_, err := l.pop(1)
		return err
	case wasm.OpLocalGet:
		idx := in.Imm.(wasm.LocalImm).LocalIdx
		if int(idx) >= len(l.localTypes) {
			return fmt.Errorf("local %d out of range", idx)
		}
		l.push(l.readLocal(l.cur, idx))
	case wasm.OpLocalSet, wasm.OpLocalTee:
		idx := in.Imm.(wasm.LocalImm).LocalIdx
		if int(idx) >= len(l.localTypes) {
			return fmt.Errorf("local %d out of range", idx)
		}
		args, err := l.pop(1)
		if err != nil {
			return err
		}
		l.defineLocal(l.cur, idx, args[0])
		if in.Opcode == wasm.OpLocalTee {
			l.push(args[0])
		}
	case wasm.OpReturnCall, wasm.OpReturnCallIndirect:
		op := wasm.OpCall
		if in.Opcode == wasm.OpReturnCallIndirect {
			op = wasm.OpCallIndirect
		}
		if err := l.operator(wasm.Instruction{Opcode: op, Imm: in.Imm}); err != nil {
			return err
		}
		vals, err := l.peek(len(l.fn.Results))
		if err != nil {
			return err
		}
		l.terminate(&Return{Values: vals})
	default:
		return l.operator(in)
	}
	return nil
}

// operator lowers an instruction with a plain stack effect.
func (l *lowerer) operator(in wasm.Instruction) error {
	nargs, results, err := l.effect(in)
	if err != nil {
		return err
	}
	args, err := l.pop(nargs)
	if err != nil {
		return err
	}
	for _, v := range l.emit(Operator{Opcode: in.Opcode, Imm: in.Imm}, args, results) {
		l.push(v)
	}
	return nil
}

func (l *lowerer) effect(in wasm.Instruction) (int, []wasm.ValType, error) {
	op := in.Opcode
	if n, res, ok := numericEffect(op); ok {
		return n, res, nil
	}
	switch {
	case op >= wasm.OpI32Load && op <= wasm.OpI64Load32U:
		return 1, loadType(op), nil
	case op >= wasm.OpI32Store && op <= wasm.OpI64Store32:
		return 2, nil, nil
	}

	switch op {
	case wasm.OpI32Const:
		return 0, typesI32, nil
	case wasm.OpI64Const:
		return 0, typesI64, nil
	case wasm.OpF32Const:
		return 0, typesF32, nil
	case wasm.OpF64Const:
		return 0, typesF64, nil
	case wasm.OpCall:
		ft := l.m.GetFuncType(in.Imm.(wasm.CallImm).FuncIdx)
		if ft == nil {
			return 0, nil, fmt.Errorf("call to unknown function %d", in.Imm.(wasm.CallImm).FuncIdx)
		}
		return len(ft.Params), ft.Results, nil
	case wasm.OpCallIndirect:
		typeIdx := in.Imm.(wasm.CallIndirectImm).TypeIdx
		if int(typeIdx) >= len(l.m.Types) {
			return 0, nil, fmt.Errorf("call_indirect type %d out of range", typeIdx)
		}
		ft := l.m.Types[typeIdx]
		return len(ft.Params) + 1, ft.Results, nil
	case wasm.OpSelect:
		if len(l.values) < 3 {
			return 0, nil, fmt.Errorf("operand stack underflow")
		}
		t := l.fn.Values[l.values[len(l.values)-3]].Type()
		return 3, []wasm.ValType{t}, nil
	case wasm.OpSelectType:
		return 3, in.Imm.(wasm.SelectTypeImm).Types, nil
	case wasm.OpGlobalGet:
		gt := l.m.GetGlobalType(in.Imm.(wasm.GlobalImm).GlobalIdx)
		if gt == nil {
			return 0, nil, fmt.Errorf("global %d out of range", in.Imm.(wasm.GlobalImm).GlobalIdx)
		}
		return 0, []wasm.ValType{gt.ValType}, nil
	case wasm.OpGlobalSet:
		return 1, nil, nil
	case wasm.OpTableGet:
		tt := l.m.GetTableType(in.Imm.(wasm.TableImm).TableIdx)
		if tt == nil {
			return 0, nil, fmt.Errorf("table %d out of range", in.Imm.(wasm.TableImm).TableIdx)
		}
		return 1, []wasm.ValType{tt.ElemType}, nil
	case wasm.OpTableSet:
		return 2, nil, nil
	case wasm.OpMemorySize, wasm.OpMemoryGrow:
		res := typesI32
		if memory64(l.m, in.Imm.(wasm.MemoryIdxImm).MemIdx) {
			res = typesI64
		}
		if op == wasm.OpMemorySize {
			return 0, res, nil
		}
		return 1, res, nil
	case wasm.OpRefNull:
		return 0, []wasm.ValType{in.Imm.(wasm.RefNullImm).Type}, nil
	case wasm.OpRefIsNull:
		return 1, typesI32, nil
	case wasm.OpRefFunc:
		return 0, []wasm.ValType{wasm.ValFuncRef}, nil
	case wasm.OpPrefixMisc:
		n, res := miscEffect(in.Imm.(wasm.MiscImm))
		return n, res, nil
	}
	return 0, nil, fmt.Errorf("opcode 0x%02x: %w", op, wasm.ErrUnsupportedOpcode)
}

func (l *lowerer) enter(op byte, params, results []wasm.ValType) error {
	base := len(l.values) - len(params)
	if base < 0 {
		return fmt.Errorf("operand stack underflow")
	}

	switch op {
	case wasm.OpBlock:
		following := l.newBlock()
		for _, t := range results {
			l.addParam(following, t)
		}
		l.frames = append(l.frames, controlFrame{
			kind: frameBlock, params: params, results: results, base: base, following: following,
		})

	case wasm.OpLoop:
		header, following := l.newBlock(), l.newBlock()
		for _, t := range params {
			l.addParam(header, t)
		}
		for _, t := range results {
			l.addParam(following, t)
		}
		args := l.dup(len(params))
		l.terminate(&Br{Target: BlockTarget{Block: header, Args: args}})
		l.frames = append(l.frames, controlFrame{
			kind: frameLoop, params: params, results: results, base: base, header: header, following: following,
		})
		l.switchTo(base, header, len(params))

	case wasm.OpIf:
		cond, err := l.pop(1)
		if err != nil {
			return err
		}
		base--
		if base < 0 {
			return fmt.Errorf("operand stack underflow")
		}
		then, els, following := l.newBlock(), l.newBlock(), l.newBlock()
		for _, t := range results {
			l.addParam(following, t)
		}
		args := l.dup(len(params))
		l.terminate(&CondBr{
			Cond:    cond[0],
			IfTrue:  BlockTarget{Block: then},
			IfFalse: BlockTarget{Block: els},
		})
		l.seal(then)
		l.seal(els)
		l.frames = append(l.frames, controlFrame{
			kind: frameIfWithoutElse, params: params, results: results, base: base,
			header: els, following: following, elseArgs: args,
		})
		l.cur = then
		l.unreachable = false
	}
	return nil
}

func (l *lowerer) elseBranch() error {
	if l.unreachable && l.unreachableDepth > 0 {
		return nil
	}
	f := &l.frames[len(l.frames)-1]
	if f.kind != frameIfWithoutElse {
		return fmt.Errorf("else without if")
	}
	f.kind = frameIfWithElse

	if !l.unreachable {
		args, err := l.peek(len(f.results))
		if err != nil {
			return err
		}
		l.terminate(&Br{Target: BlockTarget{Block: f.following, Args: args}})
	}
	l.unreachable = false

	l.values = l.values[:f.base]
	l.values = append(l.values, f.elseArgs...)
	l.cur = f.header
	return nil
}

func (l *lowerer) end() error {
	if l.unreachableDepth > 0 {
		l.unreachableDepth--
		return nil
	}

	f := l.frames[len(l.frames)-1]
	l.frames = l.frames[:len(l.frames)-1]

	if f.kind == frameFunction {
		if !l.unreachable {
			vals, err := l.peek(len(f.results))
			if err != nil {
				return err
			}
			l.terminate(&Return{Values: vals})
		}
		l.unreachable = true
		return nil
	}

	if !l.unreachable {
		args, err := l.peek(len(f.results))
		if err != nil {
			return err
		}
		l.terminate(&Br{Target: BlockTarget{Block: f.following, Args: args}})
	}
	l.unreachable = false

	switch f.kind {
	case frameLoop:
		l.seal(f.header)
	case frameIfWithoutElse:
		l.cur = f.header
		l.terminate(&Br{Target: BlockTarget{Block: f.following, Args: f.elseArgs}})
	}

	l.seal(f.following)
	l.switchTo(f.base, f.following, len(f.results))
	return nil
}

// target resolves a label to a block and the number of values it carries.
// Branches to the function label go to the shared return block.
func (l *lowerer) target(label uint32) (Block, int, error) {
	if int(label) >= len(l.frames) {
		return 0, 0, fmt.Errorf("label %d out of range", label)
	}
	f := &l.frames[len(l.frames)-1-int(label)]
	switch f.kind {
	case frameFunction:
		return l.returnBlock(), len(f.results), nil
	case frameLoop:
		return f.header, f.branchArity(), nil
	default:
		return f.following, f.branchArity(), nil
	}
}

func (l *lowerer) br(label uint32) error {
	if int(label) == len(l.frames)-1 {
		vals, err := l.peek(len(l.fn.Results))
		if err != nil {
			return err
		}
		l.terminate(&Return{Values: vals})
		return nil
	}
	blk, n, err := l.target(label)
	if err != nil {
		return err
	}
	args, err := l.peek(n)
	if err != nil {
		return err
	}
	l.terminate(&Br{Target: BlockTarget{Block: blk, Args: args}})
	return nil
}

func (l *lowerer) brIf(label uint32) error {
	cond, err := l.pop(1)
	if err != nil {
		return err
	}
	blk, n, err := l.target(label)
	if err != nil {
		return err
	}
	args, err := l.peek(n)
	if err != nil {
		return err
	}
	next := l.newBlock()
	l.terminate(&CondBr{
		Cond:    cond[0],
		IfTrue:  BlockTarget{Block: blk, Args: args},
		IfFalse: BlockTarget{Block: next},
	})
	l.seal(next)
	l.cur = next
	l.unreachable = false
	return nil
}

func (l *lowerer) brTable(imm wasm.BrTableImm) error {
	index, err := l.pop(1)
	if err != nil {
		return err
	}
	if len(imm.Labels) == 0 {
		return l.br(imm.Default)
	}

	blk, n, err := l.target(imm.Default)
	if err != nil {
		return err
	}
	args, err := l.peek(n)
	if err != nil {
		return err
	}
	sel := &Select{Index: index[0], Default: BlockTarget{Block: blk, Args: args}}
	for _, label := range imm.Labels {
		blk, m, err := l.target(label)
		if err != nil {
			return err
		}
		if m != n {
			return fmt.Errorf("br_table label %d carries %d values, default carries %d", label, m, n)
		}
		sel.Targets = append(sel.Targets, BlockTarget{Block: blk, Args: l.dup(n)})
	}
	l.terminate(sel)
	return nil
}

// returnBlock lazily creates the block that conditional branches to the
// function label jump to.
func (l *lowerer) returnBlock() Block {
	if l.hasRetBlock {
		return l.retBlock
	}
	blk := l.newBlock()
	vals := make([]Value, 0, len(l.fn.Results))
	for _, t := range l.fn.Results {
		vals = append(vals, l.addParam(blk, t))
	}
	l.seal(blk)
	l.fn.Blocks[blk].Term = &Return{Values: vals}
	l.retBlock, l.hasRetBlock = blk, true
	return blk
}

func (l *lowerer) switchTo(base int, blk Block, nparams int) {
	l.unreachable = len(l.blocks[blk].preds) == 0
	l.values = l.values[:base]
	l.cur = blk
	l.values = append(l.values, l.fn.Blocks[blk].Params[:nparams]...)
}

// terminate ends the current block and marks the rest of the frame
// unreachable.
func (l *lowerer) terminate(term Terminator) {
	l.fn.Blocks[l.cur].Term = term
	for i, succ := range term.Successors() {
		l.blocks[succ.Block].preds = append(l.blocks[succ.Block].preds, predEdge{from: l.cur, edge: i})
	}
	l.unreachable = true
}

func (l *lowerer) newBlock() Block {
	l.fn.Blocks = append(l.fn.Blocks, BlockDef{})
	l.blocks = append(l.blocks, blockState{defs: map[uint32]Value{}})
	return Block(len(l.fn.Blocks) - 1)
}

func (l *lowerer) newValue(d ValueDef) Value {
	l.fn.Values = append(l.fn.Values, d)
	return Value(len(l.fn.Values) - 1)
}

func (l *lowerer) addParam(blk Block, t wasm.ValType) Value {
	b := &l.fn.Blocks[blk]
	v := l.newValue(ValueDef{Kind: ValueBlockParam, Block: blk, Index: len(b.Params), Types: []wasm.ValType{t}})
	b.Params = append(b.Params, v)
	return v
}

// emit appends an operator to the current block and returns its results.
func (l *lowerer) emit(op Operator, args []Value, results []wasm.ValType) []Value {
	v := l.newValue(ValueDef{Kind: ValueOperator, Op: op, Args: args, Types: results})
	l.fn.Blocks[l.cur].Insts = append(l.fn.Blocks[l.cur].Insts, v)
	switch len(results) {
	case 0:
		return nil
	case 1:
		return []Value{v}
	}
	out := make([]Value, len(results))
	for i, t := range results {
		out[i] = l.newValue(ValueDef{Kind: ValuePick, Source: v, Index: i, Types: []wasm.ValType{t}})
	}
	return out
}

func (l *lowerer) push(v Value) {
	l.values = append(l.values, v)
}

func (l *lowerer) pop(n int) ([]Value, error) {
	if n > len(l.values)-l.frameBase() {
		return nil, fmt.Errorf("operand stack underflow")
	}
	out := append([]Value(nil), l.values[len(l.values)-n:]...)
	l.values = l.values[:len(l.values)-n]
	return out, nil
}

func (l *lowerer) peek(n int) ([]Value, error) {
	if n > len(l.values) {
		return nil, fmt.Errorf("operand stack underflow")
	}
	return l.dup(n), nil
}

func (l *lowerer) dup(n int) []Value {
	if n == 0 {
		return nil
	}
	return append([]Value(nil), l.values[len(l.values)-n:]...)
}

func (l *lowerer) frameBase() int {
	if len(l.frames) == 0 {
		return 0
	}
	return l.frames[len(l.frames)-1].base
}

func (l *lowerer) defineLocal(blk Block, local uint32, v Value) {
	l.blocks[blk].defs[local] = v
}

// readLocal finds the value of a local reaching blk, adding block
// parameters where definitions merge.
func (l *lowerer) readLocal(blk Block, local uint32) Value {
	st := &l.blocks[blk]
	if v, ok := st.defs[local]; ok {
		return v
	}
	t := l.localTypes[local]

	if !st.sealed {
		v := l.newValue(ValueDef{Kind: ValueBlockParam, Block: blk, Index: -1, Types: []wasm.ValType{t}})
		st.defs[local] = v
		st.incomplete = append(st.incomplete, incompleteParam{value: v, local: local})
		return v
	}

	if len(st.preds) == 1 {
		v := l.readLocal(st.preds[0].from, local)
		l.blocks[blk].defs[local] = v
		return v
	}

	v := l.addParam(blk, t)
	l.defineLocal(blk, local, v)
	l.addPredArgs(blk, local)
	return v
}

func (l *lowerer) addPredArgs(blk Block, local uint32) {
	preds := l.blocks[blk].preds
	for _, p := range preds {
		v := l.readLocal(p.from, local)
		succ := l.fn.Blocks[p.from].Term.Successors()[p.edge]
		succ.Args = append(succ.Args, v)
	}
}

// seal records that all predecessors of blk are known and resolves the
// parameters requested while they were not.
func (l *lowerer) seal(blk Block) {
	st := &l.blocks[blk]
	if st.sealed {
		return
	}
	st.sealed = true
	pending := st.incomplete
	st.incomplete = nil
	for _, p := range pending {
		b := &l.fn.Blocks[blk]
		d := &l.fn.Values[p.value]
		d.Index = len(b.Params)
		b.Params = append(b.Params, p.value)
		l.addPredArgs(blk, p.local)
	}
}
