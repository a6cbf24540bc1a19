// Package module provides a resolved view of a WebAssembly module.
//
// The view assigns stable identifiers to functions, globals, memories,
// tables and signatures, evaluates constant initializers, and groups data
// and element segments by the memory or table they initialize. Memory
// segments can be replaced and the module encoded again.
package module

import (
	stderrors "errors"
	"fmt"

	"github.com/wippyai/wasm-weval/errors"
	"github.com/wippyai/wasm-weval/ir"
	"github.com/wippyai/wasm-weval/wasm"
)

// Kind identifies what an import or export refers to.
type Kind byte

// Import and export kinds, equal to their binary encoding.
const (
	KindFunc   Kind = Kind(wasm.KindFunc)
	KindTable  Kind = Kind(wasm.KindTable)
	KindMemory Kind = Kind(wasm.KindMemory)
	KindGlobal Kind = Kind(wasm.KindGlobal)
)

func (k Kind) String() string {
	switch k {
	case KindFunc:
		return "func"
	case KindTable:
		return "table"
	case KindMemory:
		return "memory"
	case KindGlobal:
		return "global"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// Import is an imported entity. Index is its position in the index space
// of its kind.
type Import struct {
	Module string
	Name   string
	Index  uint32
	Kind   Kind
}

// Export is an exported entity.
type Export struct {
	Name  string
	Index uint32
	Kind  Kind
}

// Segment is a run of bytes placed at Offset when the memory is
// instantiated.
type Segment struct {
	Data   []byte
	Offset uint64
}

// MemoryData describes a memory and its active data segments.
type MemoryData struct {
	MaxPages     *uint64
	Segments     []Segment
	InitialPages uint64
	Imported     bool
	Memory64     bool
}

// GlobalData describes a global. Value holds the raw bits of the
// initializer when it is known without instantiating the module.
type GlobalData struct {
	Value    *uint64
	Type     wasm.ValType
	Mutable  bool
	Imported bool
}

// TableData describes a table. FuncElements is indexed by slot and holds
// InvalidFunc where no element segment writes; it is nil when no active
// segment initializes the table.
type TableData struct {
	FuncElements []Func
	Initial      uint64
	ElemType     wasm.ValType
	Imported     bool
}

// FuncDecl describes a function.
type FuncDecl struct {
	Sig      Signature
	Imported bool
}

// Module is a resolved WebAssembly module.
type Module struct {
	raw        *wasm.Module
	Signatures []wasm.FuncType
	Funcs      []FuncDecl
	Globals    []GlobalData
	Memories   []MemoryData
	Tables     []TableData
	Imports    []Import
	Exports    []Export
}

// Parse decodes and resolves a binary module.
func Parse(data []byte) (*Module, error) {
	raw, err := wasm.ParseModule(data)
	if err != nil {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Cause(err).
			Detail("parse module").
			Build()
	}
	return FromWasm(raw)
}

// FromWasm resolves a decoded module. The module is retained and used by
// Body and Encode.
func FromWasm(raw *wasm.Module) (*Module, error) {
	m := &Module{raw: raw, Signatures: raw.Types}

	for _, imp := range raw.Imports {
		var idx uint32
		switch imp.Desc.Kind {
		case wasm.KindFunc:
			idx = uint32(len(m.Funcs))
			m.Funcs = append(m.Funcs, FuncDecl{Sig: Signature(imp.Desc.TypeIdx), Imported: true})
		case wasm.KindTable:
			idx = uint32(len(m.Tables))
			m.Tables = append(m.Tables, TableData{
				Initial:  imp.Desc.Table.Limits.Min,
				ElemType: imp.Desc.Table.ElemType,
				Imported: true,
			})
		case wasm.KindMemory:
			idx = uint32(len(m.Memories))
			m.Memories = append(m.Memories, memoryData(imp.Desc.Memory.Limits, true))
		case wasm.KindGlobal:
			idx = uint32(len(m.Globals))
			m.Globals = append(m.Globals, GlobalData{
				Type:     imp.Desc.Global.ValType,
				Mutable:  imp.Desc.Global.Mutable,
				Imported: true,
			})
		}
		m.Imports = append(m.Imports, Import{Module: imp.Module, Name: imp.Name, Kind: Kind(imp.Desc.Kind), Index: idx})
	}

	for _, sig := range raw.Funcs {
		m.Funcs = append(m.Funcs, FuncDecl{Sig: Signature(sig)})
	}
	for _, t := range raw.Tables {
		m.Tables = append(m.Tables, TableData{Initial: t.Limits.Min, ElemType: t.ElemType})
	}
	for _, mem := range raw.Memories {
		m.Memories = append(m.Memories, memoryData(mem.Limits, false))
	}
	for i, g := range raw.Globals {
		data := GlobalData{Type: g.Type.ValType, Mutable: g.Type.Mutable}
		v, err := wasm.EvalConstExpr(g.Init, m.constGlobal)
		switch {
		case err == nil:
			if isNumeric(v.Type) && v.Type == data.Type {
				bits := v.Bits
				data.Value = &bits
			}
		case !stderrors.Is(err, wasm.ErrNotConstant):
			return nil, errors.New(errors.PhaseResolve, errors.KindInvalidData).
				Path("global", fmt.Sprint(len(m.Globals))).
				Cause(err).
				Detail("initializer of defined global %d", i).
				Build()
		}
		m.Globals = append(m.Globals, data)
	}

	for _, exp := range raw.Exports {
		m.Exports = append(m.Exports, Export{Name: exp.Name, Kind: Kind(exp.Kind), Index: exp.Idx})
	}

	if err := m.resolveData(); err != nil {
		return nil, err
	}
	if err := m.resolveElements(); err != nil {
		return nil, err
	}
	return m, nil
}

func memoryData(l wasm.Limits, imported bool) MemoryData {
	return MemoryData{
		InitialPages: l.Min,
		MaxPages:     l.Max,
		Imported:     imported,
		Memory64:     l.Memory64,
	}
}

func isNumeric(t wasm.ValType) bool {
	switch t {
	case wasm.ValI32, wasm.ValI64, wasm.ValF32, wasm.ValF64:
		return true
	}
	return false
}

// constGlobal resolves global.get in constant expressions against the
// globals resolved so far.
func (m *Module) constGlobal(idx uint32) (wasm.ConstValue, bool) {
	if int(idx) >= len(m.Globals) || m.Globals[idx].Value == nil {
		return wasm.ConstValue{}, false
	}
	return wasm.ConstValue{Type: m.Globals[idx].Type, Bits: *m.Globals[idx].Value}, true
}

func (m *Module) resolveData() error {
	for i, seg := range m.raw.Data {
		if !seg.IsActive() {
			continue
		}
		path := []string{"data", fmt.Sprint(i)}
		if int(seg.MemIdx) >= len(m.Memories) {
			return errors.InvalidData(errors.PhaseResolve, path, fmt.Sprintf("memory %d does not exist", seg.MemIdx))
		}
		off, err := m.offset(seg.Offset, path)
		if err != nil {
			return err
		}
		mem := &m.Memories[seg.MemIdx]
		mem.Segments = append(mem.Segments, Segment{Offset: off, Data: seg.Init})
	}
	return nil
}

func (m *Module) resolveElements() error {
	for i, elem := range m.raw.Elements {
		if !elem.IsActive() {
			continue
		}
		path := []string{"elem", fmt.Sprint(i)}
		if int(elem.TableIdx) >= len(m.Tables) {
			return errors.InvalidData(errors.PhaseResolve, path, fmt.Sprintf("table %d does not exist", elem.TableIdx))
		}
		table := &m.Tables[elem.TableIdx]
		if table.ElemType != wasm.ValFuncRef {
			continue
		}
		off, err := m.offset(elem.Offset, path)
		if err != nil {
			return err
		}

		funcs, err := m.elementFuncs(elem, path)
		if err != nil {
			return err
		}
		end := off + uint64(len(funcs))
		if end > table.Initial {
			return errors.InvalidData(errors.PhaseResolve, path,
				fmt.Sprintf("segment end %d exceeds table size %d", end, table.Initial))
		}
		for uint64(len(table.FuncElements)) < end {
			table.FuncElements = append(table.FuncElements, InvalidFunc)
		}
		copy(table.FuncElements[off:], funcs)
	}
	return nil
}

func (m *Module) elementFuncs(elem wasm.Element, path []string) ([]Func, error) {
	if elem.Exprs == nil {
		out := make([]Func, len(elem.FuncIdxs))
		for i, f := range elem.FuncIdxs {
			out[i] = Func(f)
		}
		return out, nil
	}
	out := make([]Func, len(elem.Exprs))
	for i, expr := range elem.Exprs {
		v, err := wasm.EvalConstExpr(expr, nil)
		if err != nil {
			return nil, errors.New(errors.PhaseResolve, errors.KindUnsupported).
				Path(append(path, fmt.Sprint(i))...).
				Cause(err).
				Detail("element expression").
				Build()
		}
		if v.Null {
			out[i] = InvalidFunc
		} else {
			out[i] = Func(v.Bits)
		}
	}
	return out, nil
}

func (m *Module) offset(expr []byte, path []string) (uint64, error) {
	v, err := wasm.EvalConstExpr(expr, m.constGlobal)
	if err != nil {
		kind := errors.KindInvalidData
		if stderrors.Is(err, wasm.ErrNotConstant) {
			kind = errors.KindUnsupported
		}
		return 0, errors.New(errors.PhaseResolve, kind).
			Path(path...).
			Cause(err).
			Detail("segment offset").
			Build()
	}
	switch v.Type {
	case wasm.ValI32:
		return uint64(uint32(v.Bits)), nil
	case wasm.ValI64:
		return v.Bits, nil
	}
	return 0, errors.InvalidData(errors.PhaseResolve, path, fmt.Sprintf("segment offset of type %s", v.Type))
}

// Raw returns the decoded module the view was built from.
func (m *Module) Raw() *wasm.Module {
	return m.raw
}

// FuncType returns the signature of f.
func (m *Module) FuncType(f Func) (wasm.FuncType, bool) {
	if int(f) >= len(m.Funcs) {
		return wasm.FuncType{}, false
	}
	sig := m.Funcs[f].Sig
	if int(sig) >= len(m.Signatures) {
		return wasm.FuncType{}, false
	}
	return m.Signatures[sig], true
}

// Export looks up an export by name.
func (m *Module) Export(name string) (Export, bool) {
	for _, e := range m.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

// Body lowers the body of a defined function into control-flow form.
func (m *Module) Body(f Func) (*ir.FunctionBody, error) {
	return ir.Lower(m.raw, uint32(f))
}
