package wasm

import (
	"github.com/wippyai/wasm-weval/wasm/internal/binary"
)

// Encode encodes the module to WebAssembly binary format. Sections are
// emitted in canonical order; empty vector sections are omitted.
func (m *Module) Encode() []byte {
	b := binary.AppendU32LE(nil, Magic)
	b = binary.AppendU32LE(b, Version)

	b = appendVecSection(b, SectionType, m.Types, func(b []byte, ft FuncType) []byte {
		b = append(b, FuncTypeByte)
		b = appendValTypes(b, ft.Params)
		return appendValTypes(b, ft.Results)
	})
	b = appendVecSection(b, SectionImport, m.Imports, appendImport)
	b = appendVecSection(b, SectionFunction, m.Funcs, binary.AppendU32)
	b = appendVecSection(b, SectionTable, m.Tables, appendTableType)
	b = appendVecSection(b, SectionMemory, m.Memories, func(b []byte, mt MemoryType) []byte {
		return appendLimits(b, mt.Limits)
	})
	b = appendVecSection(b, SectionGlobal, m.Globals, func(b []byte, g Global) []byte {
		b = appendGlobalType(b, g.Type)
		return append(b, g.Init...)
	})
	b = appendVecSection(b, SectionExport, m.Exports, func(b []byte, e Export) []byte {
		b = binary.AppendName(b, e.Name)
		b = append(b, e.Kind)
		return binary.AppendU32(b, e.Idx)
	})
	if m.Start != nil {
		b = appendSection(b, SectionStart, binary.AppendU32(nil, *m.Start))
	}
	b = appendVecSection(b, SectionElement, m.Elements, appendElement)
	if m.DataCount != nil {
		b = appendSection(b, SectionDataCount, binary.AppendU32(nil, *m.DataCount))
	}
	b = appendVecSection(b, SectionCode, m.Code, func(b []byte, fb FuncBody) []byte {
		body := binary.AppendU32(nil, uint32(len(fb.Locals)))
		for _, local := range fb.Locals {
			body = binary.AppendU32(body, local.Count)
			body = append(body, byte(local.ValType))
		}
		body = append(body, fb.Code...)
		return binary.AppendSized(b, body)
	})
	b = appendVecSection(b, SectionData, m.Data, appendDataSegment)

	for _, cs := range m.CustomSections {
		body := binary.AppendName(nil, cs.Name)
		b = appendSection(b, SectionCustom, append(body, cs.Data...))
	}
	return b
}

func appendSection(b []byte, id byte, body []byte) []byte {
	b = append(b, id)
	return binary.AppendSized(b, body)
}

func appendVecSection[T any](b []byte, id byte, items []T, entry func([]byte, T) []byte) []byte {
	if len(items) == 0 {
		return b
	}
	body := binary.AppendU32(nil, uint32(len(items)))
	for _, item := range items {
		body = entry(body, item)
	}
	return appendSection(b, id, body)
}

func appendImport(b []byte, imp Import) []byte {
	b = binary.AppendName(b, imp.Module)
	b = binary.AppendName(b, imp.Name)
	b = append(b, imp.Desc.Kind)
	switch imp.Desc.Kind {
	case KindFunc:
		b = binary.AppendU32(b, imp.Desc.TypeIdx)
	case KindTable:
		b = appendTableType(b, *imp.Desc.Table)
	case KindMemory:
		b = appendLimits(b, imp.Desc.Memory.Limits)
	case KindGlobal:
		b = appendGlobalType(b, *imp.Desc.Global)
	}
	return b
}

func appendValTypes(b []byte, types []ValType) []byte {
	b = binary.AppendU32(b, uint32(len(types)))
	for _, t := range types {
		b = append(b, byte(t))
	}
	return b
}

func appendLimits(b []byte, l Limits) []byte {
	var flags byte
	if l.Max != nil {
		flags |= LimitsHasMax
	}
	if l.Shared {
		flags |= LimitsShared
	}
	if l.Memory64 {
		flags |= LimitsMemory64
	}
	b = append(b, flags)
	b = binary.AppendU64(b, l.Min)
	if l.Max != nil {
		b = binary.AppendU64(b, *l.Max)
	}
	return b
}

func appendTableType(b []byte, t TableType) []byte {
	b = append(b, byte(t.ElemType))
	return appendLimits(b, t.Limits)
}

func appendGlobalType(b []byte, g GlobalType) []byte {
	var mut byte
	if g.Mutable {
		mut = 1
	}
	return append(b, byte(g.ValType), mut)
}

func appendElement(b []byte, elem Element) []byte {
	b = binary.AppendU32(b, elem.Flags)

	usesExprs := elem.Flags&0x04 != 0
	if elem.Flags&0x02 != 0 && elem.Flags&0x01 == 0 {
		b = binary.AppendU32(b, elem.TableIdx)
	}
	if elem.IsActive() {
		b = append(b, elem.Offset...)
	}
	if elem.Flags&0x03 != 0 {
		if usesExprs {
			b = append(b, byte(elem.Type))
		} else {
			b = append(b, elem.ElemKind)
		}
	}

	if usesExprs {
		b = binary.AppendU32(b, uint32(len(elem.Exprs)))
		for _, expr := range elem.Exprs {
			b = append(b, expr...)
		}
		return b
	}
	b = binary.AppendU32(b, uint32(len(elem.FuncIdxs)))
	for _, idx := range elem.FuncIdxs {
		b = binary.AppendU32(b, idx)
	}
	return b
}

func appendDataSegment(b []byte, d DataSegment) []byte {
	b = binary.AppendU32(b, d.Flags)
	if d.Flags == 2 {
		b = binary.AppendU32(b, d.MemIdx)
	}
	if d.Flags != 1 {
		b = append(b, d.Offset...)
	}
	return binary.AppendSized(b, d.Init)
}

// ConstI32Expr encodes `i32.const v; end`.
func ConstI32Expr(v int32) []byte {
	b := binary.AppendS64([]byte{OpI32Const}, int64(v))
	return append(b, OpEnd)
}

// ConstI64Expr encodes `i64.const v; end`.
func ConstI64Expr(v int64) []byte {
	b := binary.AppendS64([]byte{OpI64Const}, v)
	return append(b, OpEnd)
}
