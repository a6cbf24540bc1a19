package wasm

import (
	"errors"
	"fmt"
	"io"

	"github.com/wippyai/wasm-weval/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// ParseModule parses a WebAssembly binary module
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}

	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	var lastSectionOrder int

	for r.Len() > 0 {
		sectionID, err := r.ReadByte()
		if err != nil {
			return nil, r.WrapError("section header", err)
		}

		// Custom sections can appear anywhere
		if sectionID != SectionCustom {
			order := sectionOrder(sectionID)
			if order == 0 {
				return nil, fmt.Errorf("unknown section ID: 0x%02x", sectionID)
			}
			if order <= lastSectionOrder {
				return nil, fmt.Errorf("section %d appears out of order", sectionID)
			}
			lastSectionOrder = order
		}

		sectionSize, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		sectionData, err := r.ReadBytes(int(sectionSize))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}

		sr := binary.NewReader(sectionData)
		if err := parseSection(sectionID, sr, m); err != nil {
			return nil, sr.WrapError(sectionName(sectionID), err)
		}
		if sectionID != SectionCustom && sr.Len() != 0 {
			return nil, sr.WrapError(sectionName(sectionID), errors.New("section size mismatch"))
		}
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("function and code section have inconsistent lengths: %d != %d", len(m.Funcs), len(m.Code))
	}

	return m, nil
}

func parseSection(id byte, r *binary.Reader, m *Module) error {
	switch id {
	case SectionCustom:
		return parseCustomSection(r, m)
	case SectionType:
		return parseTypeSection(r, m)
	case SectionImport:
		return parseImportSection(r, m)
	case SectionFunction:
		return parseVector(r, func(r *binary.Reader) error {
			idx, err := r.ReadU32()
			m.Funcs = append(m.Funcs, idx)
			return err
		})
	case SectionTable:
		return parseVector(r, func(r *binary.Reader) error {
			t, err := readTableType(r)
			m.Tables = append(m.Tables, t)
			return err
		})
	case SectionMemory:
		return parseVector(r, func(r *binary.Reader) error {
			limits, err := readLimits(r)
			m.Memories = append(m.Memories, MemoryType{Limits: limits})
			return err
		})
	case SectionGlobal:
		return parseVector(r, func(r *binary.Reader) error {
			gt, err := readGlobalType(r)
			if err != nil {
				return err
			}
			init, err := readInitExpr(r)
			m.Globals = append(m.Globals, Global{Type: gt, Init: init})
			return err
		})
	case SectionExport:
		return parseExportSection(r, m)
	case SectionStart:
		idx, err := r.ReadU32()
		m.Start = &idx
		return err
	case SectionElement:
		return parseVector(r, func(r *binary.Reader) error {
			elem, err := readElement(r)
			m.Elements = append(m.Elements, elem)
			return err
		})
	case SectionDataCount:
		count, err := r.ReadU32()
		m.DataCount = &count
		return err
	case SectionCode:
		return parseVector(r, func(r *binary.Reader) error {
			body, err := readFuncBody(r)
			m.Code = append(m.Code, body)
			return err
		})
	case SectionData:
		return parseVector(r, func(r *binary.Reader) error {
			seg, err := readDataSegment(r)
			m.Data = append(m.Data, seg)
			return err
		})
	}
	return fmt.Errorf("unknown section ID: 0x%02x", id)
}

// sectionOrder returns the canonical ordering for a section ID, or 0 for
// sections this package does not decode.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionGlobal:
		return 6
	case SectionExport:
		return 7
	case SectionStart:
		return 8
	case SectionElement:
		return 9
	case SectionDataCount:
		return 10 // DataCount must come before Code
	case SectionCode:
		return 11
	case SectionData:
		return 12
	default:
		return 0
	}
}

func sectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom section"
	case SectionType:
		return "type section"
	case SectionImport:
		return "import section"
	case SectionFunction:
		return "function section"
	case SectionTable:
		return "table section"
	case SectionMemory:
		return "memory section"
	case SectionGlobal:
		return "global section"
	case SectionExport:
		return "export section"
	case SectionStart:
		return "start section"
	case SectionElement:
		return "element section"
	case SectionDataCount:
		return "data count section"
	case SectionCode:
		return "code section"
	case SectionData:
		return "data section"
	}
	return fmt.Sprintf("section 0x%02x", id)
}

func parseVector(r *binary.Reader, item func(r *binary.Reader) error) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		if err := item(r); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	rest := r.ReadRemaining()
	m.CustomSections = append(m.CustomSections, CustomSection{
		Name: name,
		Data: append([]byte(nil), rest...),
	})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	return parseVector(r, func(r *binary.Reader) error {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return fmt.Errorf("unsupported type form 0x%02x", form)
		}
		params, err := readValTypes(r)
		if err != nil {
			return err
		}
		results, err := readValTypes(r)
		if err != nil {
			return err
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
		return nil
	})
}

func parseImportSection(r *binary.Reader, m *Module) error {
	return parseVector(r, func(r *binary.Reader) error {
		module, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}

		imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}

		switch kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = r.ReadU32()
		case KindTable:
			var table TableType
			table, err = readTableType(r)
			imp.Desc.Table = &table
		case KindMemory:
			var limits Limits
			limits, err = readLimits(r)
			imp.Desc.Memory = &MemoryType{Limits: limits}
		case KindGlobal:
			var global GlobalType
			global, err = readGlobalType(r)
			imp.Desc.Global = &global
		default:
			return fmt.Errorf("unknown import kind: %d", kind)
		}
		if err != nil {
			return err
		}

		m.Imports = append(m.Imports, imp)
		return nil
	})
}

func parseExportSection(r *binary.Reader, m *Module) error {
	return parseVector(r, func(r *binary.Reader) error {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindGlobal {
			return fmt.Errorf("invalid export kind: 0x%02x", kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Idx: idx})
		return nil
	})
}

func readElement(r *binary.Reader) (Element, error) {
	flags, err := r.ReadU32()
	if err != nil {
		return Element{}, err
	}
	if flags > 7 {
		return Element{}, fmt.Errorf("invalid element segment flags: %d", flags)
	}

	elem := Element{Flags: flags, ElemKind: 0x00, Type: ValFuncRef}

	// Bit 0: passive/declarative (no offset)
	// Bit 1: explicit table index (active) or explicit elemkind (others)
	// Bit 2: vector of expressions instead of function indices
	hasTableIdx := flags&0x02 != 0 && flags&0x01 == 0
	hasOffset := flags&0x01 == 0
	usesExprs := flags&0x04 != 0

	if hasTableIdx {
		if elem.TableIdx, err = r.ReadU32(); err != nil {
			return Element{}, err
		}
	}
	if hasOffset {
		if elem.Offset, err = readInitExpr(r); err != nil {
			return Element{}, err
		}
	}

	if flags&0x03 != 0 {
		b, err := r.ReadByte()
		if err != nil {
			return Element{}, err
		}
		if usesExprs {
			elem.Type = ValType(b)
		} else {
			elem.ElemKind = b
		}
	}

	count, err := r.ReadU32()
	if err != nil {
		return Element{}, err
	}
	for j := uint32(0); j < count; j++ {
		if usesExprs {
			expr, err := readInitExpr(r)
			if err != nil {
				return Element{}, err
			}
			elem.Exprs = append(elem.Exprs, expr)
		} else {
			idx, err := r.ReadU32()
			if err != nil {
				return Element{}, err
			}
			elem.FuncIdxs = append(elem.FuncIdxs, idx)
		}
	}
	return elem, nil
}

func readFuncBody(r *binary.Reader) (FuncBody, error) {
	bodySize, err := r.ReadU32()
	if err != nil {
		return FuncBody{}, err
	}
	bodyData, err := r.ReadBytes(int(bodySize))
	if err != nil {
		return FuncBody{}, err
	}

	br := binary.NewReader(bodyData)
	var locals []LocalEntry
	err = parseVector(br, func(br *binary.Reader) error {
		n, err := br.ReadU32()
		if err != nil {
			return err
		}
		t, err := br.ReadByte()
		if err != nil {
			return err
		}
		locals = append(locals, LocalEntry{Count: n, ValType: ValType(t)})
		return nil
	})
	if err != nil {
		return FuncBody{}, err
	}

	code := append([]byte(nil), br.ReadRemaining()...)
	return FuncBody{Locals: locals, Code: code}, nil
}

func readDataSegment(r *binary.Reader) (DataSegment, error) {
	flags, err := r.ReadU32()
	if err != nil {
		return DataSegment{}, err
	}
	if flags > 2 {
		return DataSegment{}, fmt.Errorf("invalid data segment flags: %d", flags)
	}

	seg := DataSegment{Flags: flags}
	if flags == 2 {
		if seg.MemIdx, err = r.ReadU32(); err != nil {
			return DataSegment{}, err
		}
	}
	if flags != 1 {
		if seg.Offset, err = readInitExpr(r); err != nil {
			return DataSegment{}, err
		}
	}

	initLen, err := r.ReadU32()
	if err != nil {
		return DataSegment{}, err
	}
	init, err := r.ReadBytes(int(initLen))
	if err != nil {
		return DataSegment{}, err
	}
	seg.Init = append([]byte(nil), init...)
	return seg, nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(count) > r.Len() {
		return nil, io.ErrUnexpectedEOF
	}
	types := make([]ValType, count)
	for i := range types {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		types[i] = ValType(b)
	}
	return types, nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}

	l := Limits{
		Shared:   flags&LimitsShared != 0,
		Memory64: flags&LimitsMemory64 != 0,
	}

	if l.Min, err = r.ReadU64(); err != nil {
		return Limits{}, err
	}
	if flags&LimitsHasMax != 0 {
		maxVal, err := r.ReadU64()
		if err != nil {
			return Limits{}, err
		}
		l.Max = &maxVal
	}
	if !l.Memory64 && (l.Min > 1<<32-1 || (l.Max != nil && *l.Max > 1<<32-1)) {
		return Limits{}, fmt.Errorf("limits exceed 32-bit range")
	}
	if l.Max != nil && l.Min > *l.Max {
		return Limits{}, fmt.Errorf("limits min (%d) exceeds max (%d)", l.Min, *l.Max)
	}
	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	elemType, err := r.ReadByte()
	if err != nil {
		return TableType{}, err
	}
	if ValType(elemType) != ValFuncRef && ValType(elemType) != ValExtern {
		return TableType{}, fmt.Errorf("unsupported table element type 0x%02x", elemType)
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: ValType(elemType), Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	valType, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	return GlobalType{ValType: ValType(valType), Mutable: mut != 0}, nil
}

// readInitExpr copies a constant expression, end opcode included.
func readInitExpr(r *binary.Reader) ([]byte, error) {
	start := r.Position()
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if op == OpEnd {
			break
		}
		if err := skipConstImmediate(r, op); err != nil {
			return nil, err
		}
	}
	return r.Slice(start, r.Position()), nil
}

func skipConstImmediate(r *binary.Reader, op byte) error {
	var err error
	switch op {
	case OpI32Const:
		_, err = r.ReadS32()
	case OpI64Const:
		_, err = r.ReadS64()
	case OpF32Const:
		_, err = r.ReadBytes(4)
	case OpF64Const:
		_, err = r.ReadBytes(8)
	case OpGlobalGet, OpRefFunc:
		_, err = r.ReadU32()
	case OpRefNull:
		_, err = r.ReadByte()
	case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
		// extended-const: no immediates
	default:
		err = fmt.Errorf("unsupported opcode 0x%02x in constant expression", op)
	}
	return err
}
