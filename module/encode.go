package module

import (
	"fmt"
	"math"

	"github.com/wippyai/wasm-weval/errors"
	"github.com/wippyai/wasm-weval/wasm"
)

// ToWasm returns a copy of the decoded module whose data section reflects
// the current memory segments. Each memory's segments take the place of its
// first original active segment; passive segments keep their position.
// Memories that had no active segment get theirs appended at the end.
func (m *Module) ToWasm() (*wasm.Module, error) {
	out := *m.raw
	emitted := make([]bool, len(m.Memories))
	data := make([]wasm.DataSegment, 0, len(m.raw.Data))

	for i, seg := range m.raw.Data {
		if !seg.IsActive() {
			if len(data) != i && m.raw.DataCount != nil {
				return nil, errors.New(errors.PhaseEncode, errors.KindUnsupported).
					Path("data", fmt.Sprint(i)).
					Detail("rewriting memory segments would renumber passive segment %d to %d", i, len(data)).
					Build()
			}
			data = append(data, seg)
			continue
		}
		mem := seg.MemIdx
		if int(mem) >= len(m.Memories) || emitted[mem] {
			continue
		}
		emitted[mem] = true
		segs, err := m.dataSegments(Memory(mem))
		if err != nil {
			return nil, err
		}
		data = append(data, segs...)
	}
	for mem := range m.Memories {
		if emitted[mem] {
			continue
		}
		segs, err := m.dataSegments(Memory(mem))
		if err != nil {
			return nil, err
		}
		data = append(data, segs...)
	}

	out.Data = data
	if m.raw.DataCount != nil {
		n := uint32(len(data))
		out.DataCount = &n
	}
	return &out, nil
}

// Encode writes the module in binary form.
func (m *Module) Encode() ([]byte, error) {
	out, err := m.ToWasm()
	if err != nil {
		return nil, err
	}
	return out.Encode(), nil
}

func (m *Module) dataSegments(mem Memory) ([]wasm.DataSegment, error) {
	md := &m.Memories[mem]
	out := make([]wasm.DataSegment, 0, len(md.Segments))
	for i, seg := range md.Segments {
		ds := wasm.DataSegment{Init: seg.Data, MemIdx: uint32(mem)}
		if mem != 0 {
			ds.Flags = 2
		}
		switch {
		case md.Memory64:
			ds.Offset = wasm.ConstI64Expr(int64(seg.Offset))
		case seg.Offset > math.MaxUint32:
			return nil, errors.InvalidData(errors.PhaseEncode,
				[]string{mem.String(), "segment", fmt.Sprint(i)},
				fmt.Sprintf("offset 0x%x exceeds 32-bit address space", seg.Offset))
		default:
			ds.Offset = wasm.ConstI32Expr(int32(uint32(seg.Offset)))
		}
		out = append(out, ds)
	}
	return out, nil
}
