// Package intrinsics discovers the weval hook imports of a module and
// extracts literal constants from exported functions.
//
// Hooks are ordinary function imports from the "weval" namespace. The
// specialization engine recognizes calls to them by function id, so a hook
// only counts when both its name and its signature match the fixed
// vocabulary below.
package intrinsics

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-weval/module"
	"github.com/wippyai/wasm-weval/wasm"
)

// Namespace is the import module name hooks are declared under.
const Namespace = "weval"

// Intrinsics holds the function id of every recognized hook, or
// module.InvalidFunc when the module does not import it.
type Intrinsics struct {
	AssumeConstMemory           module.Func
	AssumeConstMemoryTransitive module.Func
	ReadReg                     module.Func
	WriteReg                    module.Func
	PushContext                 module.Func
	PopContext                  module.Func
	UpdateContext               module.Func
	ContextBucket               module.Func
	AbortSpecialization         module.Func
	TraceLine                   module.Func
	AssertConst32               module.Func
	AssertConstMemory           module.Func
	SpecializeValue             module.Func
	Print                       module.Func
}

// Hook is one entry of the intrinsic vocabulary.
type Hook struct {
	slot    func(*Intrinsics) *module.Func
	Name    string
	Params  []wasm.ValType
	Results []wasm.ValType
}

// Get returns the slot of in that this hook fills.
func (h Hook) Get(in *Intrinsics) module.Func {
	return *h.slot(in)
}

var (
	i32 = wasm.ValI32
	i64 = wasm.ValI64
)

func sig(types ...wasm.ValType) []wasm.ValType { return types }

// Vocabulary lists every hook in a fixed order. Modules built against the
// weval headers import exactly these names and signatures.
var Vocabulary = []Hook{
	{Name: "assume.const.memory", Params: sig(i32), Results: sig(i32),
		slot: func(in *Intrinsics) *module.Func { return &in.AssumeConstMemory }},
	{Name: "assume.const.memory.transitive", Params: sig(i32), Results: sig(i32),
		slot: func(in *Intrinsics) *module.Func { return &in.AssumeConstMemoryTransitive }},
	{Name: "read.reg", Params: sig(i64), Results: sig(i64),
		slot: func(in *Intrinsics) *module.Func { return &in.ReadReg }},
	{Name: "write.reg", Params: sig(i64, i64),
		slot: func(in *Intrinsics) *module.Func { return &in.WriteReg }},
	{Name: "push.context", Params: sig(i32),
		slot: func(in *Intrinsics) *module.Func { return &in.PushContext }},
	{Name: "pop.context",
		slot: func(in *Intrinsics) *module.Func { return &in.PopContext }},
	{Name: "update.context", Params: sig(i32),
		slot: func(in *Intrinsics) *module.Func { return &in.UpdateContext }},
	{Name: "context.bucket", Params: sig(i32),
		slot: func(in *Intrinsics) *module.Func { return &in.ContextBucket }},
	{Name: "abort.specialization", Params: sig(i32, i32),
		slot: func(in *Intrinsics) *module.Func { return &in.AbortSpecialization }},
	{Name: "trace.line", Params: sig(i32),
		slot: func(in *Intrinsics) *module.Func { return &in.TraceLine }},
	{Name: "assert.const32", Params: sig(i32, i32),
		slot: func(in *Intrinsics) *module.Func { return &in.AssertConst32 }},
	{Name: "assert.const.memory", Params: sig(i32, i32),
		slot: func(in *Intrinsics) *module.Func { return &in.AssertConstMemory }},
	{Name: "specialize.value", Params: sig(i32, i32, i32), Results: sig(i32),
		slot: func(in *Intrinsics) *module.Func { return &in.SpecializeValue }},
	{Name: "print", Params: sig(i32, i32, i32),
		slot: func(in *Intrinsics) *module.Func { return &in.Print }},
}

// Find looks up every hook of the vocabulary in m.
func Find(m *module.Module) *Intrinsics {
	in := &Intrinsics{}
	for _, h := range Vocabulary {
		f, ok := FindImported(m, h.Name, h.Params, h.Results)
		if !ok {
			f = module.InvalidFunc
		} else {
			Logger().Debug("intrinsic found",
				zap.String("name", h.Name),
				zap.Uint32("func", uint32(f)))
		}
		*h.slot(in) = f
	}
	return in
}

// Name returns the hook name bound to f.
func (in *Intrinsics) Name(f module.Func) (string, bool) {
	if !f.IsValid() {
		return "", false
	}
	for _, h := range Vocabulary {
		if h.Get(in) == f {
			return h.Name, true
		}
	}
	return "", false
}

// Each calls fn for every hook the module imports, in vocabulary order.
func (in *Intrinsics) Each(fn func(name string, f module.Func)) {
	for _, h := range Vocabulary {
		if f := h.Get(in); f.IsValid() {
			fn(h.Name, f)
		}
	}
}

// Len returns the number of hooks found.
func (in *Intrinsics) Len() int {
	n := 0
	in.Each(func(string, module.Func) { n++ })
	return n
}
