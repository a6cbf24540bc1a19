package intrinsics

import (
	"github.com/wippyai/wasm-weval/module"
	"github.com/wippyai/wasm-weval/wasm"
)

// FindImported returns the function imported as Namespace.name when its
// signature is exactly params -> results. Only the first import with that
// name is considered.
func FindImported(m *module.Module, name string, params, results []wasm.ValType) (module.Func, bool) {
	for _, imp := range m.Imports {
		if imp.Module != Namespace || imp.Name != name {
			continue
		}
		if imp.Kind != module.KindFunc {
			return module.InvalidFunc, false
		}
		return matchSignature(m, module.Func(imp.Index), params, results)
	}
	return module.InvalidFunc, false
}

// FindExported returns the function exported as name when its signature is
// exactly params -> results. Only the first export with that name is
// considered.
func FindExported(m *module.Module, name string, params, results []wasm.ValType) (module.Func, bool) {
	for _, exp := range m.Exports {
		if exp.Name != name {
			continue
		}
		if exp.Kind != module.KindFunc {
			return module.InvalidFunc, false
		}
		return matchSignature(m, module.Func(exp.Index), params, results)
	}
	return module.InvalidFunc, false
}

func matchSignature(m *module.Module, f module.Func, params, results []wasm.ValType) (module.Func, bool) {
	ft, ok := m.FuncType(f)
	if !ok || !ft.Equal(wasm.FuncType{Params: params, Results: results}) {
		return module.InvalidFunc, false
	}
	return f, true
}
