package intrinsics

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-weval/ir"
	"github.com/wippyai/wasm-weval/module"
	"github.com/wippyai/wasm-weval/wasm"
)

// ExportedConstant reports the literal returned by the exported () -> i32
// function name. Two body shapes are recognized: the entry block returns an
// i32.const directly, or it branches once with an i32.const argument to a
// block that returns its first parameter. Anything else, including an
// exported import, yields false.
//
// An error is returned only when the body cannot be lowered.
func ExportedConstant(m *module.Module, name string) (uint32, bool, error) {
	f, ok := FindExported(m, name, nil, []wasm.ValType{wasm.ValI32})
	if !ok || m.Funcs[f].Imported {
		return 0, false, nil
	}
	body, err := m.Body(f)
	if err != nil {
		return 0, false, err
	}

	v, ok := returnedConstant(body)
	if ok {
		Logger().Debug("exported constant",
			zap.String("export", name),
			zap.Uint32("value", v))
	}
	return v, ok, nil
}

func returnedConstant(body *ir.FunctionBody) (uint32, bool) {
	switch term := body.Block(body.Entry).Term.(type) {
	case *ir.Return:
		return body.I32Const(single(term.Values, "return"))

	case *ir.Br:
		// A branch may carry no value when it leaves a block without
		// results; only the one-argument form can forward a literal.
		if len(term.Target.Args) != 1 {
			return 0, false
		}
		target := term.Target.Block
		v, ok := body.I32Const(term.Target.Args[0])
		if !ok {
			return 0, false
		}
		ret, isReturn := body.Block(target).Term.(*ir.Return)
		if !isReturn || len(ret.Values) != 1 || !body.IsBlockParam(ret.Values[0], target, 0) {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// single returns the only value of a return from a () -> i32 function.
// Validated bodies never carry any other count.
func single(values []ir.Value, what string) ir.Value {
	if len(values) != 1 {
		panic(fmt.Sprintf("intrinsics: %s carries %d values in a function returning one i32", what, len(values)))
	}
	return values[0]
}
