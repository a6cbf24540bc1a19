// Package verify cross-checks modules and images against wazero.
//
// Compile reports whether wazero accepts a binary. Image instantiates a
// module with stubbed function imports and compares the live instance's
// initial memory and exported globals with a built image. Both create a
// fresh runtime per call.
package verify

import (
	"context"
	"fmt"
	"math"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	weval "github.com/wippyai/wasm-weval"
	"github.com/wippyai/wasm-weval/errors"
	"github.com/wippyai/wasm-weval/image"
	"github.com/wippyai/wasm-weval/module"
	"github.com/wippyai/wasm-weval/verify/internal/memory"
	"github.com/wippyai/wasm-weval/wasm"
)

// Config holds configuration for the wazero runtime used by checks.
type Config struct {
	// MemoryLimitPages caps each memory in pages (64KB each).
	// 0 means wazero's default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// Interpreter selects wazero's interpreter instead of the compiler.
	Interpreter bool
}

func newRuntime(ctx context.Context, cfg *Config) wazero.Runtime {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil {
		if cfg.Interpreter {
			runtimeCfg = wazero.NewRuntimeConfigInterpreter()
		}
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
	}
	return wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
}

// Compile reports whether wazero compiles bin.
func Compile(ctx context.Context, bin []byte, cfg *Config) error {
	rt := newRuntime(ctx, cfg)
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return errors.Wrap(errors.PhaseVerify, errors.KindInvalidData, err, "wazero rejected module")
	}
	Logger().Debug("module compiled",
		zap.Int("bytes", len(bin)),
		zap.Int("imported_funcs", len(compiled.ImportedFunctions())))
	return compiled.Close(ctx)
}

// Image encodes m, instantiates it and compares the instance with im. The
// module must not import memories, tables or globals, must not declare a
// start function and may hold at most one memory.
func Image(ctx context.Context, m *module.Module, im *image.Image, cfg *Config) error {
	if err := supported(m); err != nil {
		return err
	}
	bin, err := m.Encode()
	if err != nil {
		return err
	}

	rt := newRuntime(ctx, cfg)
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return errors.Wrap(errors.PhaseVerify, errors.KindInvalidData, err, "wazero rejected module")
	}
	if err := stubImports(ctx, rt, compiled); err != nil {
		return err
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithStartFunctions())
	if err != nil {
		return errors.Wrap(errors.PhaseVerify, errors.KindInvalidData, err, "instantiate module")
	}
	defer mod.Close(ctx)

	for _, id := range im.MemoryIDs() {
		want, _ := im.Memory(id)
		got := memory.Wrap(mod.Memory())
		if got == nil {
			return errors.NotFound(errors.PhaseVerify, "live memory", id.String())
		}
		if err := CompareMemory(id.String(), want, got); err != nil {
			return err
		}
	}
	if err := compareGlobals(m, im, mod); err != nil {
		return err
	}

	Logger().Debug("image matches instance",
		zap.Int("memories", len(im.Memories)),
		zap.Int("globals", len(im.Globals)))
	return nil
}

func supported(m *module.Module) error {
	for _, imp := range m.Imports {
		if imp.Kind != module.KindFunc {
			return errors.Unsupported(errors.PhaseVerify,
				fmt.Sprintf("imported %s %s.%s", imp.Kind, imp.Module, imp.Name))
		}
	}
	if raw := m.Raw(); raw != nil && raw.Start != nil {
		return errors.Unsupported(errors.PhaseVerify, "start function")
	}
	if len(m.Memories) > 1 {
		return errors.Unsupported(errors.PhaseVerify, fmt.Sprintf("%d memories", len(m.Memories)))
	}
	return nil
}

// stubImports satisfies every function import with a host function that
// returns zeros. Stubs are linked but never run: the start function is
// rejected and no exported start functions are called.
func stubImports(ctx context.Context, rt wazero.Runtime, compiled wazero.CompiledModule) error {
	byModule := map[string][]api.FunctionDefinition{}
	var order []string
	for _, fn := range compiled.ImportedFunctions() {
		modName, _, _ := fn.Import()
		if _, ok := byModule[modName]; !ok {
			order = append(order, modName)
		}
		byModule[modName] = append(byModule[modName], fn)
	}

	for _, modName := range order {
		builder := rt.NewHostModuleBuilder(modName)
		for _, fn := range byModule[modName] {
			_, name, _ := fn.Import()
			nresults := len(fn.ResultTypes())
			builder.NewFunctionBuilder().
				WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
					clear(stack[:nresults])
				}), fn.ParamTypes(), fn.ResultTypes()).
				Export(name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return errors.Wrap(errors.PhaseVerify, errors.KindInvalidData, err, "stub imports of "+modName)
		}
		Logger().Debug("stubbed imports",
			zap.String("module", modName),
			zap.Int("funcs", len(byModule[modName])))
	}
	return nil
}

// Memory is a linear memory that reports its size.
type Memory interface {
	weval.Memory
	weval.MemorySizer
}

const compareChunk = 64 << 10

// CompareMemory reports the first difference between want and got.
func CompareMemory(label string, want, got Memory) error {
	size := want.Size()
	if got.Size() != size {
		return errors.New(errors.PhaseVerify, errors.KindMismatch).
			Path(label).
			Value(got.Size()).
			Detail("size 0x%x, image has 0x%x", got.Size(), size).
			Build()
	}

	for off := uint64(0); off < uint64(size); off += compareChunk {
		n := uint32(min(compareChunk, uint64(size)-off))
		a, err := want.Read(uint32(off), n)
		if err != nil {
			return err
		}
		b, err := got.Read(uint32(off), n)
		if err != nil {
			return err
		}
		for i := range a {
			if a[i] != b[i] {
				addr := off + uint64(i)
				return errors.New(errors.PhaseVerify, errors.KindMismatch).
					Path(label).
					Value(addr).
					Detail("byte at 0x%x is 0x%02x, image has 0x%02x", addr, b[i], a[i]).
					Build()
			}
		}
	}
	return nil
}

func compareGlobals(m *module.Module, im *image.Image, mod api.Module) error {
	for _, exp := range m.Exports {
		if exp.Kind != module.KindGlobal {
			continue
		}
		want, ok := im.Globals[module.Global(exp.Index)]
		if !ok {
			continue
		}
		g := mod.ExportedGlobal(exp.Name)
		if g == nil {
			return errors.NotFound(errors.PhaseVerify, "exported global", exp.Name)
		}
		got := g.Get()
		if want.Type == wasm.ValI32 || want.Type == wasm.ValF32 {
			got &= math.MaxUint32
		}
		if got != want.Bits {
			return errors.New(errors.PhaseVerify, errors.KindMismatch).
				Path(module.Global(exp.Index).String()).
				Value(got).
				Detail("live value 0x%x, image has %s", got, want).
				Build()
		}
	}
	return nil
}
