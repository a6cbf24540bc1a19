// Package weval provides the module image and intrinsic discovery layers
// of a WebAssembly partial evaluator.
//
// An image is an addressable snapshot of a module's initial state: the
// bytes of every linear memory after data segments are applied, the values
// of constant globals and the function elements of each table. A
// specializer reads and writes the snapshot instead of the module, then
// writes it back as one data segment per memory.
//
// Intrinsics are imports from the "weval" namespace that a program calls
// to steer specialization. They are recognized by exact name and
// signature.
//
// # Architecture Overview
//
//	weval/              Root package with the Memory interface
//	├── wasm/           Core module decoding, encoding and instructions
//	├── module/         Resolved module view with stable ids
//	├── ir/             Control-flow form of function bodies
//	├── image/          Snapshot construction, typed access, write-back
//	├── intrinsics/     Intrinsic and export matching, constant extraction
//	├── verify/         Cross-checks against a wazero instance
//	├── errors/         Structured error types
//	└── cmd/weval-image Command line inspector
//
// # Quick Start
//
//	m, err := module.Parse(data)
//	if err != nil {
//	    return err
//	}
//	im, err := image.Build(m, image.RolesFromExports())
//	if err != nil {
//	    return err
//	}
//	hooks := intrinsics.Find(m)
//
//	heap, err := im.MainHeap()
//	if err != nil {
//	    return err
//	}
//	if err := im.WriteU32(heap, 1024, 7); err != nil {
//	    return err
//	}
//
//	image.Update(m, im)
//	out, err := m.Encode()
//
// # Errors
//
// Recoverable failures are *errors.Error values carrying a phase and a
// kind and match package sentinels through errors.Is. Calls that break a
// caller contract, such as naming a memory the image does not hold, panic.
package weval
