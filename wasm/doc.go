// Package wasm reads and writes WebAssembly core modules.
//
// The package covers what an image builder and a partial evaluator front end
// need: the section structure of a core module, function bodies as raw
// bytes, an instruction decoder for the MVP plus sign extension, saturating
// truncation, bulk memory, reference types and tail calls, and evaluation of
// constant expressions. SIMD and atomic instructions are rejected with
// ErrUnsupportedOpcode. The package does not validate modules.
//
// # Parsing
//
//	data, _ := os.ReadFile("module.wasm")
//	m, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Encoding
//
// Encode writes sections in canonical order. Function bodies, init
// expressions and custom sections are copied byte for byte:
//
//	out := m.Encode()
//
// # Instructions
//
//	instrs, err := wasm.DecodeInstructions(m.Code[0].Code)
//	for _, in := range instrs {
//	    if in.Opcode == wasm.OpCall {
//	        callee := in.Imm.(wasm.CallImm).FuncIdx
//	        _ = callee
//	    }
//	}
package wasm
