// Package errors provides structured error types for wasm-weval.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries a location path, the offending value and
// a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRead, errors.KindOutOfBounds).
//		Path("memory", "0").
//		Value(addr).
//		Detail("read of %d bytes at 0x%x", 4, addr).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OutOfBounds(errors.PhaseRead, path, addr, size, length)
//	err := errors.NotConfigured(errors.PhaseResolve, "main heap")
//
// Errors compare by Kind (and Phase, when the target sets one) with the
// standard errors.Is, so package sentinels can be matched without string
// inspection.
package errors
