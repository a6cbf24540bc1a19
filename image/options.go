package image

import "github.com/wippyai/wasm-weval/module"

// Conventional export names that identify roles in toolchain output.
const (
	ExportMainHeap     = "memory"
	ExportStackPointer = "__stack_pointer"
	ExportMainTable    = "__indirect_function_table"
)

// Option configures Build.
type Option func(*buildConfig)

type buildConfig struct {
	stackPointer *module.Global
	mainHeap     *module.Memory
	mainTable    *module.Table
	fromExports  bool
}

// WithStackPointer names the global holding the shadow stack pointer.
func WithStackPointer(g module.Global) Option {
	return func(c *buildConfig) {
		c.stackPointer = &g
	}
}

// WithMainHeap names the memory that pointers address by default.
func WithMainHeap(m module.Memory) Option {
	return func(c *buildConfig) {
		c.mainHeap = &m
	}
}

// WithMainTable names the table that function pointers index.
func WithMainTable(t module.Table) Option {
	return func(c *buildConfig) {
		c.mainTable = &t
	}
}

// RolesFromExports derives roles from the exports "memory",
// "__stack_pointer" and "__indirect_function_table" when present.
// Explicit With options take precedence.
func RolesFromExports() Option {
	return func(c *buildConfig) {
		c.fromExports = true
	}
}
