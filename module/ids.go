package module

import "fmt"

// Func is a function index: imported functions first, then defined ones.
type Func uint32

// Global is a global index, imports first.
type Global uint32

// Memory is a memory index, imports first.
type Memory uint32

// Table is a table index, imports first.
type Table uint32

// Signature is a type section index.
type Signature uint32

// InvalidFunc marks an empty table slot.
const InvalidFunc Func = Func(^uint32(0))

// IsValid reports whether f names a function rather than an empty slot.
func (f Func) IsValid() bool {
	return f != InvalidFunc
}

func (f Func) String() string {
	if !f.IsValid() {
		return "func<invalid>"
	}
	return fmt.Sprintf("func%d", uint32(f))
}

func (g Global) String() string    { return fmt.Sprintf("global%d", uint32(g)) }
func (m Memory) String() string    { return fmt.Sprintf("memory%d", uint32(m)) }
func (t Table) String() string     { return fmt.Sprintf("table%d", uint32(t)) }
func (s Signature) String() string { return fmt.Sprintf("sig%d", uint32(s)) }
