package sandbox

import "fmt"

// WasmId, MemoryId and ExecId are opaque 64-bit tokens minted by the
// controller. The three namespaces are disjoint even though they share an
// underlying representation: a WasmId and a MemoryId with the same numeric
// value name unrelated resources.
type (
	WasmId   uint64
	MemoryId uint64
	ExecId   uint64
)

func (id WasmId) String() string   { return fmt.Sprintf("wasm:%d", uint64(id)) }
func (id MemoryId) String() string { return fmt.Sprintf("memory:%d", uint64(id)) }
func (id ExecId) String() string   { return fmt.Sprintf("exec:%d", uint64(id)) }
