package instrument

// This file defines the in-memory representation of a parsed Wasm module —
// just enough structure to perform the rewrites in §4.1. Every known
// section (types, imports, functions, tables, memories, globals, exports,
// start, elements, code, data) is decoded into the structs below; only
// custom sections are kept as opaque raw bytes.

const (
	valI32 = 0x7F
	valI64 = 0x7E
	valF32 = 0x7D
	valF64 = 0x7C
)

// FuncType is a function signature: param and result value types.
type FuncType struct {
	Params  []byte
	Results []byte
}

const (
	importKindFunc byte = iota
	importKindTable
	importKindMemory
	importKindGlobal
)

// Import is one entry of the import section. Only the fields relevant to
// Kind are populated; the others pass straight through re-encoding
// unexamined.
type Import struct {
	Module, Field string
	Kind          byte
	FuncTypeIdx   uint32    // valid iff Kind == importKindFunc
	TableElemType byte      // valid iff Kind == importKindTable
	Limits        MemLimits // valid iff Kind == importKindTable or importKindMemory
	GlobalType    byte      // valid iff Kind == importKindGlobal
	GlobalMutable bool      // valid iff Kind == importKindGlobal
}

// Global is one entry of the global section. InitExpr holds the constant
// initializer instructions (everything up to and including the terminating
// `end`), since most canister globals are simple i32/i64/f32/f64
// constants or a global.get of an imported immutable global.
type Global struct {
	ValType  byte
	Mutable  bool
	InitExpr []Instr
}

const (
	exportKindFunc byte = iota
	exportKindTable
	exportKindMemory
	exportKindGlobal
)

// Export is one entry of the export section.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// MemLimits is a memory or table's (initial, optional maximum) page/element
// count.
type MemLimits struct {
	Initial uint32
	Max     uint32
	HasMax  bool
}

// ElementSegment is an active element segment in the MVP encoding (flag 0):
// implicit table 0, a constant offset expression, and a list of function
// indices.
type ElementSegment struct {
	OffsetConst int32
	FuncIndices []uint32
}

// DataSegment is an active data segment with a constant i32 offset.
type DataSegment struct {
	Offset int32
	Bytes  []byte
}

// Func is one function body: its declared locals (kept as the run-length
// groups Wasm encodes, with NumLocals holding their total count) and its
// instruction stream.
type Func struct {
	TypeIdx   uint32
	NumLocals uint32 // count of locals declared in the body (excludes params)
	LocalDecl []LocalDecl
	Code      []Instr
}

// LocalDecl is one run-length-encoded group of same-typed locals, as Wasm
// encodes them.
type LocalDecl struct {
	Count   uint32
	ValType byte
}

// Module is the parsed module, ready for the instrumentation passes to
// mutate in place.
type Module struct {
	Types    []FuncType
	Imports  []Import
	FuncSig  []uint32 // type index per module-defined function
	HasTable bool
	Table    MemLimits // valid iff HasTable
	HasMem   bool
	Mem      MemLimits // valid iff HasMem
	Globals  []Global
	Exports  []Export
	HasStart bool
	Start    uint32
	Elements []ElementSegment
	Funcs    []Func // one per module-defined function, parallel to FuncSig
	Data     []DataSegment

	// Custom sections are preserved verbatim and re-emitted after the known
	// sections, since nothing in the instrumentation pass needs to inspect
	// them.
	Custom []CustomSection
}

type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs returns how many of the module's imports are functions —
// i.e. the size of the imported region of the function index space.
func (m *Module) NumImportedFuncs() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == importKindFunc {
			n++
		}
	}
	return n
}

// NumFuncs returns the total function index space size: imported plus
// module-defined functions.
func (m *Module) NumFuncs() int {
	return m.NumImportedFuncs() + len(m.Funcs)
}

// NumGlobals returns the total global index space size.
func (m *Module) NumGlobals() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == importKindGlobal {
			n++
		}
	}
	return n + len(m.Globals)
}
