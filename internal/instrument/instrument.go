// Package instrument implements the static Wasm rewrite pass described in
// §4.1: it injects deterministic instruction metering and memory-growth
// bookkeeping into a canister module before it is ever compiled or run.
package instrument

import (
	"errors"
	"sort"
	"strings"

	"github.com/harry-0909/ic/internal/pagemap"
)

// updateAvailableMemoryFn is fixed at import index 1: out_of_instructions is
// always index 0, update_available_memory always index 1, because
// injectHelperFunctions puts them first in that order.
const updateAvailableMemoryFn = 1
const outOfInstructionsFn = 0

// MethodKind classifies a recognized IC method export.
type MethodKind int

const (
	MethodQuery MethodKind = iota
	MethodCompositeQuery
	MethodUpdate
	MethodSystem
)

// Method is one IC-relevant exported function: a query/update/composite
// query callable by name, or a fixed-name system method.
type Method struct {
	Kind MethodKind
	Name string
}

var systemMethods = map[string]bool{
	"canister_init":             true,
	"canister_pre_upgrade":      true,
	"canister_post_upgrade":     true,
	"canister_inspect_message":  true,
	"canister_heartbeat":        true,
	"canister_global_timer":     true,
}

// recognizeMethod classifies an export name against the IC method grammar.
// Exports that don't match are private to the module and are not reported.
func recognizeMethod(exportName string) (Method, bool) {
	switch {
	case strings.HasPrefix(exportName, "canister_query "):
		return Method{Kind: MethodQuery, Name: strings.TrimPrefix(exportName, "canister_query ")}, true
	case strings.HasPrefix(exportName, "canister_composite_query "):
		return Method{Kind: MethodCompositeQuery, Name: strings.TrimPrefix(exportName, "canister_composite_query ")}, true
	case strings.HasPrefix(exportName, "canister_update "):
		return Method{Kind: MethodUpdate, Name: strings.TrimPrefix(exportName, "canister_update ")}, true
	case systemMethods[exportName]:
		return Method{Kind: MethodSystem, Name: exportName}, true
	default:
		return Method{}, false
	}
}

// Output is the result of a successful instrumentation pass.
type Output struct {
	// ExportedFunctions are the IC-relevant exports recognized after
	// rewriting: queries, updates, composite queries, and system methods.
	ExportedFunctions []Method

	// MemoryInitialPages and MemoryMaxPages describe the module's declared
	// memory limits. MemoryHasMax is false when the module declares no
	// maximum (unbounded up to the engine's own ceiling).
	MemoryInitialPages uint32
	MemoryMaxPages     uint32
	MemoryHasMax       bool

	// DataPages is the module's data section, pre-split into 4 KiB page
	// images and removed from Binary.
	DataPages []pagemap.IndexedPageData

	// GlobalInitialValues holds, for every global in the module's global
	// index space (imported then module-defined), its initial value when
	// it was a recognizable integer constant, or 0 otherwise. Consumed by
	// create_execution_state (spec.md §4.2) to report exported_globals.
	GlobalInitialValues []int64

	// Binary is the instrumented module, ready to compile.
	Binary []byte
}

// Instrument takes a Wasm binary and a cost table and returns the
// instrumented binary, its data pages, and the set of IC methods it
// exports. See the package doc for the full rewrite this performs.
func Instrument(wasmBytes []byte, costTable CostTable) (*Output, error) {
	m, err := decodeModule(wasmBytes)
	if err != nil {
		var instErr *Error
		if errors.As(err, &instErr) {
			return nil, instErr
		}
		return nil, newErr(KindParse, "failed to parse module", err)
	}

	injectHelperFunctions(m)
	exportTable(m)
	exportMemory(m)
	exportMutableGlobals(m)

	numFunctions := uint32(m.NumFuncs())
	numGlobals := uint32(m.NumGlobals())

	instructionsCounterIdx := numGlobals
	setCounterFn := numFunctions
	getCounterFn := numFunctions + 1
	decrementByFn := numFunctions + 2

	var startFn uint32
	hadStart := m.HasStart
	if hadStart {
		startFn = m.Start
		m.HasStart = false
	}

	for i := range m.Funcs {
		m.Funcs[i].Code = injectMetering(m.Funcs[i].Code, costTable, instructionsCounterIdx, outOfInstructionsFn, decrementByFn)
	}
	for i := range m.Funcs {
		typeIdx := m.Funcs[i].TypeIdx
		paramCount := 0
		if int(typeIdx) < len(m.Types) {
			paramCount = len(m.Types[typeIdx].Params)
		}
		injectUpdateAvailableMemory(&m.Funcs[i], paramCount, updateAvailableMemoryFn)
	}

	globalInitialValues := make([]int64, 0, numGlobals)
	for _, imp := range m.Imports {
		if imp.Kind == importKindGlobal {
			globalInitialValues = append(globalInitialValues, 0)
		}
	}
	for _, g := range m.Globals {
		v, _ := constI64(g.InitExpr)
		globalInitialValues = append(globalInitialValues, v)
	}

	segs := segmentsFromData(m.Data)
	m.Data = nil

	// canister counter_set: (param i64) -> (), local.get 0; global.set CTR
	m.Types = append(m.Types, FuncType{Params: []byte{valI64}})
	setCounterType := uint32(len(m.Types) - 1)
	m.FuncSig = append(m.FuncSig, setCounterType)
	m.Funcs = append(m.Funcs, Func{
		TypeIdx: setCounterType,
		Code: []Instr{
			varu32Instr(opLocalGet, 0),
			varu32Instr(opGlobalSet, instructionsCounterIdx),
			voidInstr(opEnd),
		},
	})
	m.Exports = append(m.Exports, Export{Name: "canister counter_set", Kind: exportKindFunc, Index: setCounterFn})

	// canister counter_get: () -> (i64), global.get CTR
	m.Types = append(m.Types, FuncType{Results: []byte{valI64}})
	getCounterType := uint32(len(m.Types) - 1)
	m.FuncSig = append(m.FuncSig, getCounterType)
	m.Funcs = append(m.Funcs, Func{
		TypeIdx: getCounterType,
		Code: []Instr{
			varu32Instr(opGlobalGet, instructionsCounterIdx),
			voidInstr(opEnd),
		},
	})
	m.Exports = append(m.Exports, Export{Name: "canister counter_get", Kind: exportKindFunc, Index: getCounterFn})

	// decrement_by: (param i32) -> (i32); traps into out_of_instructions if
	// the counter is below the (zero-extended) argument, then subtracts the
	// argument.
	m.Types = append(m.Types, FuncType{Params: []byte{valI32}, Results: []byte{valI32}})
	decrementByType := uint32(len(m.Types) - 1)
	m.FuncSig = append(m.FuncSig, decrementByType)
	m.Funcs = append(m.Funcs, Func{
		TypeIdx: decrementByType,
		Code: []Instr{
			varu32Instr(opGlobalGet, instructionsCounterIdx),
			varu32Instr(opLocalGet, 0),
			voidInstr(opI64ExtendI32U),
			voidInstr(opI64LtS),
			blockInstr(opIf),
			callInstr(outOfInstructionsFn),
			voidInstr(opEnd),
			varu32Instr(opGlobalGet, instructionsCounterIdx),
			varu32Instr(opLocalGet, 0),
			voidInstr(opI64ExtendI32U),
			voidInstr(opI64Sub),
			varu32Instr(opGlobalSet, instructionsCounterIdx),
			varu32Instr(opLocalGet, 0),
			voidInstr(opEnd),
		},
	})

	m.Exports = append(m.Exports, Export{Name: "canister counter_instructions", Kind: exportKindGlobal, Index: instructionsCounterIdx})

	if hadStart {
		m.Exports = append(m.Exports, Export{Name: "canister_start", Kind: exportKindFunc, Index: startFn})
	}

	m.Globals = append(m.Globals, Global{
		ValType: valI64,
		Mutable: true,
		InitExpr: []Instr{
			{Op: opI64Const, Raw: []byte{0}},
			{Op: opEnd},
		},
	})

	var methods []Method
	for _, e := range m.Exports {
		if method, ok := recognizeMethod(e.Name); ok {
			methods = append(methods, method)
		}
	}
	sort.Slice(methods, func(i, j int) bool {
		if methods[i].Kind != methods[j].Kind {
			return methods[i].Kind < methods[j].Kind
		}
		return methods[i].Name < methods[j].Name
	})

	var initialPages, maxPages uint32
	var hasMax bool
	if m.HasMem {
		initialPages, maxPages, hasMax = m.Mem.Initial, m.Mem.Max, m.Mem.HasMax
	}

	if err := segs.validate(initialPages); err != nil {
		return nil, err
	}

	binary := encodeModule(m)

	return &Output{
		ExportedFunctions:   methods,
		MemoryInitialPages:  initialPages,
		MemoryMaxPages:      maxPages,
		MemoryHasMax:        hasMax,
		DataPages:           segs.asPages(),
		GlobalInitialValues: globalInitialValues,
		Binary:              binary,
	}, nil
}
