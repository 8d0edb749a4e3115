package instrument

import "strconv"

// injectHelperFunctions prepends the two host-call imports the rest of the
// instrumentation pass depends on:
//
//	(import "__" "out_of_instructions" (func))
//	(import "__" "update_available_memory" (func (param i32 i32) (result i32)))
//
// They go first, ahead of any import the module already declares, so every
// existing function reference — call site, export, element segment entry,
// start section — can be shifted by the same constant (+2) regardless of
// whether it pointed at an imported or module-defined function.
func injectHelperFunctions(m *Module) {
	m.Types = append(m.Types, FuncType{})
	outOfInstructionsType := uint32(len(m.Types) - 1)

	m.Types = append(m.Types, FuncType{Params: []byte{valI32, valI32}, Results: []byte{valI32}})
	updateAvailableMemoryType := uint32(len(m.Types) - 1)

	newImports := []Import{
		{Module: "__", Field: "out_of_instructions", Kind: importKindFunc, FuncTypeIdx: outOfInstructionsType},
		{Module: "__", Field: "update_available_memory", Kind: importKindFunc, FuncTypeIdx: updateAvailableMemoryType},
	}
	m.Imports = append(newImports, m.Imports...)

	shiftFunctionIndices(m, 2)
}

// shiftFunctionIndices adds delta to every existing reference into the
// function index space: call sites, function exports, element segment
// entries, and the start function.
func shiftFunctionIndices(m *Module, delta uint32) {
	for fi := range m.Funcs {
		code := m.Funcs[fi].Code
		for i := range code {
			if code[i].Op == opCall {
				shifted := *code[i].CallIdx + delta
				code[i].CallIdx = &shifted
			}
		}
	}
	for i := range m.Exports {
		if m.Exports[i].Kind == exportKindFunc {
			m.Exports[i].Index += delta
		}
	}
	for i := range m.Elements {
		for j := range m.Elements[i].FuncIndices {
			m.Elements[i].FuncIndices[j] += delta
		}
	}
	if m.HasStart {
		m.Start += delta
	}
}

// exportTable renames an existing table export to "table", or adds one if
// the module has a table but never exported it. The sandbox manager and
// wazero embedding both expect the table to be reachable under this fixed
// name.
func exportTable(m *Module) {
	exported := false
	for i := range m.Exports {
		if m.Exports[i].Kind == exportKindTable {
			m.Exports[i].Name = "table"
			exported = true
		}
	}
	if !exported && m.HasTable {
		m.Exports = append(m.Exports, Export{Name: "table", Kind: exportKindTable, Index: 0})
	}
}

// exportMemory renames an existing memory export to "memory", or adds one
// if the module has memory but never exported it.
func exportMemory(m *Module) {
	exported := false
	for i := range m.Exports {
		if m.Exports[i].Kind == exportKindMemory {
			m.Exports[i].Name = "memory"
			exported = true
		}
	}
	if !exported && m.HasMem {
		m.Exports = append(m.Exports, Export{Name: "memory", Kind: exportKindMemory, Index: 0})
	}
}

// exportMutableGlobals adds a synthetic export for every mutable global the
// module did not already export, under the name
// __persistent_mutable_global_<index>. The sandbox manager needs every
// mutable global reachable by export so it can snapshot and restore it
// across messages; globals the source module left unexported would
// otherwise be invisible to it.
func exportMutableGlobals(m *Module) {
	mutable := make([]bool, m.NumGlobals())
	idx := 0
	for _, imp := range m.Imports {
		if imp.Kind == importKindGlobal {
			mutable[idx] = imp.GlobalMutable
			idx++
		}
	}
	for _, g := range m.Globals {
		mutable[idx] = g.Mutable
		idx++
	}

	exported := make([]bool, len(mutable))
	for _, e := range m.Exports {
		if e.Kind == exportKindGlobal {
			exported[e.Index] = true
		}
	}

	for i, isMutable := range mutable {
		if isMutable && !exported[i] {
			m.Exports = append(m.Exports, Export{
				Name:  syntheticGlobalExportName(uint32(i)),
				Kind:  exportKindGlobal,
				Index: uint32(i),
			})
		}
	}
}

func syntheticGlobalExportName(idx uint32) string {
	return "__persistent_mutable_global_" + strconv.FormatUint(uint64(idx), 10)
}
