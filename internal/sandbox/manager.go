package sandbox

import (
	"context"
	"time"

	"github.com/harry-0909/ic/internal/engine"
	"github.com/harry-0909/ic/internal/instrument"
	"github.com/harry-0909/ic/internal/pagemap"
)

// Config configures a Manager. Runtime and Controller are required; the
// rest default.
type Config struct {
	Runtime    *engine.Runtime
	Controller Controller
	CostTable  instrument.CostTable
	// Workers bounds the worker pool (spec.md §5, default 4).
	Workers int
}

// Manager owns the process-local registry of compiled modules and memory
// snapshots, dispatches executions to a bounded worker pool, and reports
// completions to the controller. It is the public contract of spec.md
// §4.2.
type Manager struct {
	reg        *registry
	pool       *Pool
	runtime    *engine.Runtime
	controller Controller
	costTable  instrument.CostTable
}

// NewManager builds a Manager from cfg.
func NewManager(cfg Config) *Manager {
	costTable := cfg.CostTable
	if costTable.Costs == nil && costTable.DefaultCost == 0 {
		costTable = instrument.NewCostTable()
	}
	return &Manager{
		reg:        newRegistry(),
		pool:       NewPool(cfg.Workers),
		runtime:    cfg.Runtime,
		controller: cfg.Controller,
		costTable:  costTable,
	}
}

// OpenWasm instruments and compiles src, then registers it under wasm_id.
// Fails with KindIdConflict if wasm_id is already in use, or
// KindEngineCompile if instrumentation or compilation fails (spec.md §4.2).
func (m *Manager) OpenWasm(ctx context.Context, id WasmId, src []byte) error {
	compiled, err := m.runtime.Compile(ctx, src, m.costTable)
	if err != nil {
		return engineCompile(err)
	}
	entry := &CompiledWasm{Module: compiled}
	if err := m.reg.insertWasm(id, entry); err != nil {
		// The id raced into use while we were compiling off-lock; drop
		// what we just built rather than leak it.
		compiled.Close(ctx)
		return err
	}
	return nil
}

// CloseWasm removes wasm_id from the registry and releases the compiled
// module off the registry lock (dropping a compiled module can be
// expensive; spec.md §5).
func (m *Manager) CloseWasm(ctx context.Context, id WasmId) error {
	entry, err := m.reg.removeWasm(id)
	if err != nil {
		return err
	}
	if err := m.pool.Submit(func() { closeWasmOffLock(ctx, entry) }); err != nil {
		// Pool saturated: close inline rather than drop the reference —
		// correctness over the backpressure hint for a teardown path.
		closeWasmOffLock(ctx, entry)
	}
	return nil
}

// OpenMemory inserts a memory snapshot under memory_id. Fails with
// KindIdConflict if memory_id is already in use.
func (m *Manager) OpenMemory(id MemoryId, pages pagemap.PageMap, numWasmPages uint32) error {
	return m.reg.insertMemory(id, &Memory{Pages: pages, NumPages: numWasmPages})
}

// CloseMemory removes memory_id and drops the snapshot on the worker pool.
// An mmap-backed page's actual unmap happens via a runtime finalizer once
// nothing references it (internal/pagemap), so the work this offloads is
// keeping the last reference alive until the registry's own critical
// section has already returned.
func (m *Manager) CloseMemory(id MemoryId) error {
	mem, err := m.reg.removeMemory(id)
	if err != nil {
		return err
	}
	_ = m.pool.Submit(func() { _ = mem })
	return nil
}

// StartExecution resolves wasm_id/wasm_memory_id/stable_memory_id,
// snapshots cheap clones of the current bindings under the registry lock,
// then dispatches the actual run to the worker pool and returns
// immediately. The result is delivered later via
// Controller.ExecutionFinished (spec.md §4.2 "Execution algorithm").
func (m *Manager) StartExecution(ctx context.Context, execID ExecId, wasmID WasmId, wasmMemoryID, stableMemoryID MemoryId, input ExecInput) error {
	totalTimer := time.Now()

	wasm, err := m.reg.getWasm(wasmID)
	if err != nil {
		return err
	}
	wasmMemEntry, err := m.reg.getMemory(wasmMemoryID)
	if err != nil {
		return err
	}
	stableMemEntry, err := m.reg.getMemory(stableMemoryID)
	if err != nil {
		return err
	}

	exec := &execution{
		execID:       execID,
		wasm:         wasm,
		wasmMemory:   wasmMemEntry.Clone(),
		stableMemory: stableMemEntry.Clone(),
		input:        input,
		manager:      m,
		totalTimer:   totalTimer,
	}

	if err := m.pool.Submit(func() { exec.run(ctx) }); err != nil {
		return err
	}
	return nil
}

// CreateExecutionStateResult is the synchronous reply to
// create_execution_state (spec.md §4.2).
type CreateExecutionStateResult struct {
	WasmMemory        Memory
	ExportedGlobals   []int64
	ExportedFunctions []instrument.Method
}

// CreateExecutionState instruments src fresh (independent of whatever is
// registered under wasm_id, mirroring the source's own re-derivation at
// this call — see DESIGN.md's "open questions resolved"), overlays its
// data-segment pages onto initialWasmPages, and returns the resulting
// memory plus the static exported-globals/exported-functions summary —
// synchronously, unlike start_execution.
func (m *Manager) CreateExecutionState(ctx context.Context, wasmID WasmId, src []byte, initialWasmPages pagemap.PageMap) (*CreateExecutionStateResult, error) {
	if _, err := m.reg.getWasm(wasmID); err != nil {
		return nil, err
	}

	out, err := instrument.Instrument(src, m.costTable)
	if err != nil {
		return nil, engineCompile(err)
	}

	allocator := pagemap.NewHeapAllocator()
	updates := allocator.Allocate(out.DataPages)
	wasmMemory := initialWasmPages.WithPages(updates)

	return &CreateExecutionStateResult{
		WasmMemory:        Memory{Pages: wasmMemory, NumPages: out.MemoryInitialPages},
		ExportedGlobals:   out.GlobalInitialValues,
		ExportedFunctions: out.ExportedFunctions,
	}, nil
}
