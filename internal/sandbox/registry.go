package sandbox

import (
	"context"
	"sync"

	"github.com/harry-0909/ic/internal/engine"
	"github.com/harry-0909/ic/internal/pagemap"
)

// CompiledWasm is a registry entry for a compiled canister module: the
// engine's compiled artifact plus the instrumentation summary the manager
// reports back to the controller (exported methods, memory limits).
// Immutable once published; safe to share across concurrent executions.
type CompiledWasm struct {
	Module *engine.CompiledModule
}

// Memory is a registry entry for one memory snapshot: a copy-on-write page
// map plus the Wasm page count it represents. Immutable once published —
// mutation proceeds by inserting a fresh snapshot under a new MemoryId
// (spec.md §4.2 "State machine of a memory id").
type Memory struct {
	Pages    pagemap.PageMap
	NumPages uint32
}

// Clone returns a cheap copy-on-write clone of m, safe to hand to a worker
// thread without holding the registry lock during execution.
func (m Memory) Clone() Memory {
	return Memory{Pages: m.Pages.Clone(), NumPages: m.NumPages}
}

// registry is the single mutex-guarded collection of compiled modules and
// memory snapshots. Every mutation — insert or remove — goes through reg's
// mutex; registry operations are meant to be short critical sections, per
// spec.md §5.
type registry struct {
	mu       sync.Mutex
	wasms    map[WasmId]*CompiledWasm
	memories map[MemoryId]*Memory
}

func newRegistry() *registry {
	return &registry{
		wasms:    make(map[WasmId]*CompiledWasm),
		memories: make(map[MemoryId]*Memory),
	}
}

func (r *registry) insertWasm(id WasmId, w *CompiledWasm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.wasms[id]; exists {
		return idConflict("wasm id already in use: " + id.String())
	}
	r.wasms[id] = w
	return nil
}

// removeWasm takes the entry out of the registry under the lock and
// returns it so the caller can close it off-lock (closing a compiled
// module can be expensive and must never happen while other goroutines
// are blocked on the registry mutex).
func (r *registry) removeWasm(id WasmId) (*CompiledWasm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wasms[id]
	if !ok {
		return nil, idMissing("wasm id not found: " + id.String())
	}
	delete(r.wasms, id)
	return w, nil
}

func (r *registry) getWasm(id WasmId) (*CompiledWasm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wasms[id]
	if !ok {
		return nil, idMissing("wasm id not found: " + id.String())
	}
	return w, nil
}

func (r *registry) insertMemory(id MemoryId, m *Memory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.memories[id]; exists {
		return idConflict("memory id already in use: " + id.String())
	}
	r.memories[id] = m
	return nil
}

func (r *registry) removeMemory(id MemoryId) (*Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.memories[id]
	if !ok {
		return nil, idMissing("memory id not found: " + id.String())
	}
	delete(r.memories, id)
	return m, nil
}

func (r *registry) getMemory(id MemoryId) (*Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.memories[id]
	if !ok {
		return nil, idMissing("memory id not found: " + id.String())
	}
	return m, nil
}

// closeWasmOffLock drops the engine-level compiled module. Callers must
// have already removed it from the registry (removeWasm) before calling
// this, and must do so without holding the registry mutex.
func closeWasmOffLock(ctx context.Context, w *CompiledWasm) error {
	if w == nil || w.Module == nil {
		return nil
	}
	return w.Module.Close(ctx)
}
