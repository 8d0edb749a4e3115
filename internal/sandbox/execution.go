package sandbox

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/harry-0909/ic/internal/engine"
)

// Controller is the narrow slice of the replica-facing RPC client the
// sandbox manager needs in order to report completions (spec.md §6,
// sandbox → controller direction). internal/rpc provides the concrete
// implementation; tests provide a fake.
type Controller interface {
	ExecutionFinished(ExecutionFinishedReport)
}

// ExecutionFinishedReport is the sandbox → controller
// execution_finished(exec_id, SandboxExecOutput) envelope of spec.md §4.2/§6.
type ExecutionFinishedReport struct {
	ExecID ExecId

	Results          []uint64
	InstructionsLeft int64
	Trap             *engine.TrapError

	// State is nil only when the execution trapped or the engine failed to
	// run it. Every successful execution sets State, with its full
	// post-call memory, even when no page was modified.
	State *StateModifications

	TotalDuration time.Duration
	RunDuration   time.Duration
}

// StateModifications is the composed result spec.md §4.2 step d describes:
// final memories (inserted under the caller-supplied next ids) and the
// post-call subnet-available-memory reading.
type StateModifications struct {
	WasmMemory            Memory
	StableMemory          Memory
	SubnetAvailableMemory int64
}

// ExecInput carries what spec.md §4.2 calls "input": the function to
// invoke, its arguments, the instruction budget, the execution's resource
// parameters, and the two post-execution ids under which any produced
// snapshots must land.
type ExecInput struct {
	Method              string
	Args                []uint64
	InitialInstructions int64

	MaxMemoryPages  uint32
	SubnetAvailable *atomic.Int64

	NextWasmMemoryID   MemoryId
	NextStableMemoryID MemoryId
}

// execution is a transient, one-shot dispatch: exec_id, a shared reference
// to its CompiledModule, and owned clones of its input memories (spec.md
// §3 "Execution"). It holds a reference back to the manager so it can
// insert post-execution memories — the manager never holds a reference
// back to an execution (spec.md §9 "cyclic references avoided").
type execution struct {
	execID       ExecId
	wasm         *CompiledWasm
	wasmMemory   Memory
	stableMemory Memory
	input        ExecInput
	manager      *Manager
	totalTimer   time.Time
}

// run executes off the registry lock, on a worker-pool goroutine. It
// mirrors the Rust Execution::run algorithm of spec.md §4.2 step-for-step:
// run_timer, engine invocation, state-modification composition, and a
// late close of the instance held open until after the RPC send.
func (e *execution) run(ctx context.Context) {
	runTimer := time.Now()

	limits := engine.Limits{
		MaxMemoryPages:  e.input.MaxMemoryPages,
		SubnetAvailable: e.input.SubnetAvailable,
	}

	result, err := e.manager.runtime.Run(ctx, e.wasm.Module, engine.Input{
		Method:              e.input.Method,
		Args:                e.input.Args,
		InitialInstructions: e.input.InitialInstructions,
		WasmMemory:          e.wasmMemory.Pages,
		Limits:              limits,
	})
	if err != nil {
		// An instantiation/ABI-shape failure here is an engine error, not a
		// guest trap — there is no instance to hold open.
		e.manager.controller.ExecutionFinished(ExecutionFinishedReport{
			ExecID:        e.execID,
			Trap:          &engine.TrapError{Kind: engine.TrapGeneric, Err: err},
			TotalDuration: time.Since(e.totalTimer),
			RunDuration:   time.Since(runTimer),
		})
		return
	}
	defer result.Close(ctx)

	report := ExecutionFinishedReport{
		ExecID:           e.execID,
		Results:          result.Results,
		InstructionsLeft: result.InstructionsLeft,
		Trap:             result.Trap,
		TotalDuration:    time.Since(e.totalTimer),
		RunDuration:      time.Since(runTimer),
	}

	if result.Trap == nil {
		newWasmMemory := Memory{Pages: result.WasmMemory, NumPages: e.wasmMemory.NumPages}
		// Stable memory is outside the instrumented ABI's surface (ic0
		// stable-memory host calls are not modeled; see DESIGN.md) so it
		// passes through the execution unchanged.
		newStableMemory := e.stableMemory.Clone()

		var subnetAvailable int64
		if e.input.SubnetAvailable != nil {
			subnetAvailable = e.input.SubnetAvailable.Load()
		}

		report.State = &StateModifications{
			WasmMemory:            newWasmMemory,
			StableMemory:          newStableMemory,
			SubnetAvailableMemory: subnetAvailable,
		}

		e.manager.publishMemory(e.input.NextWasmMemoryID, newWasmMemory)
		e.manager.publishMemory(e.input.NextStableMemoryID, newStableMemory)
	}

	e.manager.controller.ExecutionFinished(report)
}

// publishMemory inserts a post-execution snapshot, silently discarding the
// error (neither logging it nor failing the execution) if the id was
// somehow already in use — spec.md §3
// invariant 3 guarantees the controller never reuses an id, so a conflict
// here would itself be a programmer error on the controller's part.
func (m *Manager) publishMemory(id MemoryId, mem Memory) {
	_ = m.reg.insertMemory(id, &mem)
}
