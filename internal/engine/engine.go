// Package engine wraps wazero into the capability the sandbox manager needs:
// compile an instrumented canister module once, then instantiate and run it
// any number of times, with the two ABI imports the instrumenter's rewrite
// pass depends on (§4.1) wired to host functions.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tetratelabs/wazero"

	"github.com/harry-0909/ic/internal/instrument"
)

// hostImportModule is the fixed import module name every instrumented
// canister expects its two ABI host calls under (see
// internal/instrument/abi.go).
const hostImportModule = "__"

// Config configures the process-wide Runtime.
type Config struct {
	// MemoryLimitPages bounds the linear memory any single instance may
	// grow to, across every canister instantiated from this Runtime. Zero
	// leaves it to each module's own declared max (or wazero's default
	// ceiling).
	MemoryLimitPages uint32
}

// Runtime owns the process-wide wazero runtime and the "__" host module
// that every instrumented canister imports out_of_instructions and
// update_available_memory from. One Runtime is shared across every
// CompiledModule and every execution in the process.
type Runtime struct {
	wz wazero.Runtime
	ctx context.Context

	// instanceCounter names module instances uniquely — wazero requires
	// distinct names when more than one instance of the same compiled
	// module coexists.
	instanceCounter atomic.Uint64
}

// NewRuntime builds the shared wazero runtime and registers the host
// module. ctx is retained for the lifetime of the Runtime and used for
// every Compile/Instantiate call that doesn't carry its own context.
func NewRuntime(ctx context.Context, cfg Config) (*Runtime, error) {
	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	r := &Runtime{wz: wazero.NewRuntimeWithConfig(ctx, rc), ctx: ctx}

	if err := r.registerHostModule(); err != nil {
		r.wz.Close(ctx)
		return nil, err
	}
	return r, nil
}

func (r *Runtime) registerHostModule() error {
	builder := r.wz.NewHostModuleBuilder(hostImportModule)
	builder.NewFunctionBuilder().WithFunc(hostOutOfInstructions).Export("out_of_instructions")
	builder.NewFunctionBuilder().WithFunc(hostUpdateAvailableMemory).Export("update_available_memory")
	if _, err := builder.Instantiate(r.ctx); err != nil {
		return fmt.Errorf("engine: instantiate host module: %w", err)
	}
	return nil
}

// Close releases the runtime and every module compiled or instantiated
// from it.
func (r *Runtime) Close(ctx context.Context) error {
	return r.wz.Close(ctx)
}

// CompiledModule is the immutable artifact produced by Compile. It holds a
// wazero-compiled binary plus the static instrumentation summary (exported
// methods, memory limits, data pages) the sandbox manager's registry keeps
// alongside it. Safe to share across any number of concurrent executions.
type CompiledModule struct {
	runtime  *Runtime
	compiled wazero.CompiledModule

	// Summary is the instrumenter's output for this module: recognized IC
	// methods, declared memory limits, and the extracted data pages.
	Summary *instrument.Output
}

// Compile instruments wasmBytes against costTable, then compiles the
// resulting binary. Compilation itself is expensive and is meant to be
// done once per wasm_id; every execution reuses the returned
// CompiledModule.
func (r *Runtime) Compile(ctx context.Context, wasmBytes []byte, costTable instrument.CostTable) (*CompiledModule, error) {
	out, err := instrument.Instrument(wasmBytes, costTable)
	if err != nil {
		return nil, err
	}
	compiled, err := r.wz.CompileModule(ctx, out.Binary)
	if err != nil {
		return nil, fmt.Errorf("engine: compile instrumented module: %w", err)
	}
	return &CompiledModule{runtime: r, compiled: compiled, Summary: out}, nil
}

// Close drops the compiled module. Callers (the sandbox registry) are
// responsible for only calling this once every execution referencing the
// module has finished, and for doing so off the registry mutex.
func (m *CompiledModule) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// nextInstanceName returns a process-unique name for a new module
// instance.
func (r *Runtime) nextInstanceName() string {
	return fmt.Sprintf("canister-%d", r.instanceCounter.Add(1))
}
