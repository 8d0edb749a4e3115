package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/harry-0909/ic/internal/pagemap"
)

// ErrOutOfInstructions is the sentinel the out_of_instructions host import
// traps with. classifyTrap recognizes it via errors.Is.
var ErrOutOfInstructions = errors.New("engine: instruction counter exhausted")

// execLimitsKey is the context key Run stashes the current
// execution's Limits under, so the two host imports (which only receive a
// context.Context and api.Module) can reach them.
type execLimitsKey struct{}

// Limits is the per-execution resource ceiling the update_available_memory
// host import enforces. SubnetAvailable, when non-nil, is a shared counter
// (bytes) decremented by every accepted memory.grow and read back by the
// manager after the execution completes — the "subnet available memory"
// reading of spec.md §4.2/§5.
type Limits struct {
	MaxMemoryPages  uint32
	SubnetAvailable *atomic.Int64
}

func hostOutOfInstructions(ctx context.Context, mod api.Module) {
	panic(ErrOutOfInstructions)
}

// hostUpdateAvailableMemory implements
// (import "__" "update_available_memory" func(i32, i32) -> i32): called
// after every memory.grow with (native_grow_arg, native_grow_result),
// returning a status flag (1 accept, 0 reject). growResult of all-ones
// means the engine's own memory.grow already failed, in which case there
// is nothing further to charge.
func hostUpdateAvailableMemory(ctx context.Context, mod api.Module, growArg, growResult uint32) uint32 {
	const growFailed = 0xFFFFFFFF
	if growResult == growFailed {
		return 1
	}
	limits, _ := ctx.Value(execLimitsKey{}).(*Limits)
	if limits == nil {
		return 1
	}
	if limits.MaxMemoryPages > 0 && growResult > limits.MaxMemoryPages {
		return 0
	}
	if limits.SubnetAvailable != nil {
		delta := int64(growArg) * int64(pagemap.WasmPageSize)
		if limits.SubnetAvailable.Add(-delta) < 0 {
			limits.SubnetAvailable.Add(delta)
			return 0
		}
	}
	return 1
}

// Input is everything a single execution needs beyond the CompiledModule
// itself: which export to invoke, its arguments, the instruction budget to
// seed the counter with, the initial memory contents, and the resource
// limits the host imports enforce.
type Input struct {
	Method              string
	Args                []uint64
	InitialInstructions int64
	WasmMemory          pagemap.PageMap
	Limits              Limits
}

// TrapKind classifies an engine-trap error (spec.md §7's
// "engine-trap (including out-of-instructions and out-of-memory)").
type TrapKind int

const (
	TrapGeneric TrapKind = iota
	TrapOutOfInstructions
	TrapMemoryExceeded
	TrapTimeout
)

func (k TrapKind) String() string {
	switch k {
	case TrapOutOfInstructions:
		return "out-of-instructions"
	case TrapMemoryExceeded:
		return "out-of-memory"
	case TrapTimeout:
		return "timeout"
	default:
		return "trap"
	}
}

// TrapError is the classified failure of a call into guest code. It wraps
// the underlying wazero/guest error so callers can still errors.Is/As
// through it.
type TrapError struct {
	Kind TrapKind
	Err  error
}

func (e *TrapError) Error() string { return fmt.Sprintf("engine: %s: %v", e.Kind, e.Err) }
func (e *TrapError) Unwrap() error { return e.Err }

func classifyTrap(err error) *TrapError {
	if errors.Is(err, ErrOutOfInstructions) {
		return &TrapError{Kind: TrapOutOfInstructions, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TrapError{Kind: TrapTimeout, Err: err}
	}
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		return &TrapError{Kind: TrapTimeout, Err: err}
	}
	if strings.Contains(err.Error(), "memory") {
		return &TrapError{Kind: TrapMemoryExceeded, Err: err}
	}
	return &TrapError{Kind: TrapGeneric, Err: err}
}

// Result is the outcome of a completed Run: either a successful call
// (Results populated, Trap nil) or a trapped one (Trap populated).
type Result struct {
	Results          []uint64
	InstructionsLeft int64
	Trap             *TrapError

	// WasmMemory is the instance's whole memory after the call, read back
	// into a fresh PageMap. It holds every page, touched or not; no delta
	// against the input snapshot is computed.
	WasmMemory pagemap.PageMap

	// instance is kept alive until the caller calls Close. Closing a wazero
	// instance can be expensive; the sandbox manager holds it open until
	// after it has reported the result to the controller, so that cost
	// never lands inside the critical path of producing a reply
	// (spec.md §4.2 step g).
	instance api.Module
}

// Close releases the instance backing this Result. The manager is expected
// to call this only after execution_finished has been sent.
func (res *Result) Close(ctx context.Context) error {
	if res.instance == nil {
		return nil
	}
	return res.instance.Close(ctx)
}

// Run instantiates cm fresh, seeds its instruction counter, writes the
// input snapshot into its linear memory, invokes the requested method, and
// reads the counter and memory back out. Each call gets its own instance —
// canister instances carry per-message state (globals, memory) that must
// not leak between executions sharing the same CompiledModule. The
// returned Result's instance is left open; callers must Close it once
// they're done (see Result.Close).
func (r *Runtime) Run(ctx context.Context, cm *CompiledModule, in Input) (*Result, error) {
	name := r.nextInstanceName()
	runCtx := context.WithValue(ctx, execLimitsKey{}, &in.Limits)

	mod, err := r.wz.InstantiateModule(runCtx, cm.compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, fmt.Errorf("engine: instantiate %s: %w", name, err)
	}

	if err := writeMemoryPages(mod, in.WasmMemory); err != nil {
		mod.Close(ctx)
		return nil, err
	}

	setCounter := mod.ExportedFunction("canister counter_set")
	getCounter := mod.ExportedFunction("canister counter_get")
	if setCounter == nil || getCounter == nil {
		mod.Close(ctx)
		return nil, fmt.Errorf("engine: %s is missing the instrumented counter ABI", name)
	}
	if _, err := setCounter.Call(runCtx, uint64(in.InitialInstructions)); err != nil {
		mod.Close(ctx)
		return nil, fmt.Errorf("engine: counter_set: %w", err)
	}

	fn := mod.ExportedFunction(in.Method)
	if fn == nil {
		mod.Close(ctx)
		return nil, fmt.Errorf("engine: no exported method %q", in.Method)
	}

	results, callErr := fn.Call(runCtx, in.Args...)

	var left int64
	if r2, err := getCounter.Call(runCtx); err == nil && len(r2) > 0 {
		left = int64(r2[0])
	}

	out := &Result{InstructionsLeft: left, instance: mod}
	if callErr != nil {
		out.Trap = classifyTrap(callErr)
		return out, nil
	}

	out.Results = results
	mem, err := readMemoryPages(mod)
	if err != nil {
		mod.Close(ctx)
		return nil, err
	}
	out.WasmMemory = mem
	return out, nil
}

// writeMemoryPages copies every page of pm into mod's linear memory,
// growing it first if the module declares less than pm needs.
func writeMemoryPages(mod api.Module, pm pagemap.PageMap) error {
	mem := mod.Memory()
	if mem == nil {
		if pm.Len() > 0 {
			return fmt.Errorf("engine: snapshot has pages but instance declares no memory")
		}
		return nil
	}
	for _, ip := range pm.Pages() {
		offset := ip.Index * pagemap.PageSize
		if offset+pagemap.PageSize > uint64(mem.Size()) {
			pagesNeeded := (offset + pagemap.PageSize + pagemap.WasmPageSize - 1) / pagemap.WasmPageSize
			growBy := pagesNeeded - uint64(mem.Size())/pagemap.WasmPageSize
			if _, ok := mem.Grow(uint32(growBy)); !ok {
				return fmt.Errorf("engine: failed to grow memory to fit snapshot page %d", ip.Index)
			}
		}
		if !mem.Write(uint32(offset), ip.Page.Contents()[:]) {
			return fmt.Errorf("engine: failed to write snapshot page %d", ip.Index)
		}
	}
	return nil
}

// readMemoryPages reads the instance's entire current linear memory back
// into a PageMap, page by page. The manager stores this full image as the
// new memory; it is not diffed against the input snapshot.
func readMemoryPages(mod api.Module) (pagemap.PageMap, error) {
	mem := mod.Memory()
	if mem == nil {
		return pagemap.Empty(), nil
	}
	size := mem.Size()
	numPages := uint64(size) / pagemap.PageSize
	data := make([]pagemap.IndexedPageData, 0, numPages)
	for i := uint64(0); i < numPages; i++ {
		buf, ok := mem.Read(uint32(i*pagemap.PageSize), pagemap.PageSize)
		if !ok {
			return pagemap.Empty(), fmt.Errorf("engine: failed to read back page %d", i)
		}
		var page pagemap.PageBytes
		copy(page[:], buf)
		data = append(data, pagemap.IndexedPageData{Index: i, Bytes: page})
	}
	updates := pagemap.NewHeapAllocator().Allocate(data)
	return pagemap.Empty().WithPages(updates), nil
}
