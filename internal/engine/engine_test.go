package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harry-0909/ic/internal/instrument"
	"github.com/harry-0909/ic/internal/pagemap"
)

// trivialReturnModule is a hand-assembled, pre-instrumentation Wasm binary:
// one type ()->(i32), one function exported as "run" whose body is just
// `i32.const 7; end`. Used by spec.md §8 end-to-end scenario 1.
var trivialReturnModule = []byte{
	0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00, // magic, version
	0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7F, // type section: () -> (i32)
	0x03, 0x02, 0x01, 0x00, // function section: func 0 -> type 0
	0x07, 0x07, 0x01, 0x03, 'r', 'u', 'n', 0x00, 0x00, // export "run" func 0
	0x0A, 0x06, 0x01, 0x04, 0x00, 0x41, 0x07, 0x0B, // code: i32.const 7; end
}

// infiniteLoopModule is a hand-assembled, pre-instrumentation Wasm binary:
// one type ()->(), one function exported as "run" that loops forever,
// decrementing an i32 local each iteration and branching back while it is
// non-zero. The local starts at 0, so the first decrement wraps it to
// 0xFFFFFFFF and the loop never exits on its own — only metering can stop
// it. Used by spec.md §8 end-to-end scenario 2.
var infiniteLoopModule = []byte{
	0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00, // magic, version
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00, // type section: () -> ()
	0x03, 0x02, 0x01, 0x00, // function section: func 0 -> type 0
	0x07, 0x07, 0x01, 0x03, 'r', 'u', 'n', 0x00, 0x00, // export "run" func 0
	0x0A, 0x12, 0x01, 0x10, 0x01, 0x01, 0x7F, // code, 1 local (i32)
	0x03, 0x40, // loop (void)
	0x20, 0x00, // local.get 0
	0x41, 0x01, // i32.const 1
	0x6B,       // i32.sub
	0x22, 0x00, // local.tee 0
	0x0D, 0x00, // br_if 0
	0x0B, // end (loop)
	0x0B, // end (function)
}

// TestRuntimeRunMetersTrivialModule compiles trivialReturnModule through
// instrument.Instrument (via Compile) and runs it for real against wazero,
// checking the exact counter arithmetic spec.md §8 scenario 1 describes:
// seeding the counter at 100 and calling a function whose body costs
// i32.const (1) + end (0) leaves it at 99.
func TestRuntimeRunMetersTrivialModule(t *testing.T) {
	ctx := context.Background()
	rt, err := NewRuntime(ctx, Config{})
	require.NoError(t, err)
	defer rt.Close(ctx)

	cm, err := rt.Compile(ctx, trivialReturnModule, instrument.NewCostTable())
	require.NoError(t, err)
	defer cm.Close(ctx)

	result, err := rt.Run(ctx, cm, Input{
		Method:              "run",
		InitialInstructions: 100,
		WasmMemory:          pagemap.Empty(),
	})
	require.NoError(t, err)
	defer result.Close(ctx)

	require.Nil(t, result.Trap, "expected a successful call, not a trap")
	require.Len(t, result.Results, 1)
	assert.EqualValues(t, 7, result.Results[0])
	assert.EqualValues(t, 99, result.InstructionsLeft, "expected 100 - (i32.const cost 1 + end cost 0) = 99")
}

// TestRuntimeRunTrapsOutOfInstructionsAtPredictedIteration runs
// infiniteLoopModule with a small instruction budget and checks it traps
// out_of_instructions at the exact iteration spec.md §8 scenario 2
// predicts. Each loop iteration costs 5 (local.get + i32.const + i32.sub +
// local.tee + br_if, each costing 1 under the default cost table); with an
// initial budget of 10 the loop completes ⌊10/5⌋ = 2 iterations and traps
// attempting the 3rd, leaving the counter at 10 - 3*5 = -5.
func TestRuntimeRunTrapsOutOfInstructionsAtPredictedIteration(t *testing.T) {
	ctx := context.Background()
	rt, err := NewRuntime(ctx, Config{})
	require.NoError(t, err)
	defer rt.Close(ctx)

	cm, err := rt.Compile(ctx, infiniteLoopModule, instrument.NewCostTable())
	require.NoError(t, err)
	defer cm.Close(ctx)

	result, err := rt.Run(ctx, cm, Input{
		Method:              "run",
		InitialInstructions: 10,
		WasmMemory:          pagemap.Empty(),
	})
	require.NoError(t, err)
	defer result.Close(ctx)

	require.NotNil(t, result.Trap, "expected the loop to trap out_of_instructions")
	assert.Equal(t, TrapOutOfInstructions, result.Trap.Kind)
	assert.EqualValues(t, -5, result.InstructionsLeft)
}
