package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyTrapRecognizesOutOfInstructions(t *testing.T) {
	err := classifyTrap(ErrOutOfInstructions)
	assert.Equal(t, TrapOutOfInstructions, err.Kind)
	assert.True(t, errors.Is(err, ErrOutOfInstructions), "expected classifyTrap's error to unwrap to the sentinel")
}

func TestClassifyTrapRecognizesContextDeadline(t *testing.T) {
	err := classifyTrap(context.DeadlineExceeded)
	assert.Equal(t, TrapTimeout, err.Kind)
}

func TestClassifyTrapFallsBackToGeneric(t *testing.T) {
	err := classifyTrap(errors.New("division by zero"))
	assert.Equal(t, TrapGeneric, err.Kind)
}

func TestHostUpdateAvailableMemoryAllowsWithNoLimits(t *testing.T) {
	ctx := context.Background()
	got := hostUpdateAvailableMemory(ctx, nil, 1, 4)
	assert.EqualValues(t, 1, got, "expected accept with no limits configured")
}

func TestHostUpdateAvailableMemoryRejectsOverMaxPages(t *testing.T) {
	limits := &Limits{MaxMemoryPages: 10}
	ctx := context.WithValue(context.Background(), execLimitsKey{}, limits)
	assert.EqualValues(t, 0, hostUpdateAvailableMemory(ctx, nil, 1, 11), "expected reject when growResult exceeds MaxMemoryPages")
	assert.EqualValues(t, 1, hostUpdateAvailableMemory(ctx, nil, 1, 10), "expected accept exactly at MaxMemoryPages")
}

func TestHostUpdateAvailableMemoryIgnoresFailedGrow(t *testing.T) {
	limits := &Limits{MaxMemoryPages: 1}
	ctx := context.WithValue(context.Background(), execLimitsKey{}, limits)
	got := hostUpdateAvailableMemory(ctx, nil, 5, 0xFFFFFFFF)
	assert.EqualValues(t, 1, got, "expected accept when the engine's own memory.grow already failed")
}

func TestHostUpdateAvailableMemoryChargesAndRefundsSubnetBudget(t *testing.T) {
	var budget atomic.Int64
	budget.Store(2 * 65536) // exactly two Wasm pages available

	limits := &Limits{SubnetAvailable: &budget}
	ctx := context.WithValue(context.Background(), execLimitsKey{}, limits)

	assert.EqualValues(t, 1, hostUpdateAvailableMemory(ctx, nil, 1, 1), "expected accept within budget")
	assert.EqualValues(t, 65536, budget.Load(), "expected budget charged by one page")

	// This grow of 2 pages would overdraw the remaining single page of
	// budget; it must be rejected and the charge refunded.
	assert.EqualValues(t, 0, hostUpdateAvailableMemory(ctx, nil, 2, 3), "expected reject when growArg overdraws the budget")
	assert.EqualValues(t, 65536, budget.Load(), "expected budget refunded after rejection")
}
