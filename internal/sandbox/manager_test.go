package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harry-0909/ic/internal/pagemap"
)

type fakeController struct {
	reports []ExecutionFinishedReport
}

func (f *fakeController) ExecutionFinished(r ExecutionFinishedReport) {
	f.reports = append(f.reports, r)
}

func TestManagerOpenCloseMemory(t *testing.T) {
	m := NewManager(Config{Controller: &fakeController{}})

	require.NoError(t, m.OpenMemory(1, pagemap.Empty(), 0))
	assert.Error(t, m.OpenMemory(1, pagemap.Empty(), 0), "expected id-conflict reopening the same memory id")
	require.NoError(t, m.CloseMemory(1))
	assert.Error(t, m.CloseMemory(1), "expected id-missing closing an already-closed memory id")
}

func TestManagerStartExecutionFailsFastOnUnknownIds(t *testing.T) {
	m := NewManager(Config{Controller: &fakeController{}})

	err := m.StartExecution(context.Background(), 42, WasmId(1), MemoryId(10), MemoryId(11), ExecInput{})
	require.Error(t, err)
	ierr, ok := err.(*Error)
	require.True(t, ok, "expected *Error, got %T", err)
	assert.Equal(t, KindIdMissing, ierr.Kind)
}

func TestManagerCreateExecutionStateRequiresOpenWasm(t *testing.T) {
	m := NewManager(Config{Controller: &fakeController{}})

	_, err := m.CreateExecutionState(context.Background(), WasmId(99), nil, pagemap.Empty())
	require.Error(t, err)
	ierr, ok := err.(*Error)
	require.True(t, ok, "expected *Error, got %T", err)
	assert.Equal(t, KindIdMissing, ierr.Kind)
}

func TestManagerCloseWasmUnknownId(t *testing.T) {
	m := NewManager(Config{Controller: &fakeController{}})

	err := m.CloseWasm(context.Background(), WasmId(7))
	assert.Error(t, err, "expected id-missing closing a wasm id that was never opened")
}
