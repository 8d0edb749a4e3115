package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harry-0909/ic/internal/pagemap"
	"github.com/harry-0909/ic/internal/sandbox"
)

type recordingController struct {
	reports []sandbox.ExecutionFinishedReport
}

func (c *recordingController) ExecutionFinished(r sandbox.ExecutionFinishedReport) {
	c.reports = append(c.reports, r)
}

func encodeReq(t *testing.T, kind string, v interface{}) Frame {
	t.Helper()
	f, err := EncodeFrame(kind, v)
	require.NoError(t, err, "encode %s", kind)
	return f
}

func TestServerOpenCloseMemoryRoundTrips(t *testing.T) {
	manager := sandbox.NewManager(sandbox.Config{Controller: &recordingController{}})
	server := NewServer(manager, pagemap.NewHeapAllocator(), nil, nil)

	snap := ToWire(pagemap.NewHeapAllocator(), sandbox.Memory{Pages: pagemap.Empty(), NumPages: 1})

	kind, reply, err := server.Handle(kindOpenMemory, encodeReq(t, kindOpenMemory, OpenMemoryRequest{MemoryID: 1, Snapshot: snap}))
	require.NoError(t, err)
	assert.Equal(t, kindOpenMemory, kind)
	assert.IsType(t, OpenMemoryReply{}, reply)

	_, _, err = server.Handle(kindOpenMemory, encodeReq(t, kindOpenMemory, OpenMemoryRequest{MemoryID: 1, Snapshot: snap}))
	assert.Error(t, err, "expected id-conflict reopening the same memory id")

	_, _, err = server.Handle(kindCloseMemory, encodeReq(t, kindCloseMemory, CloseMemoryRequest{MemoryID: 1}))
	require.NoError(t, err)
	_, _, err = server.Handle(kindCloseMemory, encodeReq(t, kindCloseMemory, CloseMemoryRequest{MemoryID: 1}))
	assert.Error(t, err, "expected id-missing closing an already-closed memory id")
}

func TestServerStartExecutionFailsFastOnUnknownWasm(t *testing.T) {
	manager := sandbox.NewManager(sandbox.Config{Controller: &recordingController{}})
	server := NewServer(manager, pagemap.NewHeapAllocator(), nil, nil)

	req := StartExecutionRequest{ExecID: 1, WasmID: 99, WasmMemoryID: 1, StableMemoryID: 2}
	_, _, err := server.Handle(kindStartExecution, encodeReq(t, kindStartExecution, req))
	assert.Error(t, err, "expected id-missing for an unopened wasm id")
}

func TestServerCreateExecutionStateRequiresOpenWasm(t *testing.T) {
	manager := sandbox.NewManager(sandbox.Config{Controller: &recordingController{}})
	server := NewServer(manager, pagemap.NewHeapAllocator(), nil, nil)

	req := CreateExecutionStateRequest{WasmID: 7}
	_, _, err := server.Handle(kindCreateExecutionState, encodeReq(t, kindCreateExecutionState, req))
	assert.Error(t, err, "expected id-missing for a wasm id that was never opened")
}

func TestServerTerminateInvokesOnExit(t *testing.T) {
	manager := sandbox.NewManager(sandbox.Config{Controller: &recordingController{}})
	called := false
	server := NewServer(manager, pagemap.NewHeapAllocator(), nil, func() { called = true })

	_, _, err := server.Handle(kindTerminate, Frame{Kind: kindTerminate})
	require.NoError(t, err)
	assert.True(t, called, "expected onExit to be invoked")
}

func TestServerUnknownKindIsAnError(t *testing.T) {
	manager := sandbox.NewManager(sandbox.Config{Controller: &recordingController{}})
	server := NewServer(manager, pagemap.NewHeapAllocator(), nil, nil)

	_, _, err := server.Handle("not_a_real_kind", Frame{})
	assert.Error(t, err, "expected an error for an unrecognized request kind")
}
