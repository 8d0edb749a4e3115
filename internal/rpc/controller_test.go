package rpc

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harry-0909/ic/internal/pagemap"
	"github.com/harry-0909/ic/internal/sandbox"
)

func TestControllerClientExecutionFinishedIsReceived(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	received := make(chan ExecutionFinishedRequest, 1)
	handler := func(kind string, req Frame) (string, interface{}, error) {
		var in ExecutionFinishedRequest
		if err := req.Decode(&in); err != nil {
			t.Errorf("decode: %v", err)
		}
		received <- in
		return kind, ExecutionFinishedReply{}, nil
	}

	serverPeer := NewPeer(NewTransport(serverConn), handler)
	go serverPeer.Serve()

	clientPeer := NewPeer(NewTransport(clientConn), nil)
	controller := NewControllerClient(clientPeer, pagemap.NewHeapAllocator(), nil)

	controller.ExecutionFinished(sandbox.ExecutionFinishedReport{
		ExecID:           42,
		Results:          []uint64{7},
		InstructionsLeft: 100,
		TotalDuration:    time.Millisecond,
		RunDuration:      time.Microsecond,
		State: &sandbox.StateModifications{
			WasmMemory:            sandbox.Memory{Pages: pagemap.Empty(), NumPages: 1},
			StableMemory:          sandbox.Memory{Pages: pagemap.Empty(), NumPages: 0},
			SubnetAvailableMemory: 1024,
		},
	})

	select {
	case got := <-received:
		require.NotNil(t, got.State)
		assert.EqualValues(t, 42, got.ExecID)
		assert.EqualValues(t, 100, got.InstructionsLeft)
		assert.EqualValues(t, 1024, got.State.SubnetAvailableMemory)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for execution_finished")
	}
}

func TestControllerClientExecutionFinishedInvokesOnSendFailureWhenNotifyFails(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	serverConn.Close()
	clientConn.Close() // writes on either end of a closed net.Pipe now fail

	clientPeer := NewPeer(NewTransport(clientConn), nil)

	var gotErr error
	onSendFailure := func(err error) { gotErr = err }
	controller := NewControllerClient(clientPeer, pagemap.NewHeapAllocator(), onSendFailure)

	controller.ExecutionFinished(sandbox.ExecutionFinishedReport{ExecID: 1})

	assert.Error(t, gotErr, "expected onSendFailure to be called with the Notify error")
}

func TestControllerClientCanisterSystemCallRoundTrips(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	handler := func(kind string, req Frame) (string, interface{}, error) {
		var in SyscallRequest
		req.Decode(&in)
		return kind, SyscallReply{Result: append([]byte("ack:"), in.Args...)}, nil
	}
	serverPeer := NewPeer(NewTransport(serverConn), handler)
	go serverPeer.Serve()

	clientPeer := NewPeer(NewTransport(clientConn), nil)
	go clientPeer.Serve()
	controller := NewControllerClient(clientPeer, pagemap.NewHeapAllocator(), nil)

	result, err := controller.CanisterSystemCall(1, "ic0_msg_reply", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "ack:hi", string(result))
}
