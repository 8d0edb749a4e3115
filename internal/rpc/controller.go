package rpc

import (
	"github.com/harry-0909/ic/internal/pagemap"
	"github.com/harry-0909/ic/internal/sandbox"
)

const (
	kindExecutionFinished = "execution_finished"
	kindCanisterSyscall   = "canister_system_call"
	kindLogViaReplica     = "log_via_replica"
)

// ControllerClient is the sandbox-side handle onto the controller: it
// implements sandbox.Controller by forwarding execution_finished
// notifications over the wire, and offers the two other sandbox→controller
// calls named in spec.md §6 (canister_system_call, log_via_replica).
type ControllerClient struct {
	peer  *Peer
	alloc pagemap.Allocator

	// onSendFailure is invoked, with the Notify error, when reporting
	// execution_finished to the controller fails to send. spec.md §4.2's
	// failure semantics treat this as unrecoverable at the sandbox layer;
	// onSendFailure is how that unrecoverability reaches the process (it is
	// expected to terminate the process, not retry).
	onSendFailure func(error)
}

// NewControllerClient builds a ControllerClient over peer. alloc serializes
// the memories ExecutionFinished ships to the controller (via ToWire).
// onSendFailure is called
// when ExecutionFinished's Notify fails to send; it may be nil only in
// tests that do not exercise that path.
func NewControllerClient(peer *Peer, alloc pagemap.Allocator, onSendFailure func(error)) *ControllerClient {
	return &ControllerClient{peer: peer, alloc: alloc, onSendFailure: onSendFailure}
}

// ExecutionFinished implements sandbox.Controller. It is fire-and-forget:
// spec.md §4.2 step e/f describe a one-way notification, not a call the
// manager waits on.
func (c *ControllerClient) ExecutionFinished(report sandbox.ExecutionFinishedReport) {
	req := ExecutionFinishedRequest{
		ExecID:           report.ExecID,
		Results:          report.Results,
		InstructionsLeft: report.InstructionsLeft,
		Trap:             trapToWire(report.Trap),
		TotalDuration:    report.TotalDuration,
		RunDuration:      report.RunDuration,
	}
	if report.State != nil {
		req.State = &StateModificationsWire{
			WasmMemory:            ToWire(c.alloc, report.State.WasmMemory),
			StableMemory:          ToWire(c.alloc, report.State.StableMemory),
			SubnetAvailableMemory: report.State.SubnetAvailableMemory,
		}
	}
	// Per spec.md §4.2's failure semantics, a send failure here is
	// unrecoverable at the sandbox layer (the controller is assumed dead):
	// hand the error to onSendFailure, which terminates the process, rather
	// than retrying from this call site.
	if err := c.peer.Notify(kindExecutionFinished, req); err != nil && c.onSendFailure != nil {
		c.onSendFailure(err)
	}
}

var _ sandbox.Controller = (*ControllerClient)(nil)

// CanisterSystemCall relays a host call made during execID to the
// controller and blocks for its reply (spec.md §6's synchronous host-call
// relay). kind/args/the returned bytes are opaque here; concrete ic0.*
// semantics are out of scope (see DESIGN.md).
func (c *ControllerClient) CanisterSystemCall(execID sandbox.ExecId, kind string, args []byte) ([]byte, error) {
	var reply SyscallReply
	err := c.peer.Call(kindCanisterSyscall, SyscallRequest{ExecID: execID, Kind: kind, Args: args}, &reply)
	if err != nil {
		return nil, err
	}
	return reply.Result, nil
}

// LogViaReplica forwards a log line fire-and-forget.
func (c *ControllerClient) LogViaReplica(execID sandbox.ExecId, level, message string) error {
	return c.peer.Notify(kindLogViaReplica, LogRequest{ExecID: execID, Level: level, Message: message})
}
