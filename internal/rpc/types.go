// Package rpc implements the length-framed bidirectional transport between a
// sandbox process and its controller (spec.md §6): sandbox-originated
// messages (execution_finished, canister_system_call, log_via_replica)
// and controller-originated requests against the Manager contract of
// spec.md §4.2.
package rpc

import (
	"time"

	"github.com/harry-0909/ic/internal/engine"
	"github.com/harry-0909/ic/internal/instrument"
	"github.com/harry-0909/ic/internal/pagemap"
	"github.com/harry-0909/ic/internal/sandbox"
)

// MemorySnapshot is the wire form of a sandbox.Memory: a page Descriptor
// (see internal/pagemap) plus the Wasm page count it was declared with.
type MemorySnapshot struct {
	Descriptor pagemap.Descriptor
	NumPages   uint32
}

// ToWire produces the wire form of mem's current pages using alloc to
// produce the descriptor (heap-backed, since the wire representation is
// always a flat byte copy regardless of how the sender stores it).
func ToWire(alloc pagemap.Allocator, mem sandbox.Memory) MemorySnapshot {
	pages := mem.Pages.Pages()
	delta := make(pagemap.Delta, 0, len(pages))
	for _, p := range pages {
		delta = append(delta, p.Index)
	}
	return MemorySnapshot{Descriptor: alloc.SerializeDelta(mem.Pages, delta), NumPages: mem.NumPages}
}

// FromWire rebuilds a sandbox.Memory from its wire form using alloc to own
// the resulting pages.
func FromWire(alloc pagemap.Allocator, snap MemorySnapshot) sandbox.Memory {
	return sandbox.Memory{Pages: pagemap.Deserialize(alloc, snap.Descriptor), NumPages: snap.NumPages}
}

// TrapWire is the wire form of an *engine.TrapError: the kind as a string
// (gob cannot carry the unexported wazero error types Err may wrap) plus its
// rendered message.
type TrapWire struct {
	Kind    string
	Message string
}

func trapToWire(t *engine.TrapError) *TrapWire {
	if t == nil {
		return nil
	}
	return &TrapWire{Kind: t.Kind.String(), Message: t.Error()}
}

// StateModificationsWire is the wire form of sandbox.StateModifications.
type StateModificationsWire struct {
	WasmMemory            MemorySnapshot
	StableMemory          MemorySnapshot
	SubnetAvailableMemory int64
}

// ExecutionFinishedRequest notifies the controller that exec_id has
// completed, mirroring ctlsvc.rs's ExecutionFinishedRequest /
// SandboxExecOutput.
type ExecutionFinishedRequest struct {
	ExecID           sandbox.ExecId
	Results          []uint64
	InstructionsLeft int64
	Trap             *TrapWire
	State            *StateModificationsWire
	TotalDuration    time.Duration
	RunDuration      time.Duration
}

// ExecutionFinishedReply is empty on the wire; its presence is the
// controller's acknowledgement of delivery.
type ExecutionFinishedReply struct{}

// SyscallRequest relays a host call made by canister code during exec_id to
// the controller, mirroring ctlsvc.rs's CanisterSystemCallRequest. Kind and
// Args describe the host call generically — concrete ic0.* semantics are out
// of scope here (see DESIGN.md's internal/sandbox scope decision).
type SyscallRequest struct {
	ExecID sandbox.ExecId
	Kind   string
	Args   []byte
}

// SyscallReply is the controller's answer to a SyscallRequest.
type SyscallReply struct {
	Result []byte
}

// LogRequest forwards a log line to be emitted via the replica's own logging
// pipeline, mirroring ctlsvc.rs's LogRequest/log_via_replica.
type LogRequest struct {
	ExecID  sandbox.ExecId
	Level   string
	Message string
}

// OpenWasmRequest is a controller→sandbox request against Manager.OpenWasm.
type OpenWasmRequest struct {
	WasmID sandbox.WasmId
	Src    []byte
}

type OpenWasmReply struct{}

// CloseWasmRequest is a controller→sandbox request against Manager.CloseWasm.
type CloseWasmRequest struct {
	WasmID sandbox.WasmId
}

type CloseWasmReply struct{}

// OpenMemoryRequest is a controller→sandbox request against
// Manager.OpenMemory.
type OpenMemoryRequest struct {
	MemoryID sandbox.MemoryId
	Snapshot MemorySnapshot
}

type OpenMemoryReply struct{}

// CloseMemoryRequest is a controller→sandbox request against
// Manager.CloseMemory.
type CloseMemoryRequest struct {
	MemoryID sandbox.MemoryId
}

type CloseMemoryReply struct{}

// StartExecutionRequest is a controller→sandbox request against
// Manager.StartExecution. It carries the same fields as sandbox.ExecInput
// plus the ids StartExecution itself takes.
type StartExecutionRequest struct {
	ExecID              sandbox.ExecId
	WasmID              sandbox.WasmId
	WasmMemoryID        sandbox.MemoryId
	StableMemoryID      sandbox.MemoryId
	Method              string
	Args                []uint64
	InitialInstructions int64
	MaxMemoryPages      uint32
	NextWasmMemoryID    sandbox.MemoryId
	NextStableMemoryID  sandbox.MemoryId
}

// StartExecutionReply acknowledges that the request was accepted; the real
// result arrives later as an ExecutionFinishedRequest.
type StartExecutionReply struct{}

// CreateExecutionStateRequest is a controller→sandbox request against
// Manager.CreateExecutionState.
type CreateExecutionStateRequest struct {
	WasmID           sandbox.WasmId
	Src              []byte
	InitialWasmPages MemorySnapshot
}

// CreateExecutionStateReply is the synchronous reply to
// CreateExecutionStateRequest.
type CreateExecutionStateReply struct {
	WasmMemory        MemorySnapshot
	ExportedGlobals   []int64
	ExportedFunctions []instrument.Method
}

// TerminateRequest asks the sandbox process to exit ("terminate", named in
// spec.md §6 but not otherwise specified).
type TerminateRequest struct{}

type TerminateReply struct{}
