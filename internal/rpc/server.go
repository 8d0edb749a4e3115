package rpc

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/harry-0909/ic/internal/pagemap"
	"github.com/harry-0909/ic/internal/sandbox"
)

const (
	kindOpenWasm             = "open_wasm"
	kindCloseWasm            = "close_wasm"
	kindOpenMemory           = "open_memory"
	kindCloseMemory          = "close_memory"
	kindStartExecution       = "start_execution"
	kindCreateExecutionState = "create_execution_state"
	kindTerminate            = "terminate"
)

// Server dispatches controller→sandbox requests (spec.md §4.2's public
// contract, plus "terminate") onto a sandbox.Manager. It is the Handler a
// Peer.Serve loop calls for every non-reply frame it reads.
type Server struct {
	manager         *sandbox.Manager
	alloc           pagemap.Allocator
	onExit          func()
	subnetAvailable *atomic.Int64
}

// NewServer builds a Server over manager. alloc owns the pages materialized
// when deserializing an incoming memory snapshot (open_memory,
// create_execution_state). onExit is invoked when a "terminate" request
// arrives; it may be nil, in which case terminate is a no-op reply.
// subnetAvailable is the process-wide "subnet available memory" counter
// (spec.md §5) every dispatched execution shares by reference.
func NewServer(manager *sandbox.Manager, alloc pagemap.Allocator, subnetAvailable *atomic.Int64, onExit func()) *Server {
	return &Server{manager: manager, alloc: alloc, onExit: onExit, subnetAvailable: subnetAvailable}
}

// Handle implements the rpc.Handler signature expected by Peer.Serve.
func (s *Server) Handle(kind string, req Frame) (string, interface{}, error) {
	ctx := context.Background()
	switch kind {
	case kindOpenWasm:
		return s.handleOpenWasm(ctx, req)
	case kindCloseWasm:
		return s.handleCloseWasm(ctx, req)
	case kindOpenMemory:
		return s.handleOpenMemory(req)
	case kindCloseMemory:
		return s.handleCloseMemory(req)
	case kindStartExecution:
		return s.handleStartExecution(ctx, req)
	case kindCreateExecutionState:
		return s.handleCreateExecutionState(ctx, req)
	case kindTerminate:
		return s.handleTerminate()
	default:
		return "", nil, fmt.Errorf("rpc: unknown request kind %q", kind)
	}
}

func (s *Server) handleOpenWasm(ctx context.Context, req Frame) (string, interface{}, error) {
	var in OpenWasmRequest
	if err := req.Decode(&in); err != nil {
		return "", nil, err
	}
	if err := s.manager.OpenWasm(ctx, in.WasmID, in.Src); err != nil {
		return "", nil, err
	}
	return kindOpenWasm, OpenWasmReply{}, nil
}

func (s *Server) handleCloseWasm(ctx context.Context, req Frame) (string, interface{}, error) {
	var in CloseWasmRequest
	if err := req.Decode(&in); err != nil {
		return "", nil, err
	}
	if err := s.manager.CloseWasm(ctx, in.WasmID); err != nil {
		return "", nil, err
	}
	return kindCloseWasm, CloseWasmReply{}, nil
}

func (s *Server) handleOpenMemory(req Frame) (string, interface{}, error) {
	var in OpenMemoryRequest
	if err := req.Decode(&in); err != nil {
		return "", nil, err
	}
	mem := FromWire(s.alloc, in.Snapshot)
	if err := s.manager.OpenMemory(in.MemoryID, mem.Pages, mem.NumPages); err != nil {
		return "", nil, err
	}
	return kindOpenMemory, OpenMemoryReply{}, nil
}

func (s *Server) handleCloseMemory(req Frame) (string, interface{}, error) {
	var in CloseMemoryRequest
	if err := req.Decode(&in); err != nil {
		return "", nil, err
	}
	if err := s.manager.CloseMemory(in.MemoryID); err != nil {
		return "", nil, err
	}
	return kindCloseMemory, CloseMemoryReply{}, nil
}

func (s *Server) handleStartExecution(ctx context.Context, req Frame) (string, interface{}, error) {
	var in StartExecutionRequest
	if err := req.Decode(&in); err != nil {
		return "", nil, err
	}
	input := sandbox.ExecInput{
		Method:              in.Method,
		Args:                in.Args,
		InitialInstructions: in.InitialInstructions,
		MaxMemoryPages:      in.MaxMemoryPages,
		SubnetAvailable:     s.subnetAvailable,
		NextWasmMemoryID:    in.NextWasmMemoryID,
		NextStableMemoryID:  in.NextStableMemoryID,
	}
	err := s.manager.StartExecution(ctx, in.ExecID, in.WasmID, in.WasmMemoryID, in.StableMemoryID, input)
	if err != nil {
		return "", nil, err
	}
	return kindStartExecution, StartExecutionReply{}, nil
}

func (s *Server) handleCreateExecutionState(ctx context.Context, req Frame) (string, interface{}, error) {
	var in CreateExecutionStateRequest
	if err := req.Decode(&in); err != nil {
		return "", nil, err
	}
	initial := FromWire(s.alloc, in.InitialWasmPages)
	out, err := s.manager.CreateExecutionState(ctx, in.WasmID, in.Src, initial.Pages)
	if err != nil {
		return "", nil, err
	}
	reply := CreateExecutionStateReply{
		WasmMemory:        ToWire(s.alloc, out.WasmMemory),
		ExportedGlobals:   out.ExportedGlobals,
		ExportedFunctions: out.ExportedFunctions,
	}
	return kindCreateExecutionState, reply, nil
}

func (s *Server) handleTerminate() (string, interface{}, error) {
	if s.onExit != nil {
		s.onExit()
	}
	return kindTerminate, TerminateReply{}, nil
}
