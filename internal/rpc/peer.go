package rpc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrPeerClosed is returned by Call and by any pending call still
// outstanding when the peer's read loop exits.
var ErrPeerClosed = errors.New("rpc: peer closed")

// Handler answers an incoming request frame, returning the kind and value
// to reply with. A nil error with a nil reply value sends an empty reply of
// the given kind.
type Handler func(kind string, req Frame) (replyKind string, reply interface{}, err error)

// Peer multiplexes request/reply calls and fire-and-forget notifications
// over a single Transport in both directions at once: the same connection
// carries the sandbox's outbound notifications/requests to the controller
// (execution_finished, canister_system_call, log_via_replica) and the
// controller's inbound requests against the Manager contract (spec.md §6).
// Exactly one goroutine must run Serve; Call and Notify are safe to call
// from any number of other goroutines concurrently.
type Peer struct {
	t       *Transport
	nextID  atomic.Uint64
	handler Handler

	mu      sync.Mutex
	pending map[uint64]chan Frame
	closed  bool
}

// NewPeer builds a Peer over t. handler answers requests from the other
// side; it may be nil if this peer only ever initiates calls (never serves
// any).
func NewPeer(t *Transport, handler Handler) *Peer {
	return &Peer{t: t, handler: handler, pending: make(map[uint64]chan Frame)}
}

// Notify sends a fire-and-forget frame: no reply is expected or awaited
// (execution_finished and log_via_replica are sent this way).
func (p *Peer) Notify(kind string, v interface{}) error {
	frame, err := EncodeFrame(kind, v)
	if err != nil {
		return err
	}
	return p.t.sendFrame(frame)
}

// Call sends a request and blocks until the matching reply arrives (or the
// peer is closed). reply is decoded into replyOut, which must be a pointer.
func (p *Peer) Call(kind string, v interface{}, replyOut interface{}) error {
	frame, err := EncodeFrame(kind, v)
	if err != nil {
		return err
	}
	id := p.nextID.Add(1)
	frame.ID = id

	ch := make(chan Frame, 1)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPeerClosed
	}
	p.pending[id] = ch
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	if err := p.t.sendFrame(frame); err != nil {
		return err
	}

	reply, ok := <-ch
	if !ok {
		return ErrPeerClosed
	}
	if reply.Kind == errorReplyKind {
		return RemoteError(reply.Kind, reply)
	}
	if replyOut == nil {
		return nil
	}
	return reply.Decode(replyOut)
}

// Serve reads frames off the transport until it errors, dispatching each one
// either to a pending Call (replies) or to the handler (requests). It
// returns the error that ended the loop (typically io.EOF or a closed
// connection) after unblocking every still-pending Call with ErrPeerClosed.
func (p *Peer) Serve() error {
	for {
		frame, err := p.t.Recv()
		if err != nil {
			p.shutdown()
			return err
		}

		if frame.IsReply {
			p.mu.Lock()
			ch, ok := p.pending[frame.ID]
			p.mu.Unlock()
			if ok {
				ch <- frame
			}
			continue
		}

		go p.dispatch(frame)
	}
}

func (p *Peer) dispatch(req Frame) {
	if p.handler == nil {
		return
	}
	replyKind, reply, err := p.handler(req.Kind, req)
	if err != nil {
		reply = errReply{Message: err.Error()}
		replyKind = errorReplyKind
	}
	if reply == nil {
		reply = struct{}{}
	}
	frame, encErr := EncodeFrame(replyKind, reply)
	if encErr != nil {
		return
	}
	frame.ID = req.ID
	frame.IsReply = true
	_ = p.t.sendFrame(frame)
}

func (p *Peer) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, ch := range p.pending {
		close(ch)
		delete(p.pending, id)
	}
}

// errorReplyKind tags a reply frame carrying errReply instead of the
// handler's usual reply type; Call's caller sees this via RemoteError.
const errorReplyKind = "error"

type errReply struct{ Message string }

// RemoteError decodes a reply frame previously obtained via Peer.Call when
// its Kind is "error", wrapping the controller/sandbox-reported message.
func RemoteError(kind string, frame Frame) error {
	if kind != errorReplyKind {
		return nil
	}
	var e errReply
	if err := frame.Decode(&e); err != nil {
		return fmt.Errorf("rpc: decode remote error: %w", err)
	}
	return errors.New(e.Message)
}
