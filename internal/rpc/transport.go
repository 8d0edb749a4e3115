package rpc

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrFrameTooLarge is returned when a peer announces a frame length beyond
// maxFrameSize. It guards against a corrupt or hostile length prefix driving
// an unbounded allocation.
var ErrFrameTooLarge = errors.New("rpc: frame exceeds maximum size")

// maxFrameSize bounds a single frame's payload. Generous enough for a full
// canister Wasm module or memory snapshot (spec.md's largest payloads),
// small enough to reject a garbled length prefix immediately.
const maxFrameSize = 256 << 20

// Frame is the length-framed record spec.md §6 leaves unspecified on the
// wire: Kind names the request/reply/notification this frame carries,
// Payload is its gob-encoded body. ID correlates a reply with the request
// that produced it (0 for fire-and-forget notifications); IsReply
// distinguishes a reply frame from a request/notification sharing the same
// ID space. Framing (the length prefix) and encoding (gob) are both
// concrete choices made here, not mandated by the spec.
type Frame struct {
	ID      uint64
	IsReply bool
	Kind    string
	Payload []byte
}

// Decode gob-decodes f's payload into v.
func (f Frame) Decode(v interface{}) error {
	return gob.NewDecoder(&sliceReader{b: f.Payload}).Decode(v)
}

type sliceReader struct{ b []byte }

func (r *sliceReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}

// EncodeFrame gob-encodes v and wraps it as a Frame of the given kind.
func EncodeFrame(kind string, v interface{}) (Frame, error) {
	var buf writeBuffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return Frame{}, fmt.Errorf("rpc: encode %s: %w", kind, err)
	}
	return Frame{Kind: kind, Payload: buf.b}, nil
}

type writeBuffer struct{ b []byte }

func (w *writeBuffer) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

// Transport is a length-framed, bidirectional byte stream shared by exactly
// one reader goroutine and any number of concurrent writer goroutines (Send
// serializes its own writes with a mutex; reads are expected to be driven by
// a single loop — see Peer.Serve).
type Transport struct {
	r  *bufio.Reader
	w  io.Writer
	mu sync.Mutex // guards writes; frames must not interleave
}

// NewTransport wraps rw as a Transport. rw is typically a net.Conn.
func NewTransport(rw io.ReadWriter) *Transport {
	return &Transport{r: bufio.NewReader(rw), w: rw}
}

// Send gob-encodes v, tags it with kind, and writes it as one length-framed
// notification (id 0, not a reply). Safe for concurrent use.
func (t *Transport) Send(kind string, v interface{}) error {
	frame, err := EncodeFrame(kind, v)
	if err != nil {
		return err
	}
	return t.sendFrame(frame)
}

// sendFrame writes a fully-built Frame (request, reply, or notification) as
// one length-framed record. Safe for concurrent use.
func (t *Transport) sendFrame(frame Frame) error {
	var body writeBuffer
	if err := gob.NewEncoder(&body).Encode(frame); err != nil {
		return fmt.Errorf("rpc: encode frame: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body.b)))
	if _, err := t.w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("rpc: write length prefix: %w", err)
	}
	if _, err := t.w.Write(body.b); err != nil {
		return fmt.Errorf("rpc: write frame body: %w", err)
	}
	return nil
}

// Recv reads the next length-framed Frame off the stream. It is not safe to
// call Recv concurrently from multiple goroutines on the same Transport.
func (t *Transport) Recv() (Frame, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(t.r, lenPrefix[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxFrameSize {
		return Frame{}, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(t.r, body); err != nil {
		return Frame{}, fmt.Errorf("rpc: read frame body: %w", err)
	}
	var frame Frame
	if err := gob.NewDecoder(&sliceReader{b: body}).Decode(&frame); err != nil {
		return Frame{}, fmt.Errorf("rpc: decode frame: %w", err)
	}
	return frame, nil
}
