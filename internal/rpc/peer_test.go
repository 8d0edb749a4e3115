package rpc

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoRequest struct{ Text string }
type echoReply struct{ Text string }

func TestPeerCallRoundTrips(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	handler := func(kind string, req Frame) (string, interface{}, error) {
		if kind != "echo" {
			return "", nil, errors.New("unexpected kind")
		}
		var in echoRequest
		if err := req.Decode(&in); err != nil {
			return "", nil, err
		}
		return "echo", echoReply{Text: in.Text + "!"}, nil
	}

	server := NewPeer(NewTransport(serverConn), handler)
	client := NewPeer(NewTransport(clientConn), nil)

	go server.Serve()
	go client.Serve()
	defer func() { clientConn.Close() }()

	var reply echoReply
	require.NoError(t, client.Call("echo", echoRequest{Text: "hi"}, &reply))
	assert.Equal(t, "hi!", reply.Text)
}

func TestPeerCallSurfacesHandlerError(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	handler := func(kind string, req Frame) (string, interface{}, error) {
		return "", nil, errors.New("boom")
	}

	server := NewPeer(NewTransport(serverConn), handler)
	client := NewPeer(NewTransport(clientConn), nil)
	go server.Serve()
	go client.Serve()

	err := client.Call("echo", echoRequest{Text: "hi"}, &echoReply{})
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
}

func TestPeerNotifyDoesNotBlockOnReply(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	received := make(chan echoRequest, 1)
	handler := func(kind string, req Frame) (string, interface{}, error) {
		var in echoRequest
		req.Decode(&in)
		received <- in
		return kind, echoReply{}, nil
	}

	server := NewPeer(NewTransport(serverConn), handler)
	client := NewPeer(NewTransport(clientConn), nil)
	go server.Serve()

	require.NoError(t, client.Notify("echo", echoRequest{Text: "fire-and-forget"}))

	got := <-received
	assert.Equal(t, "fire-and-forget", got.Text)
}

func TestPeerCallFailsAfterClose(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	client := NewPeer(NewTransport(clientConn), nil)
	serverConn.Close()

	err := client.Call("echo", echoRequest{Text: "hi"}, &echoReply{})
	assert.Error(t, err)
}
