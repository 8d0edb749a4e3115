package rpc

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportRoundTripsAFrame(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	client := NewTransport(clientConn)
	server := NewTransport(serverConn)

	type payload struct {
		Name  string
		Count int
	}

	done := make(chan error, 1)
	go func() { done <- client.Send("greeting", payload{Name: "canister", Count: 3}) }()

	frame, err := server.Recv()
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, "greeting", frame.Kind)

	var got payload
	require.NoError(t, frame.Decode(&got))
	assert.Equal(t, "canister", got.Name)
	assert.Equal(t, 3, got.Count)
}

func TestTransportRejectsOversizedFrame(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	server := NewTransport(serverConn)

	go func() {
		var lenPrefix [4]byte
		lenPrefix[0] = 0xFF // well beyond maxFrameSize
		clientConn.Write(lenPrefix[:])
	}()

	_, err := server.Recv()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}
