package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramedTransportWantBytesDeliversExactLength(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ft := New(server)
	received := make(chan []byte, 1)
	ft.OnHaveBytes(func(b []byte) { received <- b })
	ft.Start()

	ft.WantBytes(5)

	go func() {
		_, _ = client.Write([]byte("hello world"))
	}()

	select {
	case got := <-received:
		assert.Equal(t, []byte("hello"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for have_bytes")
	}
}

func TestFramedTransportBufferedRemainderServesNextWant(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ft := New(server)
	results := make(chan []byte, 2)
	ft.OnHaveBytes(func(b []byte) { results <- b })
	ft.Start()

	ft.WantBytes(2)

	go func() {
		_, _ = client.Write([]byte("abcd"))
	}()

	first := <-results
	assert.Equal(t, []byte("ab"), first)

	ft.WantBytes(2)
	second := <-results
	assert.Equal(t, []byte("cd"), second)
}

func TestFramedTransportOnBufferEmptied(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ft := New(server)
	emptied := make(chan struct{}, 1)
	ft.OnBufferEmptied(func() { emptied <- struct{}{} })
	ft.Start()

	go func() {
		buf := make([]byte, 4)
		_, _ = client.Read(buf)
	}()

	require.NoError(t, ft.Write([]byte("ping")))

	select {
	case <-emptied:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for buffer emptied")
	}
}

func TestFramedTransportOnDisconnected(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	ft := New(server)
	disconnected := make(chan struct{}, 1)
	ft.OnDisconnected(func() { disconnected <- struct{}{} })
	ft.Start()
	ft.WantBytes(1)

	client.Close()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect")
	}
}

func TestFramedTransportWriteAfterCloseFails(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	ft := New(server)
	ft.Start()
	require.NoError(t, ft.Close())

	err := ft.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}
