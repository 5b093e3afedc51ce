package session

import (
	"net"
	"testing"
	"time"

	"github.com/opd-ai/dschat/crypto"
	"github.com/opd-ai/dschat/limits"
	"github.com/opd-ai/dschat/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStartedTransport(conn net.Conn) *transport.FramedTransport {
	tr := transport.New(conn)
	tr.Start()
	return tr
}

func TestHandshakeRoundTripAndControlMessageExchange(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientTransport := newStartedTransport(clientConn)
	serverTransport := newStartedTransport(serverConn)

	clientIdentity, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)
	serverIdentity, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	helloCh := make(chan []byte, 1)
	serverTransport.OnHaveBytes(func(b []byte) { helloCh <- b })
	serverTransport.WantBytes(limits.HelloSize)

	client, err := NewInitiator("conn-1", "identity-client", clientTransport, clientIdentity.Public, clientIdentity.Private)
	require.NoError(t, err)

	var helloBytes []byte
	select {
	case helloBytes = <-helloCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for HELLO")
	}
	require.Len(t, helloBytes, limits.HelloSize)

	ollehCh := make(chan []byte, 1)
	clientTransport.OnHaveBytes(func(b []byte) { ollehCh <- b })
	clientTransport.WantBytes(limits.OllehSize)

	lookup := func(pubKey [32]byte) (string, bool) { return "contact-server-side", true }
	server, err := NewResponder("conn-1", "identity-server", serverTransport, helloBytes, serverIdentity.Public, serverIdentity.Private, lookup)
	require.NoError(t, err)

	var ollehBytes []byte
	select {
	case ollehBytes = <-ollehCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OLLEH")
	}
	require.Len(t, ollehBytes, limits.OllehSize)

	require.NoError(t, client.CompleteHandshakeAsInitiator(ollehBytes, serverIdentity.Public))

	received := make(chan AckControl, 1)
	server.OnControlFrame(func(requestID uint64, payload []byte) {
		d := &Dispatcher{OnAck: func(_ uint64, msg AckControl) { received <- msg }}
		require.NoError(t, d.Dispatch(requestID, payload))
	})

	ackPayload, err := EncodeAck(AckControl{What: "Message", Status: "Ok", Data: B64([]byte("mid-1"))})
	require.NoError(t, err)

	reqID, err := client.SendControl(ackPayload)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reqID)

	select {
	case ack := <-received:
		assert.Equal(t, "Ok", ack.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for control message delivery")
	}
}

func TestHandshakeWithUnknownInitiatorStillCompletesForAddMe(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientTransport := newStartedTransport(clientConn)
	serverTransport := newStartedTransport(serverConn)

	clientIdentity, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)
	serverIdentity, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	helloCh := make(chan []byte, 1)
	serverTransport.OnHaveBytes(func(b []byte) { helloCh <- b })
	serverTransport.WantBytes(limits.HelloSize)

	client, err := NewInitiator("conn-2", "identity-client", clientTransport, clientIdentity.Public, clientIdentity.Private)
	require.NoError(t, err)

	helloBytes := <-helloCh

	ollehCh := make(chan []byte, 1)
	clientTransport.OnHaveBytes(func(b []byte) { ollehCh <- b })
	clientTransport.WantBytes(limits.OllehSize)

	lookup := func(pubKey [32]byte) (string, bool) { return "", false }
	server, err := NewResponder("conn-2", "identity-server", serverTransport, helloBytes, serverIdentity.Public, serverIdentity.Private, lookup)
	require.NotNil(t, server)

	var unknownErr *ErrUnknownContact
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, clientIdentity.Public, unknownErr.InitiatorPubKey)
	assert.Empty(t, server.ContactUUID)

	var ollehBytes []byte
	select {
	case ollehBytes = <-ollehCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OLLEH")
	}
	require.Len(t, ollehBytes, limits.OllehSize)
	require.NoError(t, client.CompleteHandshakeAsInitiator(ollehBytes, serverIdentity.Public))

	addMe := make(chan AddMeControl, 1)
	server.OnControlFrame(func(requestID uint64, payload []byte) {
		d := &Dispatcher{OnAddMe: func(_ uint64, msg AddMeControl) { addMe <- msg }}
		require.NoError(t, d.Dispatch(requestID, payload))
	})

	addMePayload, err := EncodeAddMe(AddMeControl{Nick: "carol", Message: "hi"})
	require.NoError(t, err)
	_, err = client.SendControl(addMePayload)
	require.NoError(t, err)

	select {
	case msg := <-addMe:
		assert.Equal(t, "carol", msg.Nick)
		assert.Equal(t, "hi", msg.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for AddMe control message")
	}
}

func TestAllocateChannelIsMonotonicStartingAtOne(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	tr := newStartedTransport(clientConn)
	_ = serverConn
	s := &PeerSession{transport: tr, nextChannel: 1}

	ch1 := s.AllocateChannel()
	ch2 := s.AllocateChannel()
	assert.Equal(t, uint32(1), ch1)
	assert.Equal(t, uint32(2), ch2)
}
