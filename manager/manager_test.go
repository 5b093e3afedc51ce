package manager

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/dschat/contact"
	"github.com/opd-ai/dschat/crypto"
	"github.com/opd-ai/dschat/events"
	"github.com/opd-ai/dschat/file"
	"github.com/opd-ai/dschat/limits"
	"github.com/opd-ai/dschat/messaging"
	"github.com/opd-ai/dschat/session"
	"github.com/opd-ai/dschat/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContactStore struct {
	byPubKey map[[32]byte]string
	contacts map[string]*contact.Contact
}

func newFakeContactStore() *fakeContactStore {
	return &fakeContactStore{byPubKey: make(map[[32]byte]string), contacts: make(map[string]*contact.Contact)}
}

func (f *fakeContactStore) add(c *contact.Contact) {
	f.byPubKey[c.RemotePubKey] = c.UUID
	f.contacts[c.UUID] = c
}

func (f *fakeContactStore) ResolveByPubKey(identityUUID string, pubKey [32]byte) (string, bool) {
	uuid, ok := f.byPubKey[pubKey]
	return uuid, ok
}

func (f *fakeContactStore) Contact(contactUUID string) (*contact.Contact, error) {
	c, ok := f.contacts[contactUUID]
	if !ok {
		return nil, fmt.Errorf("no such contact %s", contactUUID)
	}
	return c, nil
}

type fakeContactResolver struct {
	byContact map[string][32]byte
}

func (f *fakeContactResolver) RemotePublicKey(contactUUID string) ([32]byte, error) {
	k, ok := f.byContact[contactUUID]
	if !ok {
		return [32]byte{}, fmt.Errorf("unknown contact %s", contactUUID)
	}
	return k, nil
}

type fakeMessageStore struct {
	mu    sync.Mutex
	saved []*messaging.Message
}

func (f *fakeMessageStore) SaveMessage(m *messaging.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, m)
	return nil
}

func (f *fakeMessageStore) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeConversationStore struct {
	byHash map[[32]byte]*messaging.Conversation
}

func (s *fakeConversationStore) LoadConversationByHash(hash [32]byte) (*messaging.Conversation, error) {
	c, ok := s.byHash[hash]
	if !ok {
		return nil, fmt.Errorf("no conversation for hash")
	}
	return c, nil
}

func (s *fakeConversationStore) SaveConversation(c *messaging.Conversation) error {
	s.byHash[c.Hash] = c
	return nil
}

func newStartedTransport(conn net.Conn) *transport.FramedTransport {
	tr := transport.New(conn)
	tr.Start()
	return tr
}

// rig wires two full protocol managers ("alice" and "bob") each with their
// own messaging and file collaborators, cross-trusting one another's
// identity, ready to complete a handshake over a net.Pipe.
type rig struct {
	mgrA, mgrB           *Manager
	identityA, identityB *contact.Identity
	contactA, contactB   *contact.Contact // contactA: bob as known by alice; contactB: alice as known by bob
	busA, busB           *events.Bus
	filesA, filesB       *file.Manager
	msgStoreA, msgStoreB *fakeMessageStore
}

func buildRig(t *testing.T) *rig {
	t.Helper()

	idA, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)
	idB, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	identityA := &contact.Identity{UUID: "identity-a", SigningKeyPair: idA}
	identityB := &contact.Identity{UUID: "identity-b", SigningKeyPair: idB}

	contactBSeenByA := contact.New("contact-b", "identity-a", "bob", idB.Public, "b.onion")
	contactASeenByB := contact.New("contact-a", "identity-b", "alice", idA.Public, "a.onion")

	csA := newFakeContactStore()
	csA.add(contactBSeenByA)
	csB := newFakeContactStore()
	csB.add(contactASeenByB)

	busA := events.NewBus()
	busB := events.NewBus()

	convStoreA := &fakeConversationStore{byHash: map[[32]byte]*messaging.Conversation{}}
	convStoreB := &fakeConversationStore{byHash: map[[32]byte]*messaging.Conversation{}}
	convMgrA, err := messaging.NewConversationManager(convStoreA)
	require.NoError(t, err)
	convMgrB, err := messaging.NewConversationManager(convStoreB)
	require.NoError(t, err)

	hash := messaging.ConversationHash(idA.Public, idB.Public)
	convA := &messaging.Conversation{UUID: "conv-a", IdentityUUID: "identity-a", ParticipantContactUUID: "contact-b", Hash: hash}
	convB := &messaging.Conversation{UUID: "conv-b", IdentityUUID: "identity-b", ParticipantContactUUID: "contact-a", Hash: hash}
	require.NoError(t, convMgrA.Put(convA))
	require.NoError(t, convMgrB.Put(convB))

	resolverA := &fakeContactResolver{byContact: map[string][32]byte{"contact-b": idB.Public}}
	resolverB := &fakeContactResolver{byContact: map[string][32]byte{"contact-a": idA.Public}}

	msgStoreA := &fakeMessageStore{}
	msgStoreB := &fakeMessageStore{}

	addMeA := contact.NewAddMeManager()
	addMeB := contact.NewAddMeManager()

	filesA := file.NewManager(busA, t.TempDir())
	filesB := file.NewManager(busB, t.TempDir())

	mgrA := NewManager(nil, nil, csA, addMeA, nil, filesA, busA)
	mgrB := NewManager(nil, nil, csB, addMeB, nil, filesB, busB)

	messagesA := messaging.NewManager(convMgrA, resolverA, mgrA, busA, msgStoreA)
	messagesB := messaging.NewManager(convMgrB, resolverB, mgrB, busB, msgStoreB)
	mgrA.messages = messagesA
	mgrB.messages = messagesB

	r := &rig{
		mgrA: mgrA, mgrB: mgrB,
		identityA: identityA, identityB: identityB,
		contactA: contactBSeenByA, contactB: contactASeenByB,
		busA: busA, busB: busB,
		filesA: filesA, filesB: filesB,
		msgStoreA: msgStoreA, msgStoreB: msgStoreB,
	}
	t.Cleanup(func() {
		mgrA.Close()
		mgrB.Close()
		filesA.Close()
		filesB.Close()
	})
	return r
}

// handshake drives alice (mgrA, dialer role) and bob (mgrB, acceptor role)
// through a live handshake over a net.Pipe and blocks until both sides have
// a registered session for the other.
func (r *rig) handshake(t *testing.T) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	go r.mgrB.handleAccepted(r.identityB, serverConn)

	go func() {
		_, err := r.mgrA.completeOutbound("conn-alice-bob", r.identityA, r.contactA, clientConn)
		if err != nil {
			panic(err)
		}
	}()

	require.Eventually(t, func() bool {
		_, ok := r.mgrA.findByContact("contact-b")
		return ok
	}, 2*time.Second, 5*time.Millisecond, "alice never registered a session for bob")

	require.Eventually(t, func() bool {
		_, ok := r.mgrB.findByContact("contact-a")
		return ok
	}, 2*time.Second, 5*time.Millisecond, "bob never registered a session for alice")
}

func TestHandshakeRegistersSessionsOnBothSides(t *testing.T) {
	r := buildRig(t)
	r.handshake(t)

	recA, ok := r.mgrA.findByContact("contact-b")
	require.True(t, ok)
	assert.Equal(t, "contact-b", recA.contactUUID)
	assert.Equal(t, r.identityB.SigningKeyPair.Public, recA.session.RemotePubKey)

	recB, ok := r.mgrB.findByContact("contact-a")
	require.True(t, ok)
	assert.Equal(t, "contact-a", recB.contactUUID)
	assert.Equal(t, r.identityA.SigningKeyPair.Public, recB.session.RemotePubKey)
}

func TestHandleAcceptedUnknownContactCarriesRealAddMeFields(t *testing.T) {
	r := buildRig(t)

	clientConn, serverConn := net.Pipe()
	clientTransport := newStartedTransport(clientConn)

	strangerIdentity, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	ollehCh := make(chan []byte, 1)
	clientTransport.OnHaveBytes(func(b []byte) { ollehCh <- b })
	clientTransport.WantBytes(limits.OllehSize)

	client, err := session.NewInitiator("conn-stranger", "identity-stranger", clientTransport, strangerIdentity.Public, strangerIdentity.Private)
	require.NoError(t, err)

	go r.mgrB.handleAccepted(r.identityB, serverConn)

	var ollehBytes []byte
	select {
	case ollehBytes = <-ollehCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OLLEH")
	}
	require.NoError(t, client.CompleteHandshakeAsInitiator(ollehBytes, r.identityB.SigningKeyPair.Public))

	addMeSeen := make(chan events.AddMeRequest, 1)
	r.busB.Subscribe(events.KindAddMeRequest, func(p any) {
		addMeSeen <- p.(events.AddMeRequest)
	})

	addMePayload, err := session.EncodeAddMe(session.AddMeControl{Nick: "Carol", Message: "hi", Address: "carol.onion"})
	require.NoError(t, err)
	_, err = client.SendControl(addMePayload)
	require.NoError(t, err)

	select {
	case req := <-addMeSeen:
		assert.Equal(t, strangerIdentity.Public, req.PubKey)
		assert.Equal(t, "Carol", req.Nick)
		assert.Equal(t, "hi", req.Message)
		assert.Equal(t, "carol.onion", req.Address)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for AddMe request event")
	}

	_, ok := r.mgrB.findByContact("")
	assert.False(t, ok, "unknown-contact session must never be indexed as a normal peer session")
}

func TestRegisterSessionDuplicateTieBreakExistingWins(t *testing.T) {
	r := buildRig(t)

	connLow, _ := net.Pipe()
	connHigh, _ := net.Pipe()
	trLow := newStartedTransport(connLow)
	trHigh := newStartedTransport(connHigh)

	idKey, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	sessLow, err := session.NewInitiator("conn-low", "identity-a", trLow, idKey.Public, idKey.Private)
	require.NoError(t, err)
	sessHigh, err := session.NewInitiator("conn-high", "identity-a", trHigh, idKey.Public, idKey.Private)
	require.NoError(t, err)

	var pubLow, pubHigh [32]byte
	pubLow[0] = 0x01
	pubHigh[0] = 0x02

	r.mgrA.registerSession(sessLow, "identity-a", "contact-x", pubLow)
	r.mgrA.registerSession(sessHigh, "identity-a", "contact-x", pubHigh)

	rec, ok := r.mgrA.findByContact("contact-x")
	require.True(t, ok)
	assert.Equal(t, "conn-low", rec.session.ConnectionUUID, "smaller initiator pubkey should keep its session")
}

func TestRegisterSessionDuplicateTieBreakNewWins(t *testing.T) {
	r := buildRig(t)

	connLow, _ := net.Pipe()
	connHigh, _ := net.Pipe()
	trLow := newStartedTransport(connLow)
	trHigh := newStartedTransport(connHigh)

	idKey, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	sessHigh, err := session.NewInitiator("conn-high", "identity-a", trHigh, idKey.Public, idKey.Private)
	require.NoError(t, err)
	sessLow, err := session.NewInitiator("conn-low", "identity-a", trLow, idKey.Public, idKey.Private)
	require.NoError(t, err)

	var pubLow, pubHigh [32]byte
	pubLow[0] = 0x01
	pubHigh[0] = 0x02

	r.mgrA.registerSession(sessHigh, "identity-a", "contact-y", pubHigh)
	r.mgrA.registerSession(sessLow, "identity-a", "contact-y", pubLow)

	rec, ok := r.mgrA.findByContact("contact-y")
	require.True(t, ok)
	assert.Equal(t, "conn-low", rec.session.ConnectionUUID, "smaller initiator pubkey should displace the existing session")
}

func TestIdleTimeoutSendsKeepalive(t *testing.T) {
	r := buildRig(t)
	r.mgrB.idleTimeout = 20 * time.Millisecond
	r.handshake(t)

	acks := make(chan events.ReceivedAck, 4)
	r.busA.Subscribe(events.KindReceivedAck, func(p any) { acks <- p.(events.ReceivedAck) })

	require.Eventually(t, func() bool {
		select {
		case ack := <-acks:
			return ack.What == "Keepalive"
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond, "expected a Keepalive ack after idle timeout")
}

func TestSendMessageRoundTripDeliversAndAcks(t *testing.T) {
	r := buildRig(t)
	r.handshake(t)

	convA := &messaging.Conversation{
		UUID:                   "conv-a",
		IdentityUUID:           "identity-a",
		ParticipantContactUUID: "contact-b",
		Hash:                   messaging.ConversationHash(r.identityA.SigningKeyPair.Public, r.identityB.SigningKeyPair.Public),
	}

	delivered := make(chan events.MessageReceivedDateChanged, 1)
	r.busA.Subscribe(events.KindMessageReceivedDateChanged, func(p any) {
		delivered <- p.(events.MessageReceivedDateChanged)
	})

	msg, err := r.mgrA.messages.Send(convA, r.identityA.SigningKeyPair, messaging.EncodingUTF8, []byte("hello bob"))
	require.NoError(t, err)

	select {
	case ev := <-delivered:
		assert.Equal(t, msg.ID, ev.MessageID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery ack")
	}

	assert.Equal(t, 1, r.msgStoreB.len())
}

func TestFileOfferAcceptChannelHandoffAndTransfer(t *testing.T) {
	r := buildRig(t)
	r.handshake(t)

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "greeting.txt")
	content := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, os.WriteFile(srcPath, content, 0o600))

	outgoing, err := file.NewOutgoing("local-file-1", "conv-a", "contact-b", "identity-a", srcPath)
	require.NoError(t, err)

	offerSeen := make(chan events.ReceivedFileOffer, 1)
	r.busB.Subscribe(events.KindReceivedFileOffer, func(p any) {
		offerSeen <- p.(events.ReceivedFileOffer)
	})

	acksSeen := make(chan events.ReceivedAck, 4)
	r.busB.Subscribe(events.KindReceivedAck, func(p any) {
		acksSeen <- p.(events.ReceivedAck)
	})

	require.NoError(t, r.mgrA.OfferFile("contact-b", outgoing))

	var offerEvent events.ReceivedFileOffer
	select {
	case offerEvent = <-offerSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for file offer on bob's side")
	}
	assert.Equal(t, outgoing.Name, offerEvent.Name)
	assert.Equal(t, outgoing.Size, offerEvent.Size)

	incoming, ok := r.filesB.File(offerEvent.FileID)
	require.True(t, ok)

	destDir := t.TempDir()
	_, err = r.filesB.ResolveDestination(incoming, destDir)
	require.NoError(t, err)

	channel, err := r.mgrB.AcceptFile("contact-a", incoming)
	require.NoError(t, err)
	assert.NotZero(t, channel)

	require.Eventually(t, func() bool {
		return incoming.State() == file.StateDone
	}, 2*time.Second, 5*time.Millisecond, "expected incoming transfer to reach DONE")

	got, err := os.ReadFile(incoming.Path)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	select {
	case ack := <-acksSeen:
		assert.Equal(t, "IncomingFile", ack.What)
		assert.Equal(t, "Ok", ack.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sender's completion ack")
	}
}
