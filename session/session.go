package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/dschat/crypto"
	"github.com/opd-ai/dschat/limits"
	"github.com/opd-ai/dschat/transport"
	"github.com/opd-ai/dschat/wire"
	"github.com/sirupsen/logrus"
)

// ReadState is a position in the post-handshake read state machine
// (§4.4): DISABLED -> CHUNK_SIZE -> CHUNK_DATA -> ... -> CLOSING.
type ReadState uint8

const (
	ReadStateDisabled ReadState = iota
	ReadStateChunkSize
	ReadStateChunkData
	ReadStateClosing
)

var (
	ErrHandshakeFailed = errors.New("session: handshake failed")
	ErrSessionClosing  = errors.New("session: session is closing")
	ErrPayloadTooLarge = errors.New("session: decoded payload exceeds configured limit")
)

// ControlChannel is the fixed channel id carrying JSON control messages
// (§4.4).
const ControlChannel uint32 = 0

// ContactLookup resolves an initiator's public key against the local
// contact registry (§4.3: "HELLO's embedded pubkey is checked against
// the local contact registry"). A miss routes the session into the
// AddMe flow instead of the normal peer pipeline.
type ContactLookup func(pubKey [32]byte) (contactUUID string, known bool)

// PeerSession is one connection's post-handshake protocol state: its
// two unidirectional streams, its read state machine, and its
// per-session outbound channel/request-id allocators.
type PeerSession struct {
	ConnectionUUID string
	IdentityUUID   string
	ContactUUID    string // empty until resolved: by the responder's contact lookup, or set by the dialing manager
	RemotePubKey   [32]byte

	transport *transport.FramedTransport
	streamOut *crypto.EncryptStream
	streamIn  *crypto.DecryptStream

	// outKey/inKey are retained only so Close/close can wipe them; the
	// stream ciphers derived from them at construction give up no way to
	// recover or re-zero the key material themselves.
	outKey [32]byte
	inKey  [32]byte

	mu              sync.Mutex
	readState       ReadState
	pendingLen      uint16
	outboundCounter uint64
	nextChannel     uint32

	onControlFrame func(requestID uint64, payload []byte)
	onDataFrame    func(channel uint32, requestID uint64, payload []byte)
	onClosed       func(reason string)
}

// NewInitiator drives the outbound side of the handshake (§4.3): it
// sends HELLO over t and, once called back with OLLEH's bytes via
// CompleteHandshakeAsInitiator, finishes building the session. The
// caller must have already called t.Start() so the write succeeds.
func NewInitiator(connectionUUID, identityUUID string, t *transport.FramedTransport, identityPub, identityPriv [32]byte) (*PeerSession, error) {
	var txKey [32]byte
	if _, err := rand.Read(txKey[:]); err != nil {
		return nil, fmt.Errorf("session: generating stream key: %w", err)
	}

	streamOut, err := crypto.NewEncryptStream(txKey)
	if err != nil {
		return nil, fmt.Errorf("session: initializing outbound stream: %w", err)
	}

	hello, err := wire.EncodeHello(txKey, streamOut.Header(), identityPub, identityPriv)
	if err != nil {
		return nil, fmt.Errorf("session: encoding hello: %w", err)
	}

	s := &PeerSession{
		ConnectionUUID: connectionUUID,
		IdentityUUID:   identityUUID,
		transport:      t,
		streamOut:      streamOut,
		outKey:         txKey,
		readState:      ReadStateDisabled,
		nextChannel:    1,
	}

	if err := t.Write(hello); err != nil {
		return nil, fmt.Errorf("session: sending hello: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":        "NewInitiator",
		"connection_uuid": connectionUUID,
	}).Info("Sent HELLO, awaiting OLLEH")

	return s, nil
}

// CompleteHandshakeAsInitiator verifies the responder's OLLEH, builds
// the inbound stream, and begins the read loop.
func (s *PeerSession) CompleteHandshakeAsInitiator(olleh []byte, expectedResponderPub [32]byte) error {
	decoded, err := wire.DecodeOlleh(olleh, expectedResponderPub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	streamIn, err := crypto.NewDecryptStream(decoded.TxKey, decoded.TxHeader)
	if err != nil {
		return fmt.Errorf("session: initializing inbound stream: %w", err)
	}
	s.streamIn = streamIn
	s.inKey = decoded.TxKey
	s.RemotePubKey = expectedResponderPub

	s.beginReadLoop()
	return nil
}

// ErrUnknownContact is returned alongside a completed session by
// NewResponder when HELLO's embedded pubkey is not in the receiving
// identity's contact set (§4.3/§4.5: AddMe travels as an ordinary
// control-channel message, which requires a working session to carry
// it). The handshake still completes and OLLEH is still sent, so the
// returned session is real and readable; the caller should restrict it
// to the AddMe control message and close it once that arrives (or the
// handshake timeout elapses), rather than promoting it to a normal
// peer session or persisting it.
type ErrUnknownContact struct {
	InitiatorPubKey [32]byte
}

func (e *ErrUnknownContact) Error() string {
	return fmt.Sprintf("session: unknown initiator pubkey %x", e.InitiatorPubKey[:8])
}

// NewResponder is constructed once a full HELLO has been read off t.
// The caller must have already called t.Start(). lookup resolves the
// initiator's pubkey against the local contact registry. On a miss, the
// handshake still completes (OLLEH is still sent so the initiator's own
// AddMe control message has a session to travel over) and NewResponder
// returns the resulting session together with *ErrUnknownContact; the
// caller must not treat this as an ordinary peer session.
func NewResponder(connectionUUID, identityUUID string, t *transport.FramedTransport, hello []byte, identityPub, identityPriv [32]byte, lookup ContactLookup) (*PeerSession, error) {
	decoded, err := wire.DecodeHello(hello)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	contactUUID, known := lookup(decoded.InitiatorPubKey)

	streamIn, err := crypto.NewDecryptStream(decoded.TxKey, decoded.TxHeader)
	if err != nil {
		return nil, fmt.Errorf("session: initializing inbound stream: %w", err)
	}

	var txKey [32]byte
	if _, err := rand.Read(txKey[:]); err != nil {
		return nil, fmt.Errorf("session: generating stream key: %w", err)
	}
	streamOut, err := crypto.NewEncryptStream(txKey)
	if err != nil {
		return nil, fmt.Errorf("session: initializing outbound stream: %w", err)
	}

	olleh, err := wire.EncodeOlleh(txKey, streamOut.Header(), identityPriv)
	if err != nil {
		return nil, fmt.Errorf("session: encoding olleh: %w", err)
	}
	if err := t.Write(olleh); err != nil {
		return nil, fmt.Errorf("session: sending olleh: %w", err)
	}

	s := &PeerSession{
		ConnectionUUID: connectionUUID,
		IdentityUUID:   identityUUID,
		ContactUUID:    contactUUID,
		RemotePubKey:   decoded.InitiatorPubKey,
		transport:      t,
		streamOut:      streamOut,
		streamIn:       streamIn,
		outKey:         txKey,
		inKey:          decoded.TxKey,
		nextChannel:    1,
	}

	s.beginReadLoop()

	if !known {
		logrus.WithFields(logrus.Fields{
			"function":        "NewResponder",
			"connection_uuid": connectionUUID,
		}).Info("HELLO from unknown pubkey, completing handshake to receive AddMe")
		return s, &ErrUnknownContact{InitiatorPubKey: decoded.InitiatorPubKey}
	}

	logrus.WithFields(logrus.Fields{
		"function":        "NewResponder",
		"connection_uuid": connectionUUID,
	}).Info("Completed responder handshake")

	return s, nil
}

// OnControlFrame registers the handler for decoded channel-0 payloads.
func (s *PeerSession) OnControlFrame(fn func(requestID uint64, payload []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onControlFrame = fn
}

// OnDataFrame registers the handler for decoded non-zero-channel
// payloads (file transfer bytes).
func (s *PeerSession) OnDataFrame(fn func(channel uint32, requestID uint64, payload []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDataFrame = fn
}

// OnClosed registers the handler invoked once, when the session
// transitions to CLOSING for any reason.
func (s *PeerSession) OnClosed(fn func(reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClosed = fn
}

// OnWriteDrained registers a callback fired whenever the transport's
// output buffer empties, so callers can pace outgoing file chunks
// instead of queuing them unboundedly (§5 Backpressure).
func (s *PeerSession) OnWriteDrained(fn func()) {
	s.transport.OnBufferEmptied(fn)
}

// beginReadLoop starts the length-frame/payload-frame ciphertext cycle
// (§4.4 read state machine) and wires the transport's reactor
// callbacks.
func (s *PeerSession) beginReadLoop() {
	s.mu.Lock()
	s.readState = ReadStateChunkSize
	s.mu.Unlock()

	s.transport.OnHaveBytes(s.handleHaveBytes)
	s.transport.OnDisconnected(func() { s.close("peer disconnected") })
	s.transport.OnFailed(func(err error) { s.close(err.Error()) })
	s.transport.WantBytes(limits.LengthFrameSize + limits.StreamTagOverhead)
}

// handleHaveBytes implements one step of the read state machine for
// every ciphertext delivery from the transport.
func (s *PeerSession) handleHaveBytes(ciphertext []byte) {
	s.mu.Lock()
	state := s.readState
	s.mu.Unlock()

	if state == ReadStateClosing {
		return
	}

	plaintext, tag, err := s.streamIn.Pull(ciphertext)
	if err != nil {
		s.close(fmt.Sprintf("stream authentication failure: %v", err))
		return
	}
	if tag == crypto.TagFinal {
		s.close("remote sent FINAL")
		return
	}

	switch state {
	case ReadStateChunkSize:
		s.handleLengthFrame(plaintext)
	case ReadStateChunkData:
		s.handleDataFrame(plaintext)
	}
}

func (s *PeerSession) handleLengthFrame(plaintext []byte) {
	length, err := wire.DecodeLengthFrame(plaintext)
	if err != nil {
		s.close(fmt.Sprintf("bad length frame: %v", err))
		return
	}
	if int(length) > limits.MaxControlPayload+limits.FrameHeaderSize && int(length) > limits.MaxFileChunk+limits.FrameHeaderSize {
		s.close("length frame exceeds configured maximum")
		return
	}

	s.mu.Lock()
	s.pendingLen = length
	s.readState = ReadStateChunkData
	s.mu.Unlock()

	s.transport.WantBytes(int(length) + limits.StreamTagOverhead)
}

func (s *PeerSession) handleDataFrame(plaintext []byte) {
	channel, requestID, payload, err := wire.DecodePayloadFrame(plaintext)
	if err != nil {
		s.close(fmt.Sprintf("bad payload frame: %v", err))
		return
	}

	s.mu.Lock()
	s.readState = ReadStateChunkSize
	onControl := s.onControlFrame
	onData := s.onDataFrame
	s.mu.Unlock()

	if channel == ControlChannel {
		if onControl != nil {
			onControl(requestID, payload)
		}
	} else if onData != nil {
		onData(channel, requestID, payload)
	}

	s.mu.Lock()
	closing := s.readState == ReadStateClosing
	s.mu.Unlock()
	if closing {
		return
	}
	s.transport.WantBytes(limits.LengthFrameSize + limits.StreamTagOverhead)
}

// nextRequestID implements §4.4's "starts at 0, pre-incremented per
// send" counter, unique only within this session's outbound direction.
func (s *PeerSession) nextRequestID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outboundCounter++
	return s.outboundCounter
}

// AllocateChannel returns the next unique non-zero channel id for a
// newly accepted file transfer (§8's Open Question: per-session,
// monotonic, starting at 1).
func (s *PeerSession) AllocateChannel() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.nextChannel
	s.nextChannel++
	return ch
}

// Send encrypts and writes one payload frame on channel, returning the
// assigned request id for the caller to correlate an eventual Ack.
func (s *PeerSession) Send(channel uint32, payload []byte) (uint64, error) {
	s.mu.Lock()
	if s.readState == ReadStateClosing {
		s.mu.Unlock()
		return 0, ErrSessionClosing
	}
	s.mu.Unlock()

	requestID := s.nextRequestID()
	frame := wire.EncodePayloadFrame(channel, requestID, payload)

	lengthCiphertext := s.streamOut.Push(wire.EncodeLengthFrame(uint16(len(frame))), crypto.TagMessage)
	if err := s.transport.Write(lengthCiphertext); err != nil {
		return 0, fmt.Errorf("session: writing length frame: %w", err)
	}

	dataCiphertext := s.streamOut.Push(frame, crypto.TagMessage)
	if err := s.transport.Write(dataCiphertext); err != nil {
		return 0, fmt.Errorf("session: writing payload frame: %w", err)
	}

	return requestID, nil
}

// SendControl is Send restricted to the control channel, for callers
// that only ever speak JSON (§4.5).
func (s *PeerSession) SendControl(payload []byte) (uint64, error) {
	return s.Send(ControlChannel, payload)
}

// close implements §4.3/§4.7's unilateral-close resolution: on FINAL,
// authentication failure, or transport disconnection, the session
// simply closes its transport; no FINAL tag is required from this side
// since the remote already initiated closing, or closing is itself the
// local decision.
func (s *PeerSession) close(reason string) {
	s.mu.Lock()
	if s.readState == ReadStateClosing {
		s.mu.Unlock()
		return
	}
	s.readState = ReadStateClosing
	cb := s.onClosed
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":        "close",
		"connection_uuid": s.ConnectionUUID,
		"reason":          reason,
	}).Info("Closing peer session")

	crypto.ZeroBytes(s.outKey[:])
	crypto.ZeroBytes(s.inKey[:])

	_ = s.transport.Close()
	if cb != nil {
		cb(reason)
	}
}

// Close initiates a local close: pushes a FINAL-tagged frame sized
// exactly like a length frame (so it satisfies the remote's current
// CHUNK_SIZE want_bytes regardless of content), then tears down the
// transport.
func (s *PeerSession) Close() {
	s.mu.Lock()
	alreadyClosing := s.readState == ReadStateClosing
	s.mu.Unlock()
	if alreadyClosing {
		return
	}

	final := s.streamOut.Push(make([]byte, limits.LengthFrameSize), crypto.TagFinal)
	_ = s.transport.Write(final)
	s.close("local close")
}
