package manager

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/dschat/contact"
	"github.com/opd-ai/dschat/crypto"
	"github.com/opd-ai/dschat/events"
	"github.com/opd-ai/dschat/file"
	"github.com/opd-ai/dschat/limits"
	"github.com/opd-ai/dschat/messaging"
	"github.com/opd-ai/dschat/session"
	"github.com/opd-ai/dschat/transport"
	"github.com/sirupsen/logrus"
)

// ContactStore resolves contacts for the identities this manager serves
// (§1's out-of-scope identity/contact store, narrowed to what the
// protocol manager consumes).
type ContactStore interface {
	// ResolveByPubKey looks up a known contact of identityUUID by its
	// signing public key, used to answer an inbound HELLO (§4.3).
	ResolveByPubKey(identityUUID string, pubKey [32]byte) (contactUUID string, ok bool)
	// Contact returns the contact record for contactUUID.
	Contact(contactUUID string) (*contact.Contact, error)
}

type pairKey struct {
	identityUUID string
	contactUUID  string
}

// trackedSession is one live connection's bookkeeping: the session
// itself plus what the manager needs to route control traffic and
// resolve duplicates.
type trackedSession struct {
	session         *session.PeerSession
	identityUUID    string
	contactUUID     string
	initiatorPubKey [32]byte
	idleTimer       *time.Timer
}

// Manager is the protocol manager (§4.7): it binds inbound listeners,
// dials outbound connections, tracks live sessions, resolves duplicate
// connections, and decodes control traffic into calls on its
// collaborators.
type Manager struct {
	dialer       transport.ManagerDialer
	hsController transport.HiddenServiceController
	contacts     ContactStore
	addMe        *contact.AddMeManager
	messages     *messaging.Manager
	files        *file.Manager
	bus          *events.Bus

	handshakeTimeout time.Duration
	idleTimeout      time.Duration
	retryBaseDelay   time.Duration
	retryMaxAttempts int

	mu        sync.Mutex
	byConn    map[string]*trackedSession
	byPair    map[pairKey]*trackedSession
	byContact map[string]*trackedSession
}

// NewManager constructs a Manager wired to its collaborators, using the
// default handshake/idle timeouts and retry policy from the limits
// package.
func NewManager(dialer transport.ManagerDialer, hsController transport.HiddenServiceController, contacts ContactStore, addMe *contact.AddMeManager, messages *messaging.Manager, files *file.Manager, bus *events.Bus) *Manager {
	m := &Manager{
		dialer:           dialer,
		hsController:     hsController,
		contacts:         contacts,
		addMe:            addMe,
		messages:         messages,
		files:            files,
		bus:              bus,
		handshakeTimeout: limits.DefaultHandshakeTimeout,
		idleTimeout:      limits.DefaultIdleTimeout,
		retryBaseDelay:   limits.DefaultOutboundRetryBaseDelay,
		retryMaxAttempts: limits.DefaultOutboundRetryMaxAttempts,
		byConn:           make(map[string]*trackedSession),
		byPair:           make(map[pairKey]*trackedSession),
		byContact:        make(map[string]*trackedSession),
	}

	addMe.OnNewRequest(func(req *contact.AddMeRequest) {
		bus.Publish(events.KindAddMeRequest, events.AddMeRequest{
			PubKey:  req.PubKey,
			Nick:    req.Nick,
			Message: req.Message,
			Address: req.Address,
		})
	})

	return m
}

// SetMessages wires the messaging collaborator once it exists. Messaging
// depends on this Manager as its Sender, so the two are constructed in two
// steps: NewManager first (with messages left nil), then SetMessages once
// the caller has built the messaging.Manager around it.
func (m *Manager) SetMessages(messages *messaging.Manager) {
	m.messages = messages
}

// SetHandshakeTimeout overrides the default T_handshake bound (§5).
func (m *Manager) SetHandshakeTimeout(d time.Duration) {
	m.handshakeTimeout = d
}

// SetIdleTimeout overrides the default T_idle bound (§5).
func (m *Manager) SetIdleTimeout(d time.Duration) {
	m.idleTimeout = d
}

// SetRetryPolicy overrides the default outbound-dial retry policy (§4.7).
func (m *Manager) SetRetryPolicy(baseDelay time.Duration, maxAttempts int) {
	m.retryBaseDelay = baseDelay
	m.retryMaxAttempts = maxAttempts
}

// awaitExact wires t's reactor callback to deliver the next n bytes on
// the returned channel, once.
func awaitExact(t *transport.FramedTransport, n int) <-chan []byte {
	ch := make(chan []byte, 1)
	t.OnHaveBytes(func(b []byte) {
		select {
		case ch <- b:
		default:
		}
	})
	t.WantBytes(n)
	return ch
}

// Listen provisions (if needed) and binds a hidden service for identity,
// accepting inbound connections on a background goroutine (§4.7).
func (m *Manager) Listen(identity *contact.Identity) error {
	if identity.HiddenServiceAddress == "" {
		addr, err := m.hsController.CreateHiddenService(identity.UUID)
		if err != nil {
			return fmt.Errorf("manager: creating hidden service: %w", err)
		}
		identity.HiddenServiceAddress = addr
	}

	ln, err := m.hsController.Listen(identity.HiddenServiceAddress)
	if err != nil {
		return fmt.Errorf("manager: listening on %s: %w", identity.HiddenServiceAddress, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Listen",
		"identity": identity.UUID,
		"onion":    identity.HiddenServiceAddress,
	}).Info("Listening for inbound peer connections")

	go m.acceptLoop(identity, ln)
	return nil
}

func (m *Manager) acceptLoop(identity *contact.Identity, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "acceptLoop",
				"identity": identity.UUID,
				"error":    err.Error(),
			}).Warn("Listener closed, accept loop exiting")
			return
		}
		go m.handleAccepted(identity, conn)
	}
}

// handleAccepted drives the responder side of the handshake for a freshly
// accepted socket, enforcing T_handshake (§5 Timeouts).
func (m *Manager) handleAccepted(identity *contact.Identity, conn net.Conn) {
	connectionUUID := uuid.NewString()
	tr := transport.New(conn)
	tr.Start()

	helloCh := awaitExact(tr, limits.HelloSize)

	select {
	case hello := <-helloCh:
		lookup := func(pubKey [32]byte) (string, bool) {
			return m.contacts.ResolveByPubKey(identity.UUID, pubKey)
		}

		s, err := session.NewResponder(connectionUUID, identity.UUID, tr, hello, identity.SigningKeyPair.Public, identity.SigningKeyPair.Private, lookup)
		if err != nil {
			var unknown *session.ErrUnknownContact
			if errors.As(err, &unknown) && s != nil {
				m.handleUnknownContact(s, connectionUUID)
				return
			}
			if !errors.As(err, &unknown) {
				logrus.WithFields(logrus.Fields{
					"function":        "handleAccepted",
					"connection_uuid": connectionUUID,
					"error":           err.Error(),
				}).Warn("Responder handshake failed")
			}
			_ = tr.Close()
			return
		}

		m.registerSession(s, identity.UUID, s.ContactUUID, s.RemotePubKey)
		m.bus.Publish(events.KindIncomingPeer, events.IncomingPeer{
			ConnectionUUID: connectionUUID,
			ContactUUID:    s.ContactUUID,
		})

	case <-time.After(m.handshakeTimeout):
		logrus.WithFields(logrus.Fields{
			"function":        "handleAccepted",
			"connection_uuid": connectionUUID,
		}).Warn("Handshake timed out awaiting HELLO")
		_ = tr.Close()
	}
}

// handleUnknownContact drives a handshake-complete session belonging to
// a pubkey outside the local contact set (§4.3, §4.5). The session is
// never registered in m.byContact/m.byPair: it exists only long enough
// to receive one AddMe control message, which carries the real
// nick/message/address the request is meant to surface. Control traffic
// of any other type is ignored; the connection closes after the first
// control frame, whatever its type, or once the handshake timeout
// elapses.
func (m *Manager) handleUnknownContact(s *session.PeerSession, connectionUUID string) {
	var once sync.Once
	closeSession := func() { once.Do(s.Close) }
	timer := time.AfterFunc(m.handshakeTimeout, closeSession)

	s.OnControlFrame(func(requestID uint64, payload []byte) {
		timer.Stop()
		d := &session.Dispatcher{
			OnAddMe: func(_ uint64, msg session.AddMeControl) {
				m.addMe.HandleIncoming(s.RemotePubKey, msg.Nick, msg.Message, msg.Address)
			},
		}
		if err := d.Dispatch(requestID, payload); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":        "handleUnknownContact",
				"connection_uuid": connectionUUID,
				"error":           err.Error(),
			}).Warn("Malformed control payload from unrecognized peer")
		}
		closeSession()
	})
}

// Dial initiates an outbound connection to ct on behalf of identity,
// retrying transient dial failures with exponential backoff (§4.7
// retry policy) up to retryMaxAttempts.
func (m *Manager) Dial(identity *contact.Identity, ct *contact.Contact) (*session.PeerSession, error) {
	connectionUUID := uuid.NewString()
	delay := m.retryBaseDelay
	var lastErr error

	for attempt := 0; attempt < m.retryMaxAttempts; attempt++ {
		conn, err := m.dialer.Dial(ct.RemoteOnionAddress)
		if err != nil {
			lastErr = err
			logrus.WithFields(logrus.Fields{
				"function": "Dial",
				"contact":  ct.UUID,
				"attempt":  attempt,
				"error":    err.Error(),
			}).Warn("Transient dial failure, retrying with backoff")
			time.Sleep(delay)
			delay *= 2
			continue
		}

		s, err := m.completeOutbound(connectionUUID, identity, ct, conn)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	return nil, fmt.Errorf("manager: dialing %s after %d attempts: %w", ct.RemoteOnionAddress, m.retryMaxAttempts, lastErr)
}

func (m *Manager) completeOutbound(connectionUUID string, identity *contact.Identity, ct *contact.Contact, conn net.Conn) (*session.PeerSession, error) {
	tr := transport.New(conn)
	tr.Start()

	s, err := session.NewInitiator(connectionUUID, identity.UUID, tr, identity.SigningKeyPair.Public, identity.SigningKeyPair.Private)
	if err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("manager: sending hello to %s: %w", ct.UUID, err)
	}

	ollehCh := awaitExact(tr, limits.OllehSize)
	select {
	case olleh := <-ollehCh:
		if err := s.CompleteHandshakeAsInitiator(olleh, ct.RemotePubKey); err != nil {
			_ = tr.Close()
			return nil, fmt.Errorf("manager: completing handshake with %s: %w", ct.UUID, err)
		}
	case <-time.After(m.handshakeTimeout):
		_ = tr.Close()
		return nil, fmt.Errorf("manager: handshake with %s timed out", ct.UUID)
	}

	s.ContactUUID = ct.UUID
	m.registerSession(s, identity.UUID, ct.UUID, identity.SigningKeyPair.Public)
	return s, nil
}

// registerSession indexes a freshly handshaken session and resolves any
// existing duplicate for the same (identity, contact) pair by the
// lexicographically-smaller-initiator-pubkey tie-break (§4.7).
func (m *Manager) registerSession(s *session.PeerSession, identityUUID, contactUUID string, initiatorPubKey [32]byte) {
	rec := &trackedSession{
		session:         s,
		identityUUID:    identityUUID,
		contactUUID:     contactUUID,
		initiatorPubKey: initiatorPubKey,
	}
	key := pairKey{identityUUID: identityUUID, contactUUID: contactUUID}

	m.mu.Lock()
	existing, hadExisting := m.byPair[key]
	if hadExisting {
		if crypto.LexLess(existing.initiatorPubKey, initiatorPubKey) {
			m.mu.Unlock()
			logrus.WithFields(logrus.Fields{
				"function": "registerSession",
				"contact":  contactUUID,
			}).Info("Duplicate connection loses tie-break, closing new session")
			s.Close()
			return
		}
		delete(m.byPair, key)
		delete(m.byConn, existing.session.ConnectionUUID)
		delete(m.byContact, contactUUID)
	}
	m.byPair[key] = rec
	m.byConn[s.ConnectionUUID] = rec
	m.byContact[contactUUID] = rec
	m.mu.Unlock()

	if hadExisting {
		logrus.WithFields(logrus.Fields{
			"function": "registerSession",
			"contact":  contactUUID,
		}).Info("New connection wins tie-break, closing superseded session")
		existing.session.Close()
	}

	rec.idleTimer = time.AfterFunc(m.idleTimeout, func() { m.sendKeepalive(rec) })
	m.wireCallbacks(rec)
}

func (m *Manager) wireCallbacks(rec *trackedSession) {
	s := rec.session

	s.OnControlFrame(func(requestID uint64, payload []byte) {
		rec.idleTimer.Reset(m.idleTimeout)
		m.handleControlFrame(rec, requestID, payload)
	})
	s.OnDataFrame(func(channel uint32, requestID uint64, payload []byte) {
		rec.idleTimer.Reset(m.idleTimeout)
		m.handleDataFrame(rec, channel, payload)
	})
	s.OnClosed(func(reason string) {
		m.mu.Lock()
		key := pairKey{identityUUID: rec.identityUUID, contactUUID: rec.contactUUID}
		delete(m.byConn, s.ConnectionUUID)
		if cur, ok := m.byPair[key]; ok && cur == rec {
			delete(m.byPair, key)
			delete(m.byContact, rec.contactUUID)
		}
		m.mu.Unlock()
		rec.idleTimer.Stop()

		m.bus.Publish(events.KindPeerDisconnected, events.PeerDisconnected{
			ConnectionUUID: s.ConnectionUUID,
			ContactUUID:    rec.contactUUID,
			Reason:         reason,
		})
	})
}

// sendKeepalive fires an idle-timeout keepalive ack (§5 Timeouts) and
// re-arms the timer for the next idle period.
func (m *Manager) sendKeepalive(rec *trackedSession) {
	payload, err := session.EncodeAck(session.AckControl{What: "Keepalive", Status: "Ok"})
	if err == nil {
		if _, err := rec.session.SendControl(payload); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "sendKeepalive",
				"contact":  rec.contactUUID,
				"error":    err.Error(),
			}).Debug("Failed to send idle keepalive")
		}
	}
	rec.idleTimer.Reset(m.idleTimeout)
}

func (m *Manager) handleControlFrame(rec *trackedSession, requestID uint64, payload []byte) {
	d := &session.Dispatcher{
		OnAddMe: func(_ uint64, msg session.AddMeControl) {
			m.addMe.HandleIncoming(rec.session.RemotePubKey, msg.Nick, msg.Message, msg.Address)
		},
		OnAck: func(_ uint64, msg session.AckControl) {
			m.handleAck(rec, msg)
		},
		OnMessage: func(_ uint64, msg session.MessageControl) {
			m.handleMessage(rec, msg)
		},
		OnIncomingFile: func(_ uint64, msg session.IncomingFileControl) {
			m.handleIncomingFile(rec, msg)
		},
	}

	if err := d.Dispatch(requestID, payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "handleControlFrame",
			"connection_uuid": rec.session.ConnectionUUID,
			"error":           err.Error(),
		}).Warn("Malformed control payload, closing session")
		rec.session.Close()
	}
}

func (m *Manager) handleDataFrame(rec *trackedSession, channel uint32, payload []byte) {
	f, ok := m.files.FileByChannel(channel)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":        "handleDataFrame",
			"connection_uuid": rec.session.ConnectionUUID,
			"channel":         channel,
		}).Warn("Data frame on channel with no active file transfer")
		return
	}
	if err := m.files.WriteChunk(f, payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleDataFrame",
			"file_id":  f.ID,
			"error":    err.Error(),
		}).Warn("Failed to write incoming file chunk")
	}
}

// fileAcceptPayload packs the receiver-assigned channel and the wire
// file id into Ack{what:"IncomingFile", status:"Accepted"}'s data field,
// so the sender learns which channel to stream chunks on (§8's Open
// Question on channel assignment scope: the receiver decides, since it
// owns the destination stream state; the sender only learns it here).
func fileAcceptPayload(channel uint32, wireFileID [16]byte) string {
	buf := make([]byte, 4+16)
	binary.BigEndian.PutUint32(buf[:4], channel)
	copy(buf[4:], wireFileID[:])
	return session.B64(buf)
}

func (m *Manager) handleAck(rec *trackedSession, msg session.AckControl) {
	data, err := session.FromB64(msg.Data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleAck",
			"what":     msg.What,
			"error":    err.Error(),
		}).Warn("Malformed Ack data field")
		return
	}

	switch msg.What {
	case "Message":
		if len(data) != 16 {
			logrus.WithFields(logrus.Fields{
				"function": "handleAck",
			}).Warn("Malformed Message ack data length")
			break
		}
		if err := m.messages.Ack(fmt.Sprintf("%x", data)); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleAck",
				"error":    err.Error(),
			}).Debug("Ack for unknown or already-acked message")
		}
	case "IncomingFile":
		m.handleFileAck(msg.Status, data)
	case "Keepalive":
		// no-op: receiving any control frame already reset this
		// session's idle timer.
	default:
		logrus.WithFields(logrus.Fields{
			"function": "handleAck",
			"what":     msg.What,
		}).Warn("Ack with unrecognized what field")
	}

	m.bus.Publish(events.KindReceivedAck, events.ReceivedAck{
		ConnectionUUID: rec.session.ConnectionUUID,
		What:           msg.What,
		Status:         msg.Status,
		Data:           msg.Data,
	})
}

func (m *Manager) handleFileAck(status string, data []byte) {
	if status == "Accepted" && len(data) == 4+16 {
		channel := binary.BigEndian.Uint32(data[:4])
		var wireID [16]byte
		copy(wireID[:], data[4:])
		if err := m.files.SetChannel(wireID, channel); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleFileAck",
				"error":    err.Error(),
			}).Warn("Accepted ack for unknown outgoing file")
			return
		}
		go m.pumpFile(wireID)
		return
	}

	if len(data) != 16 {
		logrus.WithFields(logrus.Fields{
			"function": "handleFileAck",
			"status":   status,
		}).Warn("Malformed IncomingFile ack data length")
		return
	}
	var wireID [16]byte
	copy(wireID[:], data)
	if err := m.files.HandleAck(wireID, status); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleFileAck",
			"error":    err.Error(),
		}).Debug("Ack for unknown or already-resolved file")
	}
}

func (m *Manager) handleMessage(rec *trackedSession, msg session.MessageControl) {
	messageIDBytes, err1 := session.FromB64(msg.MessageID)
	convBytes, err2 := session.FromB64(msg.Conversation)
	fromBytes, err3 := session.FromB64(msg.From)
	sigBytes, err4 := session.FromB64(msg.Signature)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || len(messageIDBytes) != 16 || len(convBytes) != 32 || len(fromBytes) != 32 || len(sigBytes) != crypto.SignatureSize {
		logrus.WithFields(logrus.Fields{
			"function":        "handleMessage",
			"connection_uuid": rec.session.ConnectionUUID,
		}).Warn("Malformed Message control fields, dropping")
		return
	}

	var messageID [16]byte
	copy(messageID[:], messageIDBytes)
	var convHash [32]byte
	copy(convHash[:], convBytes)
	var senderHash [32]byte
	copy(senderHash[:], fromBytes)
	var sig crypto.Signature
	copy(sig[:], sigBytes)

	received, err := m.messages.Receive(convHash, messageID, msg.Date, messaging.Encoding(msg.Encoding), []byte(msg.Content), senderHash, sig, rec.contactUUID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleMessage",
			"contact":  rec.contactUUID,
			"error":    err.Error(),
		}).Warn("Dropping inbound message")
		return
	}

	ackPayload, err := session.EncodeAck(session.AckControl{What: "Message", Status: "Ok", Data: msg.MessageID})
	if err != nil {
		return
	}
	if _, err := rec.session.SendControl(ackPayload); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "handleMessage",
			"message_id": received.ID,
			"error":      err.Error(),
		}).Warn("Failed to send message Ack")
	}
}

func (m *Manager) handleIncomingFile(rec *trackedSession, msg session.IncomingFileControl) {
	fileIDBytes, err1 := session.FromB64(msg.FileID)
	hashBytes, err2 := session.FromB64(msg.Hash)
	if err1 != nil || err2 != nil || len(fileIDBytes) != 16 || len(hashBytes) != 32 {
		logrus.WithFields(logrus.Fields{
			"function":        "handleIncomingFile",
			"connection_uuid": rec.session.ConnectionUUID,
		}).Warn("Malformed IncomingFile control fields, dropping")
		return
	}

	var wireFileID [16]byte
	copy(wireFileID[:], fileIDBytes)
	var hash [32]byte
	copy(hash[:], hashBytes)

	f := file.NewIncoming(uuid.NewString(), "", rec.contactUUID, rec.identityUUID, wireFileID, msg.Name, msg.Size, hash, time.Unix(msg.FileTime, 0))
	registered := m.files.HandleOffer(f)

	m.bus.Publish(events.KindReceivedFileOffer, events.ReceivedFileOffer{
		FileID:           registered.ID,
		ConversationUUID: registered.ConversationID,
		Name:             registered.Name,
		Size:             registered.Size,
	})
}

// SendMessage implements messaging.Sender by dispatching msg as a Message
// control frame over the live session for contactUUID (§4.8 send path).
func (m *Manager) SendMessage(contactUUID string, msg *messaging.Message) error {
	rec, ok := m.findByContact(contactUUID)
	if !ok {
		return fmt.Errorf("manager: no active session for contact %s", contactUUID)
	}

	payload, err := session.EncodeMessage(session.MessageControl{
		MessageID:    session.B64(msg.MessageID[:]),
		Date:         msg.ComposedTime.Unix(),
		Content:      string(msg.Content),
		Encoding:     string(msg.Encoding),
		Conversation: session.B64(msg.ConversationHash[:]),
		From:         session.B64(msg.SenderPubKeyHash[:]),
		Signature:    session.B64(msg.Signature[:]),
	})
	if err != nil {
		return fmt.Errorf("manager: encoding message: %w", err)
	}

	_, err = rec.session.SendControl(payload)
	return err
}

// OfferFile hashes and offers f to contactUUID's session, sending the
// IncomingFile control message once hashing completes (§4.6 sender
// path).
func (m *Manager) OfferFile(contactUUID string, f *file.File) error {
	rec, ok := m.findByContact(contactUUID)
	if !ok {
		return fmt.Errorf("manager: no active session for contact %s", contactUUID)
	}

	errCh := m.files.Offer(f)
	go func() {
		if err := <-errCh; err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "OfferFile",
				"file_id":  f.ID,
				"error":    err.Error(),
			}).Warn("Hashing failed, file offer aborted")
			return
		}

		payload, err := session.EncodeIncomingFile(session.IncomingFileControl{
			FileID:   session.B64(f.FileID[:]),
			Name:     f.Name,
			Size:     f.Size,
			Hash:     session.B64(f.Hash[:]),
			FileTime: f.FileTime.Unix(),
		})
		if err != nil {
			return
		}
		if _, err := rec.session.SendControl(payload); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "OfferFile",
				"file_id":  f.ID,
				"error":    err.Error(),
			}).Warn("Failed to send file offer")
		}
	}()
	return nil
}

// AcceptFile accepts a pending incoming offer, assigning it a channel and
// telling the sender which channel to stream on (§4.6 Decision: Accept).
func (m *Manager) AcceptFile(contactUUID string, f *file.File) (uint32, error) {
	rec, ok := m.findByContact(contactUUID)
	if !ok {
		return 0, fmt.Errorf("manager: no active session for contact %s", contactUUID)
	}

	channel, err := m.files.Accept(f)
	if err != nil {
		return 0, err
	}

	ackPayload, err := session.EncodeAck(session.AckControl{
		What:   "IncomingFile",
		Status: "Accepted",
		Data:   fileAcceptPayload(channel, f.FileID),
	})
	if err != nil {
		return channel, nil
	}
	if _, err := rec.session.SendControl(ackPayload); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "AcceptFile",
			"file_id":  f.ID,
			"error":    err.Error(),
		}).Warn("Failed to acknowledge file acceptance")
	}
	return channel, nil
}

// pumpFile streams an outgoing file's chunks over its assigned channel,
// pacing sends on the transport's write-buffer-drained signal (§5
// Backpressure).
func (m *Manager) pumpFile(wireFileID [16]byte) {
	f, ok := m.files.FileByWireID(wireFileID)
	if !ok {
		return
	}

	rec, ok := m.findByContact(f.ContactID)
	if !ok {
		return
	}

	drained := make(chan struct{}, 1)
	rec.session.OnWriteDrained(func() {
		select {
		case drained <- struct{}{}:
		default:
		}
	})

	for {
		chunk, err := m.files.ReadChunk(f, limits.MaxFileChunk)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "pumpFile",
				"file_id":  f.ID,
				"error":    err.Error(),
			}).Warn("Failed reading outgoing file chunk")
			return
		}
		if len(chunk) == 0 {
			_ = f.Complete()
			ackPayload, err := session.EncodeAck(session.AckControl{
				What:   "IncomingFile",
				Status: "Ok",
				Data:   session.B64(f.FileID[:]),
			})
			if err != nil {
				return
			}
			if _, err := rec.session.SendControl(ackPayload); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "pumpFile",
					"file_id":  f.ID,
					"error":    err.Error(),
				}).Warn("Failed to send file completion ack")
			}
			return
		}
		if _, err := rec.session.Send(f.Channel, chunk); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "pumpFile",
				"file_id":  f.ID,
				"error":    err.Error(),
			}).Warn("Failed sending outgoing file chunk")
			return
		}
		<-drained
	}
}

func (m *Manager) findByContact(contactUUID string) (*trackedSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byContact[contactUUID]
	return rec, ok
}

// Close closes every tracked session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*session.PeerSession, 0, len(m.byConn))
	for _, rec := range m.byConn {
		sessions = append(sessions, rec.session)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
