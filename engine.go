package dschat

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/opd-ai/dschat/contact"
	"github.com/opd-ai/dschat/crypto"
	"github.com/opd-ai/dschat/events"
	"github.com/opd-ai/dschat/file"
	"github.com/opd-ai/dschat/manager"
	"github.com/opd-ai/dschat/messaging"
	"github.com/opd-ai/dschat/session"
	"github.com/opd-ai/dschat/store"
	"github.com/opd-ai/dschat/transport"
	"github.com/sirupsen/logrus"
)

// Engine is the top-level facade of the protocol core: one local
// Identity wired to a protocol Manager, a persistence Store, and the
// message/file/conversation collaborators layered on top of it.
type Engine struct {
	identity *contact.Identity
	config   *Config

	store         *store.Store
	bus           *events.Bus
	manager       *manager.Manager
	messages      *messaging.Manager
	files         *file.Manager
	conversations *messaging.ConversationManager
	addMe         *contact.AddMeManager
}

// NewEngine wires every collaborator for identity: a protocol Manager
// bound to dialer/hsController, a Store-backed conversation cache, a
// message manager, and a file-transfer manager. Messaging and the
// protocol manager are mutually dependent (manager.Manager.SendMessage
// implements messaging.Sender; messaging.Manager resolves contacts and
// persists through Store), so construction happens in two steps: the
// manager first with messaging left nil, then SetMessages once the
// messaging.Manager exists.
func NewEngine(cfg *Config, identity *contact.Identity, st *store.Store, hsController transport.HiddenServiceController, dialer transport.ManagerDialer) (*Engine, error) {
	bus := events.NewBus()
	addMe := contact.NewAddMeManager()
	filesMgr := file.NewManager(bus, cfg.ReceiveDir)

	convMgr, err := messaging.NewConversationManagerSize(st, cfg.ConversationCacheSize)
	if err != nil {
		return nil, fmt.Errorf("dschat: constructing conversation manager: %w", err)
	}

	protoMgr := manager.NewManager(dialer, hsController, st, addMe, nil, filesMgr, bus)
	protoMgr.SetHandshakeTimeout(cfg.HandshakeTimeout)
	protoMgr.SetIdleTimeout(cfg.IdleTimeout)
	protoMgr.SetRetryPolicy(cfg.OutboundRetryBaseDelay, cfg.OutboundRetryMaxAttempts)

	msgMgr := messaging.NewManager(convMgr, st, protoMgr, bus, st)
	protoMgr.SetMessages(msgMgr)

	logrus.WithFields(logrus.Fields{
		"function": "NewEngine",
		"identity": identity.UUID,
	}).Info("Protocol engine constructed")

	return &Engine{
		identity:      identity,
		config:        cfg,
		store:         st,
		bus:           bus,
		manager:       protoMgr,
		messages:      msgMgr,
		files:         filesMgr,
		conversations: convMgr,
		addMe:         addMe,
	}, nil
}

// Events returns the bus every state-change and receive notification is
// published on.
func (e *Engine) Events() *events.Bus { return e.bus }

// AddMeRequests returns the pending-contact-request collaborator, for a
// caller UI to list, accept, or reject inbound requests.
func (e *Engine) AddMeRequests() *contact.AddMeManager { return e.addMe }

// Listen provisions (if needed) and binds a hidden service for the
// engine's identity, accepting inbound peer connections in the
// background.
func (e *Engine) Listen() error {
	return e.manager.Listen(e.identity)
}

// Dial establishes an outbound session to ct, retrying transient
// failures per the configured outbound retry policy.
func (e *Engine) Dial(ct *contact.Contact) (*session.PeerSession, error) {
	return e.manager.Dial(e.identity, ct)
}

// conversationWith returns the (identity, ct) conversation, creating and
// persisting one on first contact.
func (e *Engine) conversationWith(ct *contact.Contact) (*messaging.Conversation, error) {
	hash := messaging.ConversationHash(e.identity.SigningKeyPair.Public, ct.RemotePubKey)

	conv, err := e.conversations.Get(hash)
	if err == nil {
		return conv, nil
	}

	conv = &messaging.Conversation{
		UUID:                   uuid.NewString(),
		IdentityUUID:           e.identity.UUID,
		ParticipantContactUUID: ct.UUID,
		Hash:                   hash,
	}
	if err := e.conversations.Put(conv); err != nil {
		return nil, fmt.Errorf("dschat: creating conversation with %s: %w", ct.UUID, err)
	}
	return conv, nil
}

// SendMessage signs and sends content to ct over its live session,
// creating the conversation on first contact.
func (e *Engine) SendMessage(ct *contact.Contact, encoding messaging.Encoding, content []byte) (*messaging.Message, error) {
	conv, err := e.conversationWith(ct)
	if err != nil {
		return nil, err
	}
	return e.messages.Send(conv, e.identity.SigningKeyPair, encoding, content)
}

// OfferFile begins offering the local file at path to ct: hashing runs
// in the background and the IncomingFile control message is sent once
// it completes.
func (e *Engine) OfferFile(ct *contact.Contact, path string) (*file.File, error) {
	conv, err := e.conversationWith(ct)
	if err != nil {
		return nil, err
	}

	f, err := file.NewOutgoing(uuid.NewString(), conv.UUID, ct.UUID, e.identity.UUID, path)
	if err != nil {
		return nil, err
	}
	if err := e.manager.OfferFile(ct.UUID, f); err != nil {
		return nil, err
	}
	return f, nil
}

// AcceptFile resolves an on-disk destination for f under the engine's
// configured receive directory, assigns it a channel, and tells ct's
// session to begin streaming.
func (e *Engine) AcceptFile(ct *contact.Contact, f *file.File) (uint32, error) {
	if _, err := e.files.ResolveDestination(f, e.config.ReceiveDir); err != nil {
		return 0, err
	}
	return e.manager.AcceptFile(ct.UUID, f)
}

// RejectFile declines a pending incoming offer.
func (e *Engine) RejectFile(f *file.File) error {
	return f.Reject()
}

// Files returns the file-transfer collaborator, for callers that need
// direct lookup (by channel, by id) outside the offer/accept path.
func (e *Engine) Files() *file.Manager { return e.files }

// Close shuts down every live session and the file-transfer worker pool.
// The persistence Store is owned by the caller and is not closed here.
func (e *Engine) Close() {
	e.manager.Close()
	e.files.Close()
	if err := crypto.WipeKeyPair(e.identity.SigningKeyPair); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"identity": e.identity.UUID,
			"error":    err.Error(),
		}).Warn("Failed to wipe identity signing key on shutdown")
	}
}
