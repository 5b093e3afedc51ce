package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/dschat/crypto"
	"github.com/opd-ai/dschat/events"
	"github.com/sirupsen/logrus"
)

// ErrUnknownMessage indicates an Ack referenced a message-id this manager
// has no record of sending.
var ErrUnknownMessage = fmt.Errorf("messaging: no outgoing message for given id")

// Sender abstracts the protocol manager's ability to deliver a control
// message to the peer session for a given contact (§4.8 send path:
// "asks the protocol manager to send over the peer session for this
// conversation's contact"). Kept minimal so this package does not
// import session/manager directly.
type Sender interface {
	SendMessage(contactUUID string, msg *Message) error
}

// ContactResolver looks up a known contact's trusted public key, used
// to verify inbound message signatures (§4.8 receive path).
type ContactResolver interface {
	RemotePublicKey(contactUUID string) ([32]byte, error)
}

// MessageStore is the persistence collaborator for Message CRUD (§6).
type MessageStore interface {
	SaveMessage(m *Message) error
}

// Manager implements the send and receive paths of §4.8: signing and
// persisting outgoing messages, and verifying and persisting inbound
// ones, publishing events for both.
type Manager struct {
	conversations *ConversationManager
	contacts      ContactResolver
	sender        Sender
	bus           *events.Bus
	messageStore  MessageStore

	mu          sync.Mutex
	pendingSent map[string]*Message // by Message.ID, awaiting Ack{what:"Message"}
}

// NewManager constructs a Manager.
func NewManager(conversations *ConversationManager, contacts ContactResolver, sender Sender, bus *events.Bus, messageStore MessageStore) *Manager {
	return &Manager{
		conversations: conversations,
		contacts:      contacts,
		sender:        sender,
		bus:           bus,
		messageStore:  messageStore,
		pendingSent:   make(map[string]*Message),
	}
}

// Send implements the outgoing path: stamp, sign, persist, dispatch
// (§4.8 "Message send path (outgoing)").
func (m *Manager) Send(conv *Conversation, signingKey *crypto.IdentityKeyPair, encoding Encoding, content []byte) (*Message, error) {
	senderHash := crypto.HashPubKey(signingKey.Public)

	msg, err := NewOutgoing(conv.UUID, conv.Hash, senderHash, encoding, content, signingKey)
	if err != nil {
		return nil, err
	}

	if err := m.messageStore.SaveMessage(msg); err != nil {
		return nil, fmt.Errorf("messaging: persisting outgoing message: %w", err)
	}

	if err := m.sender.SendMessage(conv.ParticipantContactUUID, msg); err != nil {
		return nil, fmt.Errorf("messaging: dispatching message: %w", err)
	}

	m.mu.Lock()
	m.pendingSent[msg.ID] = msg
	m.mu.Unlock()

	m.bus.Publish(events.KindMessageAdded, events.MessageAdded{
		ConversationUUID: conv.UUID,
		MessageID:        msg.ID,
		Incoming:         false,
	})

	logrus.WithFields(logrus.Fields{
		"function":        "Send",
		"conversation_id": conv.UUID,
		"message_id":      msg.ID,
	}).Info("Sent chat message")

	return msg, nil
}

// AckDelivered is called on receiving Ack{what:"Message", status:"Ok"}
// for an outgoing message, completing §4.8's send path.
func (m *Manager) AckDelivered(msg *Message) {
	msg.MarkDelivered()
	m.bus.Publish(events.KindMessageReceivedDateChanged, events.MessageReceivedDateChanged{
		ConversationUUID: msg.ConversationID,
		MessageID:        msg.ID,
		SentReceivedTime: msg.SentReceivedTime,
	})
}

// Ack resolves Ack{what:"Message", status:"Ok", data:message_id} against
// the matching pending outgoing message (§4.8 send path completion).
func (m *Manager) Ack(messageID string) error {
	m.mu.Lock()
	msg, ok := m.pendingSent[messageID]
	if ok {
		delete(m.pendingSent, messageID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrUnknownMessage
	}
	m.AckDelivered(msg)
	return nil
}

// Receive implements the incoming path (§4.8 "Message receive path
// (incoming)"): look up the conversation by hash, verify the signature
// against the contact's known public key, drop on failure, otherwise
// persist and publish.
func (m *Manager) Receive(conversationHash [32]byte, messageID [16]byte, composedUnixSeconds int64, encoding Encoding, content []byte, senderPubKeyHash [32]byte, sig crypto.Signature, contactUUID string) (*Message, error) {
	conv, err := m.conversations.Get(conversationHash)
	if err != nil {
		return nil, fmt.Errorf("messaging: %w", ErrUnknownConversation)
	}

	remotePub, err := m.contacts.RemotePublicKey(contactUUID)
	if err != nil {
		return nil, fmt.Errorf("messaging: resolving contact public key: %w", err)
	}

	composed := time.Unix(composedUnixSeconds, 0)
	if err := Verify(conversationHash, messageID, composed, encoding, content, sig, remotePub); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "Receive",
			"conversation_id": conv.UUID,
		}).Warn("Dropping inbound message with invalid signature")
		return nil, err
	}

	msg := &Message{
		ID:               fmt.Sprintf("%x", messageID),
		ConversationID:   conv.UUID,
		ConversationHash: conversationHash,
		Direction:        DirectionIncoming,
		ComposedTime:     composed,
		Encoding:         encoding,
		Content:          content,
		SenderPubKeyHash: senderPubKeyHash,
		MessageID:        messageID,
		Signature:        sig,
	}
	msg.MarkDelivered()

	if err := m.messageStore.SaveMessage(msg); err != nil {
		return nil, fmt.Errorf("messaging: persisting inbound message: %w", err)
	}

	m.bus.Publish(events.KindMessageAdded, events.MessageAdded{
		ConversationUUID: conv.UUID,
		MessageID:        msg.ID,
		Incoming:         true,
	})
	m.bus.Publish(events.KindReceivedMessage, events.ReceivedMessage{
		ConversationUUID: conv.UUID,
		MessageID:        msg.ID,
	})

	return msg, nil
}
