package messaging

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/dschat/crypto"
	"github.com/sirupsen/logrus"
)

// Encoding names the text encoding of a Message's content, carried on
// the wire verbatim (§4.4, §4.8).
type Encoding string

const (
	EncodingUSASCII Encoding = "us-ascii"
	EncodingUTF8    Encoding = "utf-8"
)

// Direction indicates which side of a conversation originated a
// Message.
type Direction uint8

const (
	DirectionOutgoing Direction = iota
	DirectionIncoming
)

var (
	ErrEmptyContent        = errors.New("messaging: content cannot be empty")
	ErrSignatureMismatch   = errors.New("messaging: signature does not verify against sender public key")
	ErrUnknownConversation = errors.New("messaging: no conversation for hash")
)

// Message is one signed chat message (§1 Message, §4.8).
type Message struct {
	ID               string
	ConversationID   string
	ConversationHash [32]byte
	Direction        Direction
	ComposedTime     time.Time
	SentReceivedTime time.Time
	Encoding         Encoding
	Content          []byte
	SenderPubKeyHash [32]byte
	MessageID        [16]byte
	Signature        crypto.Signature
}

// canonicalBytes builds the exact byte sequence signatures cover:
// conversation_hash || message_id || composed_time(be64) || encoding_name || content
// (§1 Message, §7 canonical-bytes property).
func canonicalBytes(conversationHash [32]byte, messageID [16]byte, composedTime time.Time, encoding Encoding, content []byte) []byte {
	buf := make([]byte, 0, 32+16+8+len(encoding)+len(content))
	buf = append(buf, conversationHash[:]...)
	buf = append(buf, messageID[:]...)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(composedTime.Unix()))
	buf = append(buf, ts[:]...)

	buf = append(buf, []byte(encoding)...)
	buf = append(buf, content...)
	return buf
}

// NewOutgoing builds and signs a Message for sending (§4.8 send path).
// senderPubKeyHash is the hash of the local identity's public key;
// conversationHash identifies the conversation deterministically from
// both participants' public keys.
func NewOutgoing(conversationID string, conversationHash [32]byte, senderPubKeyHash [32]byte, encoding Encoding, content []byte, signingKey *crypto.IdentityKeyPair) (*Message, error) {
	if len(content) == 0 {
		return nil, ErrEmptyContent
	}

	var messageID [16]byte
	if _, err := rand.Read(messageID[:]); err != nil {
		return nil, fmt.Errorf("messaging: generating message id: %w", err)
	}

	composed := time.Now()
	sig, err := crypto.Sign(canonicalBytes(conversationHash, messageID, composed, encoding, content), signingKey.Private)
	if err != nil {
		return nil, fmt.Errorf("messaging: signing message: %w", err)
	}

	msg := &Message{
		ID:               fmt.Sprintf("%x", messageID),
		ConversationID:   conversationID,
		ConversationHash: conversationHash,
		Direction:        DirectionOutgoing,
		ComposedTime:     composed,
		Encoding:         encoding,
		Content:          content,
		SenderPubKeyHash: senderPubKeyHash,
		MessageID:        messageID,
		Signature:        sig,
	}

	logrus.WithFields(logrus.Fields{
		"function":        "NewOutgoing",
		"conversation_id": conversationID,
		"message_id":      msg.ID,
		"encoding":        encoding,
	}).Info("Signed outgoing message")

	return msg, nil
}

// Verify checks a received Message's signature against the contact's
// known public key (§1 invariant: "no inbound message is surfaced ...
// until its signature verifies").
func Verify(conversationHash [32]byte, messageID [16]byte, composedTime time.Time, encoding Encoding, content []byte, sig crypto.Signature, senderPubKey [32]byte) error {
	ok, err := crypto.Verify(canonicalBytes(conversationHash, messageID, composedTime, encoding, content), sig, senderPubKey)
	if err != nil {
		return fmt.Errorf("messaging: verifying signature: %w", err)
	}
	if !ok {
		return ErrSignatureMismatch
	}
	return nil
}

// MarkDelivered stamps SentReceivedTime, called on a peer Ack{what:
// "Message", status: "Ok"} for an outgoing message, or immediately on
// receipt for an incoming one (§4.8).
func (m *Message) MarkDelivered() {
	m.SentReceivedTime = time.Now()
}
