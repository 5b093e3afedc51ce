package events

import "time"

// ConversationAdded is published when a new conversation is created.
type ConversationAdded struct {
	ConversationUUID string
	IdentityUUID      string
}

// ConversationDeleted is published when a conversation is removed.
type ConversationDeleted struct {
	ConversationUUID string
}

// MessageAdded is published when a message (outgoing or incoming) is
// persisted.
type MessageAdded struct {
	ConversationUUID string
	MessageID        string
	Incoming         bool
}

// MessageDeleted is published when a message is removed.
type MessageDeleted struct {
	ConversationUUID string
	MessageID        string
}

// MessageReceivedDateChanged is published when an outgoing message's
// sent_received_time is stamped after the peer acknowledges it.
type MessageReceivedDateChanged struct {
	ConversationUUID  string
	MessageID         string
	SentReceivedTime  time.Time
}

// FileStateChanged is published on every file state transition.
type FileStateChanged struct {
	FileID   string
	OldState string
	NewState string
	Reason   string
}

// BytesTransferredChanged is published at most once per
// limits.ProgressFlushIntervalMillis while a file transfer is in progress,
// and always on state change and when the last byte arrives.
type BytesTransferredChanged struct {
	FileID           string
	BytesTransferred int64
	Size             int64
}

// IncomingPeer is published when the protocol manager accepts a new
// inbound connection and its handshake completes against a known contact.
type IncomingPeer struct {
	ConnectionUUID string
	ContactUUID    string
}

// PeerDisconnected is published when a peer session's connection closes,
// for any reason.
type PeerDisconnected struct {
	ConnectionUUID string
	ContactUUID    string
	Reason         string
}

// ReceivedMessage is published when an inbound chat message's signature
// has verified and it has been persisted.
type ReceivedMessage struct {
	ConversationUUID string
	MessageID        string
}

// ReceivedAck is published when a peer's Ack control message is received.
type ReceivedAck struct {
	ConnectionUUID string
	What           string
	Status         string
	Data           string
}

// AddMeRequest is published when an AddMe control message arrives from a
// public key that has no pending contact request yet.
type AddMeRequest struct {
	PubKey  [32]byte
	Nick    string
	Message string
	Address string
}

// ReceivedFileOffer is published when an inbound IncomingFile control
// message creates a new File{direction=INCOMING, state=OFFERED}.
type ReceivedFileOffer struct {
	FileID           string
	ConversationUUID string
	Name             string
	Size             int64
}
