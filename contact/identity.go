// Package contact implements the local identity, remote contact, and
// contact-request (AddMe) types the protocol manager and peer sessions
// consume to authenticate and route connections.
package contact

import "github.com/opd-ai/dschat/crypto"

// Direction records which side of a connection the local identity played.
type Direction uint8

const (
	DirectionOutbound Direction = iota
	DirectionInbound
)

func (d Direction) String() string {
	if d == DirectionInbound {
		return "inbound"
	}
	return "outbound"
}

// Identity is the local user's long-term signing keypair and onion
// service, created once per local account and persisted externally.
type Identity struct {
	UUID                 string
	LocalName            string
	SigningKeyPair       *crypto.IdentityKeyPair
	HiddenServiceAddress string
}

// ConnectData carries the immutable per-session parameters a peer session
// is constructed with: which local identity is speaking, which contact's
// public key authenticates the remote side, and which side dialed.
type ConnectData struct {
	ServiceUUID string
	ContactCert [32]byte
	Direction   Direction
}
