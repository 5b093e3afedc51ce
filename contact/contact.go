package contact

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Contact is a remote peer trusted under a known public key, owned by
// exactly one local Identity. RemotePubKey is the trust root for all
// authentication of this peer: every HELLO/OLLEH signature and every
// chat-message signature from this peer is verified against it.
type Contact struct {
	UUID               string
	IdentityUUID       string
	Name               string
	RemotePubKey       [32]byte
	RemoteOnionAddress string
	Online             bool
	lastSeen           time.Time
	timeProvider       TimeProvider
}

// New creates a Contact owned by identityUUID, trusting remotePubKey at
// remoteOnionAddress.
func New(uuid, identityUUID, name string, remotePubKey [32]byte, remoteOnionAddress string) *Contact {
	return NewWithTimeProvider(uuid, identityUUID, name, remotePubKey, remoteOnionAddress, defaultTimeProvider)
}

// NewWithTimeProvider is New with an injectable clock, for deterministic
// tests of LastSeenDuration.
func NewWithTimeProvider(uuid, identityUUID, name string, remotePubKey [32]byte, remoteOnionAddress string, tp TimeProvider) *Contact {
	if tp == nil {
		tp = defaultTimeProvider
	}

	logrus.WithFields(logrus.Fields{
		"function":   "New",
		"uuid":       uuid,
		"public_key": remotePubKey[:8],
	}).Info("Creating new contact")

	return &Contact{
		UUID:               uuid,
		IdentityUUID:       identityUUID,
		Name:               name,
		RemotePubKey:       remotePubKey,
		RemoteOnionAddress: remoteOnionAddress,
		lastSeen:           tp.Now(),
		timeProvider:       tp,
	}
}

// SetOnline updates the contact's online status and, when transitioning to
// offline, stamps the last-seen time.
func (c *Contact) SetOnline(online bool) {
	logrus.WithFields(logrus.Fields{
		"function":   "SetOnline",
		"uuid":       c.UUID,
		"was_online": c.Online,
		"online":     online,
	}).Debug("Setting contact online status")

	c.Online = online
	if !online {
		tp := c.timeProvider
		if tp == nil {
			tp = defaultTimeProvider
		}
		c.lastSeen = tp.Now()
	}
}

// LastSeenDuration returns the duration since the contact was last online.
func (c *Contact) LastSeenDuration() time.Duration {
	tp := c.timeProvider
	if tp == nil {
		tp = defaultTimeProvider
	}
	return tp.Now().Sub(c.lastSeen)
}
