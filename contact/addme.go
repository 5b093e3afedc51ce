package contact

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AddMeRequest is a pending contact request: a HELLO arrived carrying a
// public key not present in the receiving identity's contact set, and
// the peer followed up with an AddMe control message over the resulting
// session before it closed. A request is purely a record for the UI to
// approve or deny.
type AddMeRequest struct {
	PubKey     [32]byte
	Nick       string
	Message    string
	Address    string
	ReceivedAt time.Time
}

var (
	// ErrRequestNotFound indicates no pending request exists for the
	// given public key.
	ErrRequestNotFound = errors.New("contact: no pending request for public key")
)

// AddMeManager tracks pending contact requests for one local identity.
type AddMeManager struct {
	mu       sync.Mutex
	pending  map[[32]byte]*AddMeRequest
	onNewReq func(*AddMeRequest)
}

// NewAddMeManager creates an empty AddMeManager.
func NewAddMeManager() *AddMeManager {
	return &AddMeManager{pending: make(map[[32]byte]*AddMeRequest)}
}

// OnNewRequest registers a callback invoked once per new incoming request
// (not for a re-send from the same public key while one is pending).
func (m *AddMeManager) OnNewRequest(fn func(*AddMeRequest)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onNewReq = fn
}

// HandleIncoming records a contact request emitted by the handshake when it
// found HELLO's pubkey unknown (§4.3, §8 scenario 2). A re-send from a
// pubkey already pending replaces the nick/message but does not fire
// OnNewRequest again.
func (m *AddMeManager) HandleIncoming(pubKey [32]byte, nick, message, address string) *AddMeRequest {
	m.mu.Lock()
	existing, alreadyPending := m.pending[pubKey]
	if alreadyPending {
		existing.Nick = nick
		existing.Message = message
		existing.Address = address
		m.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function":   "HandleIncoming",
			"public_key": pubKey[:8],
		}).Debug("Updated existing pending AddMe request")
		return existing
	}

	req := &AddMeRequest{
		PubKey:     pubKey,
		Nick:       nick,
		Message:    message,
		Address:    address,
		ReceivedAt: time.Now(),
	}
	m.pending[pubKey] = req
	cb := m.onNewReq
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "HandleIncoming",
		"public_key": pubKey[:8],
		"nick":       nick,
	}).Info("New AddMe request pending")

	if cb != nil {
		cb(req)
	}
	return req
}

// Pending returns every unresolved request.
func (m *AddMeManager) Pending() []*AddMeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*AddMeRequest, 0, len(m.pending))
	for _, req := range m.pending {
		out = append(out, req)
	}
	return out
}

// Accept removes and returns the pending request for pubKey so the caller
// can create the resulting Contact. Returns ErrRequestNotFound if none is
// pending.
func (m *AddMeManager) Accept(pubKey [32]byte) (*AddMeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.pending[pubKey]
	if !ok {
		return nil, ErrRequestNotFound
	}
	delete(m.pending, pubKey)

	logrus.WithFields(logrus.Fields{
		"function":   "Accept",
		"public_key": pubKey[:8],
	}).Info("AddMe request accepted")
	return req, nil
}

// Reject discards the pending request for pubKey. Returns
// ErrRequestNotFound if none is pending.
func (m *AddMeManager) Reject(pubKey [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[pubKey]; !ok {
		return ErrRequestNotFound
	}
	delete(m.pending, pubKey)

	logrus.WithFields(logrus.Fields{
		"function":   "Reject",
		"public_key": pubKey[:8],
	}).Info("AddMe request rejected")
	return nil
}
