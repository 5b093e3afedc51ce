package contact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleIncomingCreatesNewRequestAndFiresCallback(t *testing.T) {
	m := NewAddMeManager()

	var fired *AddMeRequest
	m.OnNewRequest(func(r *AddMeRequest) { fired = r })

	pub := [32]byte{1}
	req := m.HandleIncoming(pub, "Dave", "let's chat", "davexyz.onion")

	require.NotNil(t, req)
	assert.Equal(t, pub, req.PubKey)
	assert.Equal(t, "Dave", req.Nick)
	require.NotNil(t, fired)
	assert.Equal(t, req, fired)
	assert.Len(t, m.Pending(), 1)
}

func TestHandleIncomingResendUpdatesWithoutRefiringCallback(t *testing.T) {
	m := NewAddMeManager()

	fireCount := 0
	m.OnNewRequest(func(*AddMeRequest) { fireCount++ })

	pub := [32]byte{2}
	m.HandleIncoming(pub, "Eve", "hi", "evexyz.onion")
	req := m.HandleIncoming(pub, "Eve2", "hi again", "evexyz.onion")

	assert.Equal(t, 1, fireCount)
	assert.Equal(t, "Eve2", req.Nick)
	assert.Equal(t, "hi again", req.Message)
	assert.Len(t, m.Pending(), 1)
}

func TestAcceptRemovesPendingRequest(t *testing.T) {
	m := NewAddMeManager()
	pub := [32]byte{3}
	m.HandleIncoming(pub, "Frank", "", "frankxyz.onion")

	req, err := m.Accept(pub)
	require.NoError(t, err)
	assert.Equal(t, pub, req.PubKey)
	assert.Empty(t, m.Pending())
}

func TestAcceptUnknownPubKeyFails(t *testing.T) {
	m := NewAddMeManager()
	_, err := m.Accept([32]byte{99})
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestRejectRemovesPendingRequest(t *testing.T) {
	m := NewAddMeManager()
	pub := [32]byte{4}
	m.HandleIncoming(pub, "Grace", "", "gracexyz.onion")

	require.NoError(t, m.Reject(pub))
	assert.Empty(t, m.Pending())
}

func TestRejectUnknownPubKeyFails(t *testing.T) {
	m := NewAddMeManager()
	assert.ErrorIs(t, m.Reject([32]byte{99}), ErrRequestNotFound)
}
