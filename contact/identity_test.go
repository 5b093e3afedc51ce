package contact

import (
	"testing"

	"github.com/opd-ai/dschat/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "outbound", DirectionOutbound.String())
	assert.Equal(t, "inbound", DirectionInbound.String())
}

func TestIdentityHoldsSigningKeyPair(t *testing.T) {
	kp, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	id := &Identity{
		UUID:                 "id-1",
		LocalName:            "Alice",
		SigningKeyPair:       kp,
		HiddenServiceAddress: "alicexyz.onion",
	}

	assert.Equal(t, kp, id.SigningKeyPair)
	assert.Equal(t, "alicexyz.onion", id.HiddenServiceAddress)
}

func TestConnectDataCarriesDirection(t *testing.T) {
	cd := ConnectData{ServiceUUID: "svc-1", ContactCert: [32]byte{9}, Direction: DirectionInbound}
	assert.Equal(t, DirectionInbound, cd.Direction)
	assert.Equal(t, byte(9), cd.ContactCert[0])
}
