package wire

import (
	"testing"

	"github.com/opd-ai/dschat/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelloEncodeDecodeRoundTrip(t *testing.T) {
	initiator, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	enc, err := crypto.NewEncryptStream([32]byte{1})
	require.NoError(t, err)

	txKey := [32]byte{7}
	data, err := EncodeHello(txKey, enc.Header(), initiator.Public, initiator.Private)
	require.NoError(t, err)
	assert.Len(t, data, 153)

	hello, err := DecodeHello(data)
	require.NoError(t, err)
	assert.Equal(t, initiator.Public, hello.InitiatorPubKey)
}

func TestHelloRejectsBadVersion(t *testing.T) {
	initiator, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	data, err := EncodeHello([32]byte{}, [24]byte{}, initiator.Public, initiator.Private)
	require.NoError(t, err)
	data[0] = 0x02

	_, err = DecodeHello(data)
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestHelloRejectsTamperedSignature(t *testing.T) {
	initiator, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	data, err := EncodeHello([32]byte{}, [24]byte{}, initiator.Public, initiator.Private)
	require.NoError(t, err)
	data[len(data)-1] ^= 0x01

	_, err = DecodeHello(data)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestHelloRejectsWrongLength(t *testing.T) {
	_, err := DecodeHello(make([]byte, 100))
	assert.ErrorIs(t, err, ErrBadLength)
}

func TestOllehEncodeDecodeRoundTrip(t *testing.T) {
	responder, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	data, err := EncodeOlleh([32]byte{2}, [24]byte{3}, responder.Private)
	require.NoError(t, err)
	assert.Len(t, data, 121)

	olleh, err := DecodeOlleh(data, responder.Public)
	require.NoError(t, err)
	assert.Equal(t, [32]byte{2}, olleh.TxKey)
}

func TestOllehRejectsWrongExpectedKey(t *testing.T) {
	responder, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)
	other, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	data, err := EncodeOlleh([32]byte{}, [24]byte{}, responder.Private)
	require.NoError(t, err)

	_, err = DecodeOlleh(data, other.Public)
	assert.ErrorIs(t, err, ErrBadSignature)
}
