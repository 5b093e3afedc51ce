package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateIdentityKeyPair()
	require.NoError(t, err)

	message := []byte("conversation-hash||message-id||composed-time||encoding||content")
	sig, err := Sign(message, kp.Private)
	require.NoError(t, err)

	ok, err := Verify(message, sig, kp.Public)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	kp, err := GenerateIdentityKeyPair()
	require.NoError(t, err)

	sig, err := Sign([]byte("hello"), kp.Private)
	require.NoError(t, err)

	ok, err := Verify([]byte("hellp"), sig, kp.Public)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	kp1, err := GenerateIdentityKeyPair()
	require.NoError(t, err)
	kp2, err := GenerateIdentityKeyPair()
	require.NoError(t, err)

	sig, err := Sign([]byte("hello"), kp1.Private)
	require.NoError(t, err)

	ok, err := Verify([]byte("hello"), sig, kp2.Public)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignRejectsEmptyMessage(t *testing.T) {
	kp, err := GenerateIdentityKeyPair()
	require.NoError(t, err)

	_, err = Sign(nil, kp.Private)
	assert.Error(t, err)
}
