package limits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateChunkPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		wantErr error
	}{
		{name: "empty", payload: []byte{}, wantErr: ErrPayloadEmpty},
		{name: "nil", payload: nil, wantErr: ErrPayloadEmpty},
		{name: "small", payload: []byte("hi!\n"), wantErr: nil},
		{name: "at limit", payload: make([]byte, MaxFileChunk), wantErr: nil},
		{name: "over limit", payload: make([]byte, MaxFileChunk+1), wantErr: ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChunkPayload(tt.payload)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateControlPayload(t *testing.T) {
	assert.ErrorIs(t, ValidateControlPayload(nil), ErrPayloadEmpty)
	assert.NoError(t, ValidateControlPayload([]byte(`{"type":"Ack"}`)))
	assert.ErrorIs(t, ValidateControlPayload(make([]byte, MaxControlPayload+1)), ErrPayloadTooLarge)
}

func TestValidateInputBuffer(t *testing.T) {
	assert.NoError(t, ValidateInputBuffer(make([]byte, InputBufferCap)))
	assert.ErrorIs(t, ValidateInputBuffer(make([]byte, InputBufferCap+1)), ErrPayloadTooLarge)
}

func TestHandshakeSizeConstants(t *testing.T) {
	// version(1) + tx_key(32) + tx_header(24) + initiator_pubkey(32) + signature(64)
	assert.Equal(t, 153, HelloSize)
	// version(1) + tx_key(32) + tx_header(24) + signature(64)
	assert.Equal(t, 121, OllehSize)
}

func TestConstantConsistency(t *testing.T) {
	assert.Greater(t, InputBufferCap, MaxFileChunk)
	assert.Greater(t, MaxChunkPlaintext, MaxFileChunk)
	assert.Equal(t, 13, FrameHeaderSize)
}
