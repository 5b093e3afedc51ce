package wire

import (
	"encoding/binary"
	"errors"

	"github.com/opd-ai/dschat/limits"
)

// ErrChunkTooShort indicates a payload frame was too short to contain a
// valid header.
var ErrChunkTooShort = errors.New("wire: chunk shorter than frame header")

// EncodeLengthFrame builds the plaintext length frame: a big-endian u16
// giving the byte length of the payload frame that follows it once
// decrypted.
func EncodeLengthFrame(payloadLen uint16) []byte {
	buf := make([]byte, limits.LengthFrameSize)
	binary.BigEndian.PutUint16(buf, payloadLen)
	return buf
}

// DecodeLengthFrame parses a decrypted length frame.
func DecodeLengthFrame(plaintext []byte) (uint16, error) {
	if len(plaintext) != limits.LengthFrameSize {
		return 0, ErrChunkTooShort
	}
	return binary.BigEndian.Uint16(plaintext), nil
}

// EncodePayloadFrame builds the plaintext payload frame:
// version(1) ‖ channel(4 BE) ‖ request_id(8 BE) ‖ payload.
func EncodePayloadFrame(channel uint32, requestID uint64, payload []byte) []byte {
	buf := make([]byte, limits.FrameHeaderSize+len(payload))
	buf[0] = Version
	binary.BigEndian.PutUint32(buf[1:5], channel)
	binary.BigEndian.PutUint64(buf[5:13], requestID)
	copy(buf[limits.FrameHeaderSize:], payload)
	return buf
}

// DecodePayloadFrame parses a decrypted payload frame, validating the
// version byte.
func DecodePayloadFrame(plaintext []byte) (channel uint32, requestID uint64, payload []byte, err error) {
	if len(plaintext) < limits.FrameHeaderSize {
		return 0, 0, nil, ErrChunkTooShort
	}
	if plaintext[0] != Version {
		return 0, 0, nil, ErrBadVersion
	}

	channel = binary.BigEndian.Uint32(plaintext[1:5])
	requestID = binary.BigEndian.Uint64(plaintext[5:13])
	payload = plaintext[limits.FrameHeaderSize:]
	return channel, requestID, payload, nil
}
