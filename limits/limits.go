package limits

import (
	"errors"
	"fmt"
	"time"
)

const (
	// InputBufferCap is the hard cap on a framed transport's accumulated,
	// unconsumed input buffer. Exceeding it is a fatal protocol error.
	InputBufferCap = 256 * 1024

	// LengthFrameSize is the size in bytes of the plaintext length frame
	// (a big-endian u16) that precedes every payload frame.
	LengthFrameSize = 2

	// FrameHeaderSize is the size in bytes of the plaintext payload frame
	// header: version(1) + channel(4) + request_id(8).
	FrameHeaderSize = 1 + 4 + 8

	// StreamTagOverhead is the number of bytes the stream cipher adds to
	// any plaintext frame it encrypts (Poly1305 tag + 1-byte stream tag).
	StreamTagOverhead = 17

	// MaxFileChunk is the maximum payload size of a single file-transfer
	// chunk: the largest that still fits one payload frame together with
	// its FrameHeaderSize header (just under 64 KiB).
	MaxFileChunk = MaxChunkPlaintext - FrameHeaderSize

	// MaxControlPayload is the maximum plaintext payload size of a single
	// control-channel (JSON) frame.
	MaxControlPayload = 64 * 1024

	// MaxChunkPlaintext is the largest plaintext payload (version + channel
	// + request_id + bytes) a single chunk may carry without overflowing
	// the 16-bit length frame.
	MaxChunkPlaintext = (1<<16 - 1) - StreamTagOverhead

	// HelloSize is the size in bytes of an encoded HELLO handshake message.
	HelloSize = 1 + 32 + 24 + 32 + 64

	// OllehSize is the size in bytes of an encoded OLLEH handshake message.
	OllehSize = 1 + 32 + 24 + 64

	// MaxFilenameCollisionAttempts bounds the "name(N).ext" probing loop
	// used to resolve a filename collision on receive.
	MaxFilenameCollisionAttempts = 500

	// ProgressFlushIntervalMillis is, in milliseconds, the minimum spacing
	// between persisted bytes_transferred updates for a file in progress.
	ProgressFlushIntervalMillis = 700

	// ConversationCacheSize is the default number of conversations kept
	// resident in the LRU cache.
	ConversationCacheSize = 3
)

const (
	// DefaultHandshakeTimeout bounds how long a connection may sit between
	// accept/dial and a completed handshake before the protocol manager
	// closes it (§5 Timeouts).
	DefaultHandshakeTimeout = 30 * time.Second

	// DefaultIdleTimeout is how long a session may see no bytes in either
	// direction before the protocol manager sends a keepalive ack (§5
	// Timeouts).
	DefaultIdleTimeout = 5 * time.Minute

	// DefaultOutboundRetryBaseDelay is the initial backoff delay for a
	// transient outbound-dial failure (§4.7 retry policy).
	DefaultOutboundRetryBaseDelay = 500 * time.Millisecond

	// DefaultOutboundRetryMaxAttempts caps the exponential-backoff retry
	// loop for a transient outbound-dial failure.
	DefaultOutboundRetryMaxAttempts = 5
)

var (
	// ErrPayloadEmpty indicates an empty payload was provided where one
	// was required.
	ErrPayloadEmpty = errors.New("limits: empty payload")

	// ErrPayloadTooLarge indicates a payload exceeds the limit being
	// enforced.
	ErrPayloadTooLarge = errors.New("limits: payload too large")
)

// ValidatePayloadSize validates payload against an arbitrary maxSize,
// returning an error with the actual and maximum sizes on violation.
func ValidatePayloadSize(payload []byte, maxSize int) error {
	if len(payload) == 0 {
		return ErrPayloadEmpty
	}
	if len(payload) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrPayloadTooLarge, len(payload), maxSize)
	}
	return nil
}

// ValidateChunkPayload validates a file-transfer chunk payload against
// MaxFileChunk.
func ValidateChunkPayload(payload []byte) error {
	if len(payload) == 0 {
		return ErrPayloadEmpty
	}
	if len(payload) > MaxFileChunk {
		return fmt.Errorf("%w: chunk size %d exceeds limit %d", ErrPayloadTooLarge, len(payload), MaxFileChunk)
	}
	return nil
}

// ValidateControlPayload validates a control-channel JSON payload against
// MaxControlPayload.
func ValidateControlPayload(payload []byte) error {
	if len(payload) == 0 {
		return ErrPayloadEmpty
	}
	if len(payload) > MaxControlPayload {
		return fmt.Errorf("%w: control payload size %d exceeds limit %d", ErrPayloadTooLarge, len(payload), MaxControlPayload)
	}
	return nil
}

// ValidateInputBuffer validates an accumulated transport input buffer
// against InputBufferCap.
func ValidateInputBuffer(buf []byte) error {
	if len(buf) > InputBufferCap {
		return fmt.Errorf("%w: input buffer size %d exceeds cap %d", ErrPayloadTooLarge, len(buf), InputBufferCap)
	}
	return nil
}
