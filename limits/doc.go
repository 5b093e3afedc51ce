// Package limits centralizes the size constants and validation functions
// shared by the transport, wire, and file-transfer packages, so that a
// limit enforced in one place is never silently different elsewhere.
//
// # Size Hierarchy
//
//   - InputBufferCap (≈256 KiB): the hard cap on a framed transport's
//     unconsumed input buffer; exceeding it is a fatal protocol error.
//   - MaxFileChunk (just under 64 KiB): the upper bound on a single
//     file-transfer chunk payload, sized so that the chunk plus its frame
//     header fits the 16-bit length frame.
//   - MaxControlPayload (64 KiB): the upper bound on a single control
//     channel (JSON) payload.
//
// # Validation
//
//	if err := limits.ValidateChunkPayload(payload); err != nil {
//	    // close the session: Transport error
//	}
package limits
