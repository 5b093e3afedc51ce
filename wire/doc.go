// Package wire implements the on-the-wire encodings of the peer protocol:
// the HELLO/OLLEH handshake messages and the length-prefixed chunk codec
// used once a session's two stream ciphers are established.
//
// Nothing in this package touches a socket; it only encodes and decodes
// byte slices. Transport I/O lives in package transport, and the
// session-level state machine that drives both lives in package session.
package wire
