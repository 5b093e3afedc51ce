// Package session implements PeerSession: the per-connection state
// machine that drives the handshake, then the post-handshake read loop
// (DISABLED -> CHUNK_SIZE -> CHUNK_DATA -> ... -> CLOSING), demultiplexes
// decoded frames onto channels, and decodes control-channel (channel 0)
// JSON messages.
//
// A PeerSession owns exactly one underlying transport.FramedTransport and
// the two independent crypto streams derived from the handshake. All
// mutation of session state is expected to happen on a single reactor
// goroutine; PeerSession does not internally serialize calls beyond what
// is needed to make its callback wiring safe to set up once at
// construction.
package session
