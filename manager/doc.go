// Package manager implements the protocol manager (§4.7): it binds
// listeners for local identities, dials outbound connections to
// contacts, drives each connection's handshake, tracks live
// session.PeerSession values by connection id and by (identity, contact)
// pair, resolves duplicate connections, enforces the handshake and idle
// timeouts, and decodes each session's control channel into calls on the
// contact, messaging, and file collaborators — surfacing the resulting
// higher-level events on the shared bus.
package manager
