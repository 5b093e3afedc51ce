// Package dschat implements the protocol core of a Tor-routed,
// end-to-end-encrypted peer-to-peer chat and file-transfer client: mutual
// identity-proof handshakes, an authenticated stream-cipher transport, a
// JSON control channel for messages and file offers, and the persistence
// and event-bus collaborators that tie them to a host application.
//
// Engine is the top-level facade: it owns one local Identity, wires the
// protocol manager to a Tor collaborator and a persistence Store, and
// exposes Listen/Dial/SendMessage/OfferFile/AcceptFile as its public
// surface. Everything else in this module is a collaborator Engine wires
// together; most callers only need this package and store.
package dschat
