// Package store implements the persistence collaborator (§6): CRUD on
// Identity, Contact, Conversation, Message, and File records, each public
// mutation atomic under a single embedded key-value database. Store
// satisfies messaging.Store, messaging.MessageStore,
// messaging.ContactResolver, and manager.ContactStore directly, so the
// engine wires one concrete value everywhere a persistence collaborator
// is expected.
package store
