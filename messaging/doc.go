// Package messaging implements the chat-message and conversation model:
// signing and verifying messages, and an LRU-cached registry of
// conversations backed by an external persistence interface.
//
// # Overview
//
//   - Message: one signed chat message, with canonical signing bytes
//     derived from its conversation hash, message id, composed time,
//     encoding, and content.
//   - Conversation: the peer-to-peer pairing of a local identity and a
//     contact.
//   - ConversationManager: keeps a small LRU of resident conversations,
//     rehydrating from the persistence store on a cold access.
//   - Manager: signs outgoing messages and verifies inbound ones,
//     resolving conversations through a ConversationManager.
//
// # Sending
//
//	msg, err := mgr.Send(conv, identityKeyPair, EncodingUTF8, []byte("hello"))
//
// # Receiving
//
//	msg, err := mgr.Receive(convHash, messageID, composedUnix, encoding,
//	    content, senderPubKeyHash, sig, contactUUID)
package messaging
