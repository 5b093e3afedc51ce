// Package crypto implements the cryptographic primitives used by the peer
// protocol: Ed25519 identity signing and a stateful, authenticated stream
// cipher used to encrypt each direction of a peer session independently.
//
// # Core Types
//
//   - [IdentityKeyPair]: Ed25519 signing keypair for a local identity.
//   - [Signature]: a raw Ed25519 signature.
//   - [EncryptStream] / [DecryptStream]: the two halves of the
//     secretstream-style authenticated stream construction used to encrypt
//     and decrypt the length and payload frames of a peer session.
//
// # Signing
//
//	kp, _ := crypto.GenerateIdentityKeyPair()
//	sig, _ := crypto.Sign(message, kp.Private)
//	ok, _ := crypto.Verify(message, sig, kp.Public)
//
// # Stream encryption
//
//	enc, _ := crypto.NewEncryptStream(key)
//	header := enc.Header()
//	ciphertext := enc.Push(plaintext, crypto.TagMessage)
//
//	dec, _ := crypto.NewDecryptStream(key, header)
//	plaintext, tag, _ := dec.Pull(ciphertext)
//
// # Secure memory handling
//
// Sensitive byte slices (private keys, stream keys) should be wiped with
// [ZeroBytes] once no longer needed.
package crypto
