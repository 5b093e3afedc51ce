package crypto

import "crypto/sha256"

// PubKeyHashSize is the size in bytes of a hashed public key.
const PubKeyHashSize = sha256.Size

// HashPubKey returns the SHA-256 hash of a signing public key. Used as the
// wire identifier for a message sender so the raw public key is never
// transmitted on the control channel.
func HashPubKey(pubKey [32]byte) [PubKeyHashSize]byte {
	return sha256.Sum256(pubKey[:])
}

// ConversationHash derives the deterministic identifier of a
// peer-to-peer conversation from the two participants' public keys. The
// hash is independent of argument order so both sides compute the same
// value regardless of who initiated.
func ConversationHash(a, b [32]byte) [PubKeyHashSize]byte {
	var lo, hi [32]byte
	if lexLess(a, b) {
		lo, hi = a, b
	} else {
		lo, hi = b, a
	}

	h := sha256.New()
	h.Write(lo[:])
	h.Write(hi[:])

	var out [PubKeyHashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// lexLess reports whether a is lexicographically smaller than b. Used both
// for conversation hashing and for the duplicate-connection tie-break in
// the protocol manager.
func lexLess(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// LexLess exposes lexLess for callers outside this package that need the
// same deterministic tie-break (duplicate session resolution, simultaneous
// handshake resolution).
func LexLess(a, b [32]byte) bool {
	return lexLess(a, b)
}
