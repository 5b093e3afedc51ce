package crypto

import (
	"crypto/subtle"
	"errors"
	"runtime"
)

// SecureWipe overwrites data with zeros in a way the compiler cannot
// optimize away. Returns an error if data is nil.
func SecureWipe(data []byte) error {
	if data == nil {
		return errors.New("cannot wipe nil data")
	}

	zeros := make([]byte, len(data))
	subtle.ConstantTimeCompare(data, zeros)
	copy(data, zeros)

	runtime.KeepAlive(data)
	runtime.KeepAlive(zeros)

	return nil
}

// ZeroBytes erases data, ignoring any error from SecureWipe. Intended for
// deferred cleanup of key material and stream-cipher keys.
func ZeroBytes(data []byte) {
	_ = SecureWipe(data)
}

// WipeKeyPair securely erases the private key half of kp.
func WipeKeyPair(kp *IdentityKeyPair) error {
	if kp == nil {
		return errors.New("cannot wipe nil keypair")
	}
	return SecureWipe(kp.Private[:])
}
