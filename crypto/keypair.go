package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"

	"github.com/sirupsen/logrus"
)

// IdentityKeyPair is the long-term Ed25519 signing identity of a local
// account. Public is the 32-byte Ed25519 public key; Private is the 32-byte
// seed (not the expanded 64-byte Ed25519 private key).
type IdentityKeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateIdentityKeyPair creates a new random Ed25519 identity keypair.
func GenerateIdentityKeyPair() (*IdentityKeyPair, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "GenerateIdentityKeyPair",
		}).Error("Failed to generate Ed25519 keypair")
		return nil, err
	}
	defer ZeroBytes(private)

	kp := &IdentityKeyPair{}
	copy(kp.Public[:], public)
	copy(kp.Private[:], private.Seed())

	logrus.WithFields(logrus.Fields{
		"function":   "GenerateIdentityKeyPair",
		"public_key": kp.Public[:8],
	}).Info("Generated new identity keypair")

	return kp, nil
}

// IdentityKeyPairFromSeed derives a keypair from an existing 32-byte seed.
func IdentityKeyPairFromSeed(seed [32]byte) (*IdentityKeyPair, error) {
	if isZeroKey(seed) {
		return nil, errors.New("invalid seed: all zeros")
	}

	private := ed25519.NewKeyFromSeed(seed[:])
	defer ZeroBytes(private)
	public := private.Public().(ed25519.PublicKey)

	kp := &IdentityKeyPair{Private: seed}
	copy(kp.Public[:], public)
	return kp, nil
}

func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
