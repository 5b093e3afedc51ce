package store

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/opd-ai/dschat/contact"
	"github.com/opd-ai/dschat/crypto"
)

const identityPrefix = "identity:"

// identityRecord is Identity's on-disk shape: the seed, not the derived
// keypair, since that is all IdentityKeyPairFromSeed needs to reconstruct
// it.
type identityRecord struct {
	UUID                 string
	LocalName            string
	PrivateSeed          string // hex
	HiddenServiceAddress string
}

// SaveIdentity persists identity's seed and onion address.
func (s *Store) SaveIdentity(identity *contact.Identity) error {
	rec := identityRecord{
		UUID:                 identity.UUID,
		LocalName:            identity.LocalName,
		PrivateSeed:          hex.EncodeToString(identity.SigningKeyPair.Private[:]),
		HiddenServiceAddress: identity.HiddenServiceAddress,
	}
	return s.put(identityPrefix+identity.UUID, rec)
}

// LoadIdentity reconstructs an Identity by uuid, or ErrNotFound.
func (s *Store) LoadIdentity(uuid string) (*contact.Identity, error) {
	var rec identityRecord
	if err := s.get(identityPrefix+uuid, &rec); err != nil {
		return nil, err
	}
	return identityFromRecord(rec)
}

// ListIdentities returns every persisted local identity.
func (s *Store) ListIdentities() ([]*contact.Identity, error) {
	var out []*contact.Identity
	err := s.scanPrefix(identityPrefix, func(_ string, val []byte) error {
		var rec identityRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		identity, err := identityFromRecord(rec)
		if err != nil {
			return err
		}
		out = append(out, identity)
		return nil
	})
	return out, err
}

func identityFromRecord(rec identityRecord) (*contact.Identity, error) {
	seedBytes, err := hex.DecodeString(rec.PrivateSeed)
	if err != nil || len(seedBytes) != 32 {
		return nil, fmt.Errorf("store: decoding identity %s seed: %w", rec.UUID, err)
	}
	defer crypto.ZeroBytes(seedBytes)
	var seed [32]byte
	copy(seed[:], seedBytes)
	defer crypto.ZeroBytes(seed[:])

	keyPair, err := crypto.IdentityKeyPairFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("store: deriving identity %s keypair: %w", rec.UUID, err)
	}

	return &contact.Identity{
		UUID:                 rec.UUID,
		LocalName:            rec.LocalName,
		SigningKeyPair:       keyPair,
		HiddenServiceAddress: rec.HiddenServiceAddress,
	}, nil
}
