package store

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/opd-ai/dschat/contact"
)

const (
	contactPrefix      = "contact:"
	contactPubKeyIndex = "contact_pubkey:"
)

type contactRecord struct {
	UUID               string
	IdentityUUID       string
	Name               string
	RemotePubKey       string // hex
	RemoteOnionAddress string
}

func pubKeyIndexKey(identityUUID string, pubKey [32]byte) string {
	return contactPubKeyIndex + identityUUID + ":" + hex.EncodeToString(pubKey[:])
}

// SaveContact persists c and refreshes its (identity, pubkey) -> contact
// index entry, used by ResolveByPubKey to answer an inbound HELLO.
func (s *Store) SaveContact(c *contact.Contact) error {
	rec := contactRecord{
		UUID:               c.UUID,
		IdentityUUID:       c.IdentityUUID,
		Name:               c.Name,
		RemotePubKey:       hex.EncodeToString(c.RemotePubKey[:]),
		RemoteOnionAddress: c.RemoteOnionAddress,
	}
	recData, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encoding contact %s: %w", c.UUID, err)
	}
	idxData, err := json.Marshal(c.UUID)
	if err != nil {
		return fmt.Errorf("store: encoding contact index %s: %w", c.UUID, err)
	}

	// The record and its index entry are written in one transaction.
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(contactPrefix+c.UUID), recData); err != nil {
			return err
		}
		return txn.Set([]byte(pubKeyIndexKey(c.IdentityUUID, c.RemotePubKey)), idxData)
	})
}

// Contact loads a contact by uuid. Implements manager.ContactStore.
func (s *Store) Contact(contactUUID string) (*contact.Contact, error) {
	var rec contactRecord
	if err := s.get(contactPrefix+contactUUID, &rec); err != nil {
		return nil, err
	}
	return contactFromRecord(rec)
}

// RemotePublicKey implements messaging.ContactResolver.
func (s *Store) RemotePublicKey(contactUUID string) ([32]byte, error) {
	c, err := s.Contact(contactUUID)
	if err != nil {
		return [32]byte{}, err
	}
	return c.RemotePubKey, nil
}

// ResolveByPubKey answers whether identityUUID already trusts pubKey, and
// if so under which contact uuid. Implements manager.ContactStore.
func (s *Store) ResolveByPubKey(identityUUID string, pubKey [32]byte) (string, bool) {
	var contactUUID string
	if err := s.get(pubKeyIndexKey(identityUUID, pubKey), &contactUUID); err != nil {
		return "", false
	}
	return contactUUID, true
}

// ListContactsByIdentity returns every contact belonging to identityUUID.
func (s *Store) ListContactsByIdentity(identityUUID string) ([]*contact.Contact, error) {
	var out []*contact.Contact
	err := s.scanPrefix(contactPrefix, func(_ string, val []byte) error {
		var rec contactRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		if rec.IdentityUUID != identityUUID {
			return nil
		}
		c, err := contactFromRecord(rec)
		if err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

func contactFromRecord(rec contactRecord) (*contact.Contact, error) {
	pubKeyBytes, err := hex.DecodeString(rec.RemotePubKey)
	if err != nil || len(pubKeyBytes) != 32 {
		return nil, fmt.Errorf("store: decoding contact %s pubkey: %w", rec.UUID, err)
	}
	var pubKey [32]byte
	copy(pubKey[:], pubKeyBytes)

	return contact.New(rec.UUID, rec.IdentityUUID, rec.Name, pubKey, rec.RemoteOnionAddress), nil
}
