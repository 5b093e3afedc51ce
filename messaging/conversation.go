package messaging

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opd-ai/dschat/crypto"
	"github.com/opd-ai/dschat/limits"
	"github.com/sirupsen/logrus"
)

// Conversation is the peer-to-peer pairing of a local identity and a
// contact (§1 Conversation). For this protocol, keyed uniquely by
// participant: at most one Conversation per (identity, contact) pair.
type Conversation struct {
	UUID                   string
	IdentityUUID           string
	ParticipantContactUUID string
	Name                   string
	Topic                  string
	LastActivity           int64 // unix seconds
	Hash                   [32]byte
}

// ConversationHash derives the deterministic, order-independent
// conversation identifier from both participants' public keys (§1
// Message: "the p2p hash is deterministic from the two participants'
// pubkeys").
func ConversationHash(localPubKey, remotePubKey [32]byte) [32]byte {
	return crypto.ConversationHash(localPubKey, remotePubKey)
}

// Store is the persistence collaborator a ConversationManager
// rehydrates from on a cold LRU miss (§6 Persistence: "CRUD on ...
// Conversation ... by uuid/id").
type Store interface {
	LoadConversationByHash(hash [32]byte) (*Conversation, error)
	SaveConversation(c *Conversation) error
}

// ConversationManager keeps a bounded number of conversations resident,
// evicting the least-recently-touched entry and rehydrating from Store
// on a cold access (§4.8 LRU cache).
type ConversationManager struct {
	cache *lru.Cache[[32]byte, *Conversation]
	store Store
}

// NewConversationManager creates a manager backed by store, caching up
// to limits.ConversationCacheSize live conversations.
func NewConversationManager(store Store) (*ConversationManager, error) {
	return NewConversationManagerSize(store, limits.ConversationCacheSize)
}

// NewConversationManagerSize creates a manager backed by store, caching
// up to size live conversations (Config.ConversationCacheSize's wire-up
// point).
func NewConversationManagerSize(store Store, size int) (*ConversationManager, error) {
	cache, err := lru.New[[32]byte, *Conversation](size)
	if err != nil {
		return nil, fmt.Errorf("messaging: constructing conversation LRU: %w", err)
	}
	return &ConversationManager{cache: cache, store: store}, nil
}

// Get returns the conversation for hash, serving from cache on a hit
// (which also touches it to the head) or rehydrating from Store on a
// miss.
func (cm *ConversationManager) Get(hash [32]byte) (*Conversation, error) {
	if conv, ok := cm.cache.Get(hash); ok {
		return conv, nil
	}

	conv, err := cm.store.LoadConversationByHash(hash)
	if err != nil {
		return nil, fmt.Errorf("messaging: loading conversation: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":        "Get",
		"conversation_id": conv.UUID,
	}).Debug("Rehydrated conversation from persistence after cold LRU access")

	cm.cache.Add(hash, conv)
	return conv, nil
}

// Put inserts or refreshes a conversation in both the cache and the
// backing store.
func (cm *ConversationManager) Put(conv *Conversation) error {
	if err := cm.store.SaveConversation(conv); err != nil {
		return fmt.Errorf("messaging: saving conversation: %w", err)
	}
	cm.cache.Add(conv.Hash, conv)
	return nil
}

// Len reports the number of conversations currently resident, for tests
// asserting the LRU bound.
func (cm *ConversationManager) Len() int {
	return cm.cache.Len()
}
