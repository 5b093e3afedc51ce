package store

import (
	"encoding/hex"

	"github.com/opd-ai/dschat/messaging"
)

const conversationPrefix = "conversation:"

// SaveConversation implements messaging.Store.
func (s *Store) SaveConversation(c *messaging.Conversation) error {
	return s.put(conversationPrefix+hex.EncodeToString(c.Hash[:]), c)
}

// LoadConversationByHash implements messaging.Store.
func (s *Store) LoadConversationByHash(hash [32]byte) (*messaging.Conversation, error) {
	var conv messaging.Conversation
	if err := s.get(conversationPrefix+hex.EncodeToString(hash[:]), &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}
