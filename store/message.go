package store

import (
	"encoding/json"

	"github.com/opd-ai/dschat/messaging"
)

const messagePrefix = "message:"

// SaveMessage implements messaging.MessageStore.
func (s *Store) SaveMessage(m *messaging.Message) error {
	return s.put(messagePrefix+m.ConversationID+":"+m.ID, m)
}

// ListMessages returns every message persisted for conversationUUID, in
// storage key order (sorted by message id; since message ids are random
// the ordering is not chronological; callers that need chronological order
// should sort on ComposedTime).
func (s *Store) ListMessages(conversationUUID string) ([]*messaging.Message, error) {
	var out []*messaging.Message
	err := s.scanPrefix(messagePrefix+conversationUUID+":", func(_ string, val []byte) error {
		var m messaging.Message
		if err := json.Unmarshal(val, &m); err != nil {
			return err
		}
		out = append(out, &m)
		return nil
	})
	return out, err
}
