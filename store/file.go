package store

import (
	"encoding/json"
	"time"

	"github.com/opd-ai/dschat/file"
)

const filePrefix = "file:"

// FileRecord is a File's persisted snapshot (§6: "CRUD on ... File by
// uuid/id"). File itself is not (de)serializable directly: its state
// machine is only ever advanced through its own transition methods, so a
// loaded FileRecord is history, not a live, resumable transfer.
type FileRecord struct {
	ID               string
	Direction        string
	ConversationID   string
	ContactID        string
	IdentityID       string
	Name             string
	Path             string
	Size             int64
	FileTime         time.Time
	CreatedTime      time.Time
	BytesTransferred int64
	State            string
	FailReason       string
}

func recordFromFile(f *file.File) FileRecord {
	direction := "OUTGOING"
	if f.Direction == file.DirectionIncoming {
		direction = "INCOMING"
	}
	return FileRecord{
		ID:               f.ID,
		Direction:        direction,
		ConversationID:   f.ConversationID,
		ContactID:        f.ContactID,
		IdentityID:       f.IdentityID,
		Name:             f.Name,
		Path:             f.Path,
		Size:             f.Size,
		FileTime:         f.FileTime,
		CreatedTime:      f.CreatedTime,
		BytesTransferred: f.BytesTransferred,
		State:            f.State().String(),
		FailReason:       f.FailReason(),
	}
}

// SaveFile persists a snapshot of f's current metadata and state.
func (s *Store) SaveFile(f *file.File) error {
	return s.put(filePrefix+f.ID, recordFromFile(f))
}

// LoadFile returns the last-saved snapshot for a file id, or ErrNotFound.
func (s *Store) LoadFile(id string) (*FileRecord, error) {
	var rec FileRecord
	if err := s.get(filePrefix+id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListFilesByConversation returns every persisted file snapshot belonging
// to conversationUUID.
func (s *Store) ListFilesByConversation(conversationUUID string) ([]*FileRecord, error) {
	var out []*FileRecord
	err := s.scanPrefix(filePrefix, func(_ string, val []byte) error {
		var rec FileRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		if rec.ConversationID != conversationUUID {
			return nil
		}
		out = append(out, &rec)
		return nil
	})
	return out, err
}
