package file

import (
	cryptorand "crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Direction indicates whether a File is being sent or received.
type Direction uint8

const (
	DirectionIncoming Direction = iota
	DirectionOutgoing
)

func (d Direction) String() string {
	if d == DirectionOutgoing {
		return "outgoing"
	}
	return "incoming"
}

// State is a position in the file-transfer state machine (§4.6).
type State uint8

const (
	StateCreated State = iota
	StateHashing
	StateOffered
	StateQueued
	StateTransferring
	StateDone
	StateFailed
	StateRejected
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateHashing:
		return "HASHING"
	case StateOffered:
		return "OFFERED"
	case StateQueued:
		return "QUEUED"
	case StateTransferring:
		return "TRANSFERRING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	case StateRejected:
		return "REJECTED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether s is one of the state machine's terminal
// states, after which no further transition is permitted.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed || s == StateRejected || s == StateCancelled
}

var (
	ErrDirectoryTraversal = errors.New("file: path contains directory traversal")
	ErrAlreadyTerminal    = errors.New("file: transfer already in a terminal state")
	ErrNotOffered         = errors.New("file: transfer is not in OFFERED state")
	ErrNotTransferring    = errors.New("file: transfer is not in TRANSFERRING state")
	ErrBytesExceedSize    = errors.New("file: bytes_transferred would exceed declared size")
)

// TimeProvider abstracts time for deterministic progress-flush tests.
type TimeProvider interface {
	Now() time.Time
}

type defaultTimeProviderT struct{}

func (defaultTimeProviderT) Now() time.Time { return time.Now() }

var defaultTimeProvider TimeProvider = defaultTimeProviderT{}

// File is one transfer's identity, declared metadata, and progress,
// guarded by its own mutex since the reactor goroutine and a background
// hashing worker both touch it (§4.6, §4.7 cancellation note).
type File struct {
	mu sync.Mutex

	ID               string
	Direction        Direction
	ConversationID   string
	ContactID        string
	IdentityID       string
	FileID           [16]byte // random wire identifier, distinct from ID
	Name             string
	Path             string
	Size             int64
	Hash             [32]byte
	FileTime         time.Time
	CreatedTime      time.Time
	AckTime          time.Time
	BytesTransferred int64
	state            State
	Channel          uint32

	handle       *os.File
	failReason   string
	timeProvider TimeProvider

	onStateChanged func(old, new State, reason string)
	onProgress     func(bytesTransferred, size int64)
}

// NewOutgoing creates a File for a local path not yet hashed (§4.6 Offer).
func NewOutgoing(id, conversationID, contactID, identityID, path string) (*File, error) {
	safePath, err := validatePath(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(safePath)
	if err != nil {
		return nil, fmt.Errorf("file: stat %s: %w", safePath, err)
	}

	var fileID [16]byte
	if _, err := cryptorand.Read(fileID[:]); err != nil {
		return nil, fmt.Errorf("file: generating file id: %w", err)
	}

	f := &File{
		ID:             id,
		Direction:      DirectionOutgoing,
		ConversationID: conversationID,
		ContactID:      contactID,
		IdentityID:     identityID,
		FileID:         fileID,
		Name:           filepath.Base(safePath),
		Path:           safePath,
		Size:           info.Size(),
		FileTime:       info.ModTime(),
		CreatedTime:    time.Now(),
		state:          StateCreated,
		timeProvider:   defaultTimeProvider,
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewOutgoing",
		"file_id":  f.ID,
		"name":     f.Name,
		"size":     f.Size,
	}).Info("Created outgoing file transfer")

	return f, nil
}

// NewIncoming creates a File from a received IncomingFile offer (§4.4,
// §4.6). Its on-disk path is left unset; Manager.ResolveDestination picks
// it on accept.
func NewIncoming(id, conversationID, contactID, identityID string, wireFileID [16]byte, name string, size int64, hash [32]byte, fileTime time.Time) *File {
	f := &File{
		ID:             id,
		Direction:      DirectionIncoming,
		ConversationID: conversationID,
		ContactID:      contactID,
		IdentityID:     identityID,
		FileID:         wireFileID,
		Name:           name,
		Size:           size,
		Hash:           hash,
		FileTime:       fileTime,
		CreatedTime:    time.Now(),
		state:          StateOffered,
		timeProvider:   defaultTimeProvider,
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewIncoming",
		"file_id":  f.ID,
		"name":     f.Name,
		"size":     f.Size,
	}).Info("Created incoming file offer")

	return f
}

// OnStateChanged registers a callback fired on every state transition.
func (f *File) OnStateChanged(fn func(old, new State, reason string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onStateChanged = fn
}

// OnProgress registers a callback fired whenever bytes are appended.
func (f *File) OnProgress(fn func(bytesTransferred, size int64)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onProgress = fn
}

// State returns the current state under lock.
func (f *File) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// FailReason returns the human-readable reason recorded for a FAILED,
// REJECTED, or CANCELLED transition.
func (f *File) FailReason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failReason
}

// transition moves the file to newState, invoking the callback outside
// the lock. Invariant (b) of §1: once terminal, no further transition.
func (f *File) transition(newState State, reason string) error {
	f.mu.Lock()
	if f.state.IsTerminal() {
		f.mu.Unlock()
		return ErrAlreadyTerminal
	}
	old := f.state
	f.state = newState
	cb := f.onStateChanged
	f.failReason = reason
	f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "transition",
		"file_id":  f.ID,
		"old":      old.String(),
		"new":      newState.String(),
		"reason":   reason,
	}).Debug("File transfer state transition")

	if cb != nil {
		cb(old, newState, reason)
	}
	return nil
}

// Offer moves CREATED/HASHING -> OFFERED after a successful local hash.
// An incoming File already starts in OFFERED from NewIncoming; calling
// Offer on it records an OFFERED -> OFFERED transition and fires the
// state-change callback.
func (f *File) Offer() error {
	return f.transition(StateOffered, "")
}

// Reject moves OFFERED -> REJECTED (§4.6 Decision: Reject).
func (f *File) Reject() error {
	f.mu.Lock()
	if f.state != StateOffered {
		f.mu.Unlock()
		return ErrNotOffered
	}
	f.mu.Unlock()
	return f.transition(StateRejected, "rejected by recipient")
}

// Accept moves OFFERED -> QUEUED and records the session-assigned
// channel id (§4.6 Decision: Accept), then QUEUED -> TRANSFERRING once
// the channel is open.
func (f *File) Accept(channel uint32) error {
	f.mu.Lock()
	if f.state != StateOffered {
		f.mu.Unlock()
		return ErrNotOffered
	}
	f.Channel = channel
	f.mu.Unlock()

	if err := f.transition(StateQueued, ""); err != nil {
		return err
	}
	return f.transition(StateTransferring, "")
}

// AppendBytes records n more transferred bytes and fires the progress
// callback. Invariant (a): 0 <= bytes_transferred <= size.
func (f *File) AppendBytes(n int64) error {
	f.mu.Lock()
	if f.state != StateTransferring {
		f.mu.Unlock()
		return ErrNotTransferring
	}
	next := f.BytesTransferred + n
	if next > f.Size {
		f.mu.Unlock()
		return ErrBytesExceedSize
	}
	f.BytesTransferred = next
	cb := f.onProgress
	size := f.Size
	f.mu.Unlock()

	if cb != nil {
		cb(next, size)
	}
	return nil
}

// Complete marks an outgoing transfer DONE once all bytes have been
// written to the wire (§4.6 Sender path — no hashing on send).
func (f *File) Complete() error {
	return f.transition(StateDone, "")
}

// BeginHashing moves TRANSFERRING -> HASHING for an incoming file once
// bytes_transferred == size (§4.6 Receiver path).
func (f *File) BeginHashing() error {
	f.mu.Lock()
	if f.state != StateTransferring {
		f.mu.Unlock()
		return ErrNotTransferring
	}
	f.mu.Unlock()
	return f.transition(StateHashing, "")
}

// FinishHashing resolves a HASHING incoming file by comparing computed
// against declared hash; on mismatch it fails with the exact reason
// string the original implementation surfaces to the user.
func (f *File) FinishHashing(computed [32]byte) error {
	f.mu.Lock()
	if f.state != StateHashing {
		f.mu.Unlock()
		return fmt.Errorf("file: FinishHashing called outside HASHING state (got %s)", f.state)
	}
	f.mu.Unlock()

	if computed != f.Hash {
		return f.transition(StateFailed, "Hash from peer and hash from received file mismatch")
	}
	return f.transition(StateDone, "")
}

// Cancel implements §4.6/§4.7's cancellation rules: a no-op once
// terminal, equivalent to a "Cancelled" failure while transferring, and
// a direct CANCELLED transition otherwise.
func (f *File) Cancel() error {
	f.mu.Lock()
	if f.state.IsTerminal() {
		f.mu.Unlock()
		return nil
	}
	transferring := f.state == StateTransferring
	f.mu.Unlock()

	if transferring {
		return f.transition(StateFailed, "Cancelled")
	}
	return f.transition(StateCancelled, "")
}

// Finalize applies a peer's terminal Ack{what:"IncomingFile", ...} status
// to an outgoing transfer awaiting confirmation (§4.6 sender path): "Ok"
// completes it, any other status fails/cancels/rejects it to match the
// peer's decision.
func (f *File) Finalize(status string) error {
	switch status {
	case "Ok":
		return f.Complete()
	case "Rejected":
		return f.transition(StateRejected, "rejected by peer")
	case "Abort":
		return f.transition(StateCancelled, "aborted by peer")
	default:
		return f.transition(StateFailed, fmt.Sprintf("peer reported status %q", status))
	}
}

// AckStatus maps a terminal state to the Ack control message's status
// field (§4.4): "Rejected", "Abort", or "Failed". Returns "" for
// non-terminal or DONE states, which carry no failure Ack.
func (f *File) AckStatus() string {
	switch f.State() {
	case StateRejected:
		return "Rejected"
	case StateCancelled:
		return "Abort"
	case StateFailed:
		return "Failed"
	default:
		return ""
	}
}

// Close releases the underlying file handle, if any.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handle == nil {
		return nil
	}
	err := f.handle.Close()
	f.handle = nil
	return err
}

// Handle returns the current OS file handle, opening it lazily in
// write mode for incoming transfers at partPath, or read mode for
// outgoing transfers from Path.
func (f *File) Handle(partPath string) (*os.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handle != nil {
		return f.handle, nil
	}

	var err error
	if f.Direction == DirectionOutgoing {
		f.handle, err = os.Open(f.Path)
	} else {
		f.handle, err = os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
	if err != nil {
		return nil, fmt.Errorf("file: opening handle: %w", err)
	}
	return f.handle, nil
}

func validatePath(path string) (string, error) {
	cleaned := filepath.Clean(path)
	for _, part := range strings.Split(cleaned, string(filepath.Separator)) {
		if part == ".." {
			return "", ErrDirectoryTraversal
		}
	}
	return cleaned, nil
}
