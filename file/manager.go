package file

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/opd-ai/dschat/events"
	"github.com/opd-ai/dschat/limits"
	"github.com/sirupsen/logrus"
)

// ProgressFlushInterval throttles bytesTransferredChanged events to once
// per interval per file, regardless of chunk arrival rate.
const ProgressFlushInterval = limits.ProgressFlushIntervalMillis * time.Millisecond

// hashWorkers bounds the number of files hashed concurrently in the
// background so a burst of large incoming files cannot starve the
// reactor goroutine of CPU.
const hashWorkers = 4

// Manager tracks every File of the sessions it serves (the Engine shares
// one Manager across all of its sessions), allocates per-file channel ids
// from a single counter, and runs hashing on a fixed worker pool so the
// caller's reactor goroutine is never blocked on disk or CPU work.
type Manager struct {
	mu          sync.Mutex
	files       map[string]*File   // by File.ID
	byWireID    map[[16]byte]*File // by wire FileID, for offer dedup (§6 Idempotence)
	byChannel   map[uint32]*File   // by session channel id, for inbound chunk routing
	nextChannel uint32
	lastFlush   map[string]time.Time
	bus         *events.Bus
	hashTasks   chan hashTask
	hashWG      sync.WaitGroup
	partDir     string
}

type hashTask struct {
	file     *File
	partPath string
}

// NewManager creates a Manager that publishes state and progress events
// to bus, writing incoming .part files under partDir.
func NewManager(bus *events.Bus, partDir string) *Manager {
	m := &Manager{
		files:       make(map[string]*File),
		byWireID:    make(map[[16]byte]*File),
		byChannel:   make(map[uint32]*File),
		nextChannel: 1,
		lastFlush:   make(map[string]time.Time),
		bus:         bus,
		hashTasks:   make(chan hashTask, 64),
		partDir:     partDir,
	}

	for i := 0; i < hashWorkers; i++ {
		m.hashWG.Add(1)
		go m.hashWorker()
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewManager",
		"workers":  hashWorkers,
	}).Info("File transfer manager started")

	return m
}

// Close stops the hashing worker pool. Outstanding tasks are drained
// before returning.
func (m *Manager) Close() {
	close(m.hashTasks)
	m.hashWG.Wait()
}

// Offer registers an outgoing File, hashes it on the worker pool, and on
// success transitions it to OFFERED. The returned channel carries the
// eventual error, if any; callers that only need the side effects may
// discard it.
func (m *Manager) Offer(f *File) <-chan error {
	m.register(f)
	f.transition(StateHashing, "")

	result := make(chan error, 1)
	f.OnStateChanged(func(old, new State, reason string) {
		m.publishStateChanged(f, old, new, reason)
	})
	f.OnProgress(func(transferred, size int64) { m.publishProgress(f, transferred, size, false) })

	go func() {
		hash, err := hashFile(f.Path)
		if err != nil {
			f.transition(StateFailed, err.Error())
			result <- err
			return
		}
		f.Hash = hash
		result <- f.Offer()
	}()
	return result
}

// HandleOffer registers a File built from a received IncomingFile
// control message (§4.4). A re-offer of a wire file-id already known in
// a terminal state is dropped per §6's idempotence rule, returning the
// existing File.
func (m *Manager) HandleOffer(f *File) *File {
	m.mu.Lock()
	if existing, ok := m.byWireID[f.FileID]; ok {
		m.mu.Unlock()
		if existing.State().IsTerminal() {
			logrus.WithFields(logrus.Fields{
				"function": "HandleOffer",
				"file_id":  existing.ID,
			}).Debug("Dropping duplicate offer for terminally-resolved file")
			return existing
		}
		return existing
	}
	m.mu.Unlock()

	m.register(f)
	f.OnStateChanged(func(old, new State, reason string) {
		m.publishStateChanged(f, old, new, reason)
	})
	f.OnProgress(func(transferred, size int64) { m.publishProgress(f, transferred, size, false) })
	return f
}

func (m *Manager) register(f *File) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.ID] = f
	m.byWireID[f.FileID] = f
}

// Accept assigns the next unique channel id and moves an incoming offer
// to QUEUED then TRANSFERRING (§4.6 Decision: Accept). Channel ids are
// unique among currently-transferring files within the session
// (invariant c).
func (m *Manager) Accept(f *File) (uint32, error) {
	m.mu.Lock()
	channel := m.nextChannel
	m.nextChannel++
	m.mu.Unlock()

	if err := f.Accept(channel); err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.byChannel[channel] = f
	m.mu.Unlock()
	return channel, nil
}

// SetChannel records the channel id the receiver assigned to an outgoing
// transfer once its Ack{what:"IncomingFile", status:"Accepted"} arrives
// and moves the file from OFFERED through QUEUED to TRANSFERRING, so
// subsequent chunks are addressed correctly and inbound routing by
// channel (there is none for an outgoing file, but symmetry keeps the
// index complete) is consistent.
func (m *Manager) SetChannel(wireFileID [16]byte, channel uint32) error {
	m.mu.Lock()
	f, ok := m.byWireID[wireFileID]
	m.mu.Unlock()
	if !ok {
		return ErrFileNotFound
	}
	if err := f.Accept(channel); err != nil {
		return err
	}

	m.mu.Lock()
	m.byChannel[channel] = f
	m.mu.Unlock()
	return nil
}

// FileByChannel looks up the File currently assigned to a session
// channel, used to route inbound chunk frames (§4.7).
func (m *Manager) FileByChannel(channel uint32) (*File, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.byChannel[channel]
	return f, ok
}

// ResolveDestination picks the on-disk path for an accepted incoming
// file under destDir, probing name(1).ext .. name(500).ext if name
// already exists (§4.6 Filename collision on receive).
func (m *Manager) ResolveDestination(f *File, destDir string) (string, error) {
	base := filepath.Join(destDir, f.Name)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		f.Path = base
		return base, nil
	}

	ext := filepath.Ext(f.Name)
	stem := strings.TrimSuffix(f.Name, ext)
	for n := 1; n <= limits.MaxFilenameCollisionAttempts; n++ {
		candidate := filepath.Join(destDir, fmt.Sprintf("%s(%d)%s", stem, n, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			f.Path = candidate
			return candidate, nil
		}
	}

	f.transition(StateFailed, "exhausted filename collision attempts")
	return "", fmt.Errorf("file: exhausted %d filename collision attempts for %q", limits.MaxFilenameCollisionAttempts, f.Name)
}

func (m *Manager) partPath(f *File) string {
	return f.Path + ".part"
}

// WriteChunk appends a received chunk to the .part file, advances
// bytes_transferred, and once complete queues the file for background
// hashing (§4.6 Receiver path).
func (m *Manager) WriteChunk(f *File, data []byte) error {
	handle, err := f.Handle(m.partPath(f))
	if err != nil {
		return err
	}
	if _, err := handle.Write(data); err != nil {
		return fmt.Errorf("file: writing chunk: %w", err)
	}
	if err := f.AppendBytes(int64(len(data))); err != nil {
		return err
	}

	if f.BytesTransferred == f.Size {
		if err := f.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "WriteChunk",
				"file_id":  f.ID,
				"error":    err.Error(),
			}).Warn("Error closing .part handle before hashing")
		}
		if err := f.BeginHashing(); err != nil {
			return err
		}
		m.hashTasks <- hashTask{file: f, partPath: m.partPath(f)}
	}
	return nil
}

// ReadChunk reads up to maxLen bytes for an outgoing transfer and
// advances bytes_transferred. Once the file is exhausted it returns an
// empty chunk and a nil error.
func (m *Manager) ReadChunk(f *File, maxLen int) ([]byte, error) {
	handle, err := f.Handle("")
	if err != nil {
		return nil, err
	}

	buf := make([]byte, maxLen)
	n, err := handle.Read(buf)
	if n > 0 {
		if appendErr := f.AppendBytes(int64(n)); appendErr != nil {
			return nil, appendErr
		}
	}
	if err == io.EOF {
		return buf[:n], nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: reading chunk: %w", err)
	}
	return buf[:n], nil
}

func (m *Manager) hashWorker() {
	defer m.hashWG.Done()
	for task := range m.hashTasks {
		hash, err := hashFile(task.partPath)
		if err != nil {
			task.file.transition(StateFailed, err.Error())
			continue
		}

		// A verified file is renamed into place before FinishHashing moves
		// it to DONE, so the final path exists once DONE is observable.
		if hash == task.file.Hash {
			finalPath := strings.TrimSuffix(task.partPath, ".part")
			if err := os.Rename(task.partPath, finalPath); err != nil {
				task.file.transition(StateFailed, fmt.Sprintf("renaming temp file: %v", err))
				continue
			}
		}

		if finErr := task.file.FinishHashing(hash); finErr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "hashWorker",
				"file_id":  task.file.ID,
				"error":    finErr.Error(),
			}).Debug("Hash result dropped; file left HASHING by a racing cancel")
			continue
		}
	}
}

func hashFile(path string) ([32]byte, error) {
	var out [32]byte
	f, err := os.Open(path)
	if err != nil {
		return out, fmt.Errorf("file: opening for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return out, fmt.Errorf("file: hashing: %w", err)
	}
	copy(out[:], h.Sum(nil))
	return out, nil
}

func (m *Manager) publishStateChanged(f *File, old, new State, reason string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.KindFileStateChanged, events.FileStateChanged{
		FileID:   f.ID,
		OldState: old.String(),
		NewState: new.String(),
		Reason:   reason,
	})

	// A state change always flushes the current byte count too (§4.6),
	// regardless of the throttle governing ordinary progress updates.
	m.publishProgress(f, f.BytesTransferred, f.Size, true)
}

func (m *Manager) publishProgress(f *File, transferred, size int64, force bool) {
	if m.bus == nil {
		return
	}

	m.mu.Lock()
	last, seen := m.lastFlush[f.ID]
	now := time.Now()
	flush := force || !seen || now.Sub(last) >= ProgressFlushInterval || transferred == size
	if flush {
		m.lastFlush[f.ID] = now
	}
	m.mu.Unlock()

	if !flush {
		return
	}
	m.bus.Publish(events.KindBytesTransferredChanged, events.BytesTransferredChanged{
		FileID:           f.ID,
		BytesTransferred: transferred,
		Size:             size,
	})
}

// ErrFileNotFound indicates an Ack or offer referenced a wire file-id this
// manager has no record of.
var ErrFileNotFound = fmt.Errorf("file: no transfer for given wire file id")

// HandleAck applies a peer's Ack{what:"IncomingFile", status, data:file-id}
// to the outgoing transfer it concludes (§4.6 sender path).
func (m *Manager) HandleAck(wireFileID [16]byte, status string) error {
	m.mu.Lock()
	f, ok := m.byWireID[wireFileID]
	m.mu.Unlock()
	if !ok {
		return ErrFileNotFound
	}
	return f.Finalize(status)
}

// FileByWireID looks up a tracked file by its wire FileID.
func (m *Manager) FileByWireID(wireFileID [16]byte) (*File, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.byWireID[wireFileID]
	return f, ok
}

// File looks up a tracked file by its local id.
func (m *Manager) File(id string) (*File, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	return f, ok
}

// nextChannelID is exposed for tests asserting channel-id monotonicity
// without racing Accept.
func (m *Manager) nextChannelID() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextChannel
}
