package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opd-ai/dschat/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfferHashesAndTransitionsToOffered(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "a.txt", []byte("hello"))

	bus := events.NewBus()
	mgr := NewManager(bus, dir)
	defer mgr.Close()

	f, err := NewOutgoing("f1", "c1", "ct1", "i1", path)
	require.NoError(t, err)

	select {
	case err := <-mgr.Offer(f):
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for offer to hash")
	}

	assert.Equal(t, StateOffered, f.State())
	assert.NotEqual(t, [32]byte{}, f.Hash)
}

func TestAcceptAssignsIncrementingChannelIds(t *testing.T) {
	bus := events.NewBus()
	mgr := NewManager(bus, t.TempDir())
	defer mgr.Close()

	f1 := NewIncoming("f1", "c1", "ct1", "i1", [16]byte{1}, "a.txt", 4, [32]byte{}, time.Now())
	f2 := NewIncoming("f2", "c1", "ct1", "i1", [16]byte{2}, "b.txt", 4, [32]byte{}, time.Now())
	mgr.HandleOffer(f1)
	mgr.HandleOffer(f2)

	ch1, err := mgr.Accept(f1)
	require.NoError(t, err)
	ch2, err := mgr.Accept(f2)
	require.NoError(t, err)

	assert.NotEqual(t, ch1, ch2)
	assert.Equal(t, uint32(1), ch1)
	assert.Equal(t, uint32(2), ch2)
}

func TestResolveDestinationProbesCollisions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.txt"), []byte("existing"), 0o644))

	bus := events.NewBus()
	mgr := NewManager(bus, dir)
	defer mgr.Close()

	f := NewIncoming("f1", "c1", "ct1", "i1", [16]byte{1}, "x.txt", 4, [32]byte{}, time.Now())
	path, err := mgr.ResolveDestination(f, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "x(1).txt"), path)
}

func TestWriteChunkCompletesAndHashesIncomingFile(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus()
	mgr := NewManager(bus, dir)
	defer mgr.Close()

	content := []byte("hi!\n")
	hash := shaSum(content)

	var lastState events.FileStateChanged
	bus.Subscribe(events.KindFileStateChanged, func(p any) {
		lastState = p.(events.FileStateChanged)
	})

	f := NewIncoming("f1", "c1", "ct1", "i1", [16]byte{1}, "recv.txt", int64(len(content)), hash, time.Now())
	mgr.HandleOffer(f)
	_, err := mgr.Accept(f)
	require.NoError(t, err)

	_, err = mgr.ResolveDestination(f, dir)
	require.NoError(t, err)

	require.NoError(t, mgr.WriteChunk(f, content))

	require.Eventually(t, func() bool {
		return f.State() == StateDone
	}, 2*time.Second, 10*time.Millisecond)

	data, err := os.ReadFile(filepath.Join(dir, "recv.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, data)
	assert.Equal(t, "DONE", lastState.NewState)
}

func shaSum(data []byte) [32]byte {
	tmp, err := os.CreateTemp("", "hashtest-*")
	if err != nil {
		panic(err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		panic(err)
	}
	tmp.Close()

	hash, err := hashFile(tmp.Name())
	if err != nil {
		panic(err)
	}
	return hash
}
