// Package transport implements the length-prefixed byte pipe over a
// reliable stream socket (§4.1) and the Tor SOCKS5 dialer used to reach
// onion-addressed peers.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/opd-ai/dschat/limits"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Write calls made after Close.
var ErrClosed = errors.New("transport: closed")

// FramedTransport is a thin wrapper over a connected net.Conn: writes are
// queued and flushed on a dedicated goroutine, and reads are pulled exactly
// N bytes at a time on demand via WantBytes/OnHaveBytes. WantBytes never
// blocks; Write blocks only while 64 earlier writes are still queued.
type FramedTransport struct {
	conn net.Conn

	mu           sync.Mutex
	inputBuf     []byte
	wantN        int
	pendingBytes int
	closed       bool

	onHaveBytes     func([]byte)
	onBufferEmptied func()
	onDisconnected  func()
	onFailed        func(error)

	writeCh chan []byte
	closeCh chan struct{}
}

// New wraps conn. Call Start to begin the read/write loops.
func New(conn net.Conn) *FramedTransport {
	return &FramedTransport{
		conn:    conn,
		writeCh: make(chan []byte, 64),
		closeCh: make(chan struct{}),
	}
}

// OnHaveBytes registers the callback invoked exactly once per satisfied
// WantBytes call, with a slice of exactly the requested length.
func (t *FramedTransport) OnHaveBytes(cb func([]byte)) {
	t.mu.Lock()
	t.onHaveBytes = cb
	t.mu.Unlock()
}

// OnBufferEmptied registers the callback invoked when the write queue
// drains to zero after having been non-empty.
func (t *FramedTransport) OnBufferEmptied(cb func()) {
	t.mu.Lock()
	t.onBufferEmptied = cb
	t.mu.Unlock()
}

// OnDisconnected registers the callback invoked when the peer closes the
// connection cleanly (read returns io.EOF).
func (t *FramedTransport) OnDisconnected(cb func()) {
	t.mu.Lock()
	t.onDisconnected = cb
	t.mu.Unlock()
}

// OnFailed registers the callback invoked on any fatal transport error:
// an unexpected socket error or an input buffer overflow.
func (t *FramedTransport) OnFailed(cb func(error)) {
	t.mu.Lock()
	t.onFailed = cb
	t.mu.Unlock()
}

// Start launches the read and write loops. Callbacks may be registered or
// replaced before or after Start.
func (t *FramedTransport) Start() {
	go t.readLoop()
	go t.writeLoop()
}

// Write appends b to the output queue and returns; the actual socket
// write happens on the write loop. The queue holds 64 writes: once that
// many are waiting, Write blocks until the write loop takes one or the
// transport closes.
func (t *FramedTransport) Write(b []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.pendingBytes += len(b)
	t.mu.Unlock()

	select {
	case t.writeCh <- b:
		return nil
	case <-t.closeCh:
		return ErrClosed
	}
}

// WantBytes declares that exactly n bytes should be read before
// OnHaveBytes fires. If the input buffer already holds n or more bytes,
// OnHaveBytes fires synchronously from within this call (or from the read
// loop, if the bytes are still in flight).
func (t *FramedTransport) WantBytes(n int) {
	t.mu.Lock()
	t.wantN = n
	t.mu.Unlock()
	t.drainWants()
}

func (t *FramedTransport) drainWants() {
	for {
		t.mu.Lock()
		if t.closed || t.wantN <= 0 || len(t.inputBuf) < t.wantN {
			t.mu.Unlock()
			return
		}

		want := t.wantN
		chunk := make([]byte, want)
		copy(chunk, t.inputBuf[:want])
		t.inputBuf = t.inputBuf[want:]
		t.wantN = 0
		cb := t.onHaveBytes
		t.mu.Unlock()

		if cb != nil {
			cb(chunk)
		}
	}
}

func (t *FramedTransport) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			t.mu.Lock()
			t.inputBuf = append(t.inputBuf, buf[:n]...)
			overflowed := len(t.inputBuf) > limits.InputBufferCap
			t.mu.Unlock()

			if overflowed {
				t.fail(fmt.Errorf("transport: %w", limits.ErrPayloadTooLarge))
				return
			}
			t.drainWants()
		}
		if err != nil {
			t.handleReadError(err)
			return
		}
	}
}

func (t *FramedTransport) handleReadError(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	disconnected := t.onDisconnected
	failed := t.onFailed
	t.mu.Unlock()

	close(t.closeCh)
	t.conn.Close()

	if errors.Is(err, io.EOF) {
		logrus.WithField("function", "FramedTransport.readLoop").Debug("Peer closed connection")
		if disconnected != nil {
			disconnected()
		}
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "FramedTransport.readLoop",
		"error":    err.Error(),
	}).Warn("Transport read failed")
	if failed != nil {
		failed(err)
	}
}

func (t *FramedTransport) writeLoop() {
	for {
		select {
		case b := <-t.writeCh:
			_, err := t.conn.Write(b)
			t.mu.Lock()
			t.pendingBytes -= len(b)
			emptied := t.pendingBytes == 0
			cb := t.onBufferEmptied
			t.mu.Unlock()

			if err != nil {
				t.fail(err)
				return
			}
			if emptied && cb != nil {
				cb()
			}
		case <-t.closeCh:
			return
		}
	}
}

func (t *FramedTransport) fail(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	cb := t.onFailed
	t.mu.Unlock()

	close(t.closeCh)
	t.conn.Close()

	if cb != nil {
		cb(err)
	}
}

// Close closes the underlying connection and stops the read/write loops.
func (t *FramedTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.closeCh)
	return t.conn.Close()
}
