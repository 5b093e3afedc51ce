package events

import "sync"

// Kind discriminates the fixed set of event payloads the core publishes.
type Kind string

const (
	KindConversationAdded         Kind = "conversation_added"
	KindConversationDeleted       Kind = "conversation_deleted"
	KindMessageAdded              Kind = "message_added"
	KindMessageDeleted            Kind = "message_deleted"
	KindMessageReceivedDateChanged Kind = "message_received_date_changed"
	KindFileStateChanged          Kind = "file_state_changed"
	KindBytesTransferredChanged   Kind = "bytes_transferred_changed"
	KindIncomingPeer              Kind = "incoming_peer"
	KindPeerDisconnected          Kind = "peer_disconnected"
	KindReceivedMessage           Kind = "received_message"
	KindReceivedAck               Kind = "received_ack"
	KindAddMeRequest              Kind = "addme_request"
	KindReceivedFileOffer         Kind = "received_file_offer"
)

// Bus is a synchronous, typed publish/subscribe notification bus. Publish
// invokes every subscriber registered for that Kind, in registration
// order, on the caller's goroutine.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Kind][]func(any)
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[Kind][]func(any))}
}

// Subscribe registers fn to be called with the payload of every future
// Publish for kind.
func (b *Bus) Subscribe(kind Kind, fn func(any)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[kind] = append(b.subscribers[kind], fn)
}

// Publish invokes every subscriber registered for kind with payload.
func (b *Bus) Publish(kind Kind, payload any) {
	b.mu.RLock()
	subs := append([]func(any){}, b.subscribers[kind]...)
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(payload)
	}
}
