package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusDeliversToSubscribedKindOnly(t *testing.T) {
	b := NewBus()

	var got []any
	b.Subscribe(KindIncomingPeer, func(p any) { got = append(got, p) })
	b.Subscribe(KindPeerDisconnected, func(p any) { t.Fatal("should not be called") })

	b.Publish(KindIncomingPeer, IncomingPeer{ConnectionUUID: "c1"})

	assert.Len(t, got, 1)
	assert.Equal(t, IncomingPeer{ConnectionUUID: "c1"}, got[0])
}

func TestBusDeliversInRegistrationOrder(t *testing.T) {
	b := NewBus()

	var order []int
	b.Subscribe(KindReceivedAck, func(any) { order = append(order, 1) })
	b.Subscribe(KindReceivedAck, func(any) { order = append(order, 2) })

	b.Publish(KindReceivedAck, ReceivedAck{What: "Message"})

	assert.Equal(t, []int{1, 2}, order)
}

func TestBusPublishWithNoSubscribersIsNoop(t *testing.T) {
	b := NewBus()
	assert.NotPanics(t, func() { b.Publish(KindFileStateChanged, FileStateChanged{}) })
}
