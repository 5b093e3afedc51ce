// Package events implements the typed notification bus the core publishes
// to in place of the original implementation's signals/slots (§9). A small
// fixed set of event kinds is defined; subscribers register interest by
// kind and receive a strongly typed payload.
//
// The bus is intentionally synchronous and unbuffered by default: a
// publish call invokes each subscriber for that kind in registration
// order, on the caller's goroutine. Session and manager code that drives
// the reactor should treat that goroutine as the reactor thread and must
// not block inside a subscriber.
package events
