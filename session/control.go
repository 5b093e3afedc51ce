package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// controlType discriminates control-channel JSON payloads (§4.5).
type controlType string

const (
	controlTypeAddMe        controlType = "AddMe"
	controlTypeAck          controlType = "Ack"
	controlTypeMessage      controlType = "Message"
	controlTypeIncomingFile controlType = "IncomingFile"
)

// ErrMalformedControl indicates channel-0 JSON that does not parse, either
// as an envelope or as the body of its recognized "type"; per §4.5,
// malformed JSON on channel 0 closes the session (a missing or unknown
// type in well-formed JSON is merely logged and ignored).
var ErrMalformedControl = errors.New("session: malformed control-channel JSON")

type controlEnvelope struct {
	Type controlType `json:"type"`
}

// AddMeControl is the contact-request control message (§4.5).
type AddMeControl struct {
	Nick    string `json:"nick"`
	Message string `json:"message"`
	Address string `json:"address"`
}

// AckControl is the generic acknowledgment control message (§4.5).
type AckControl struct {
	What   string `json:"what"`
	Status string `json:"status"`
	Data   string `json:"data"`
}

// MessageControl is the chat-message control message (§4.5).
type MessageControl struct {
	MessageID    string `json:"message-id"`
	Date         int64  `json:"date"`
	Content      string `json:"content"`
	Encoding     string `json:"encoding"`
	Conversation string `json:"conversation"`
	From         string `json:"from"`
	Signature    string `json:"signature"`
}

// IncomingFileControl is the file-offer control message (§4.5).
type IncomingFileControl struct {
	FileID   string `json:"file-id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Hash     string `json:"hash"`
	FileTime int64  `json:"file-time"`
}

// marshalTyped flattens v's fields alongside a "type" discriminator
// into one JSON object, since Go has no struct embedding that injects a
// field into an already-tagged sibling without a wrapper type per
// message.
func marshalTyped(t controlType, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("session: marshaling %s: %w", t, err)
	}

	m := make(map[string]any)
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("session: flattening %s: %w", t, err)
	}
	m["type"] = string(t)
	return json.Marshal(m)
}

// EncodeAddMe serializes an AddMe control message.
func EncodeAddMe(msg AddMeControl) ([]byte, error) { return marshalTyped(controlTypeAddMe, msg) }

// EncodeAck serializes an Ack control message.
func EncodeAck(msg AckControl) ([]byte, error) { return marshalTyped(controlTypeAck, msg) }

// EncodeMessage serializes a Message control message.
func EncodeMessage(msg MessageControl) ([]byte, error) { return marshalTyped(controlTypeMessage, msg) }

// EncodeIncomingFile serializes an IncomingFile control message.
func EncodeIncomingFile(msg IncomingFileControl) ([]byte, error) {
	return marshalTyped(controlTypeIncomingFile, msg)
}

// Dispatcher routes decoded channel-0 payloads by their "type" field to
// typed handlers. Unknown types are logged and ignored (§4.5); JSON
// that fails to parse at all returns ErrMalformedControl so the caller
// can close the session per spec.
type Dispatcher struct {
	OnAddMe        func(requestID uint64, msg AddMeControl)
	OnAck          func(requestID uint64, msg AckControl)
	OnMessage      func(requestID uint64, msg MessageControl)
	OnIncomingFile func(requestID uint64, msg IncomingFileControl)
}

// Dispatch parses payload's envelope and routes to the matching typed
// handler.
func (d *Dispatcher) Dispatch(requestID uint64, payload []byte) error {
	var env controlEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedControl, err)
	}

	switch env.Type {
	case controlTypeAddMe:
		var msg AddMeControl
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedControl, err)
		}
		if d.OnAddMe != nil {
			d.OnAddMe(requestID, msg)
		}
	case controlTypeAck:
		var msg AckControl
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedControl, err)
		}
		if d.OnAck != nil {
			d.OnAck(requestID, msg)
		}
	case controlTypeMessage:
		var msg MessageControl
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedControl, err)
		}
		if d.OnMessage != nil {
			d.OnMessage(requestID, msg)
		}
	case controlTypeIncomingFile:
		var msg IncomingFileControl
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedControl, err)
		}
		if d.OnIncomingFile != nil {
			d.OnIncomingFile(requestID, msg)
		}
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Dispatch",
			"type":     env.Type,
		}).Warn("Ignoring control message with unrecognized type")
	}
	return nil
}

// B64 is a convenience alias documenting which control fields carry
// base64-encoded binary (§4.5: message-id, conversation, from, hash,
// signature, file-id, data).
func B64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// FromB64 decodes a base64 control field back to bytes.
func FromB64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("session: decoding base64 field: %w", err)
	}
	return b, nil
}
