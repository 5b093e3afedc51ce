package wire

import (
	"errors"

	"github.com/opd-ai/dschat/crypto"
	"github.com/opd-ai/dschat/limits"
)

// Version is the only handshake and chunk-header version this
// implementation understands.
const Version byte = 0x01

var (
	// ErrBadVersion indicates a handshake or chunk header carried a
	// version byte other than Version.
	ErrBadVersion = errors.New("wire: unsupported version")
	// ErrBadLength indicates a handshake message was not exactly the
	// expected number of bytes.
	ErrBadLength = errors.New("wire: wrong handshake message length")
	// ErrBadSignature indicates a handshake signature failed to verify.
	ErrBadSignature = errors.New("wire: signature verification failed")
)

// Hello is the initiator→responder handshake message. It proves the
// initiator holds the private key for InitiatorPubKey and announces the
// key/header the responder should use to decrypt the initiator's outbound
// stream.
type Hello struct {
	TxKey           [32]byte
	TxHeader        [crypto.HeaderSize]byte
	InitiatorPubKey [32]byte
	Signature       crypto.Signature
}

// EncodeHello builds and signs a HELLO message using the initiator's
// signing key. txKey/txHeader parameterize the initiator's outbound stream.
func EncodeHello(txKey [32]byte, txHeader [crypto.HeaderSize]byte, initiatorPub [32]byte, initiatorPriv [32]byte) ([]byte, error) {
	signed := make([]byte, 0, limits.HelloSize-crypto.SignatureSize)
	signed = append(signed, Version)
	signed = append(signed, txKey[:]...)
	signed = append(signed, txHeader[:]...)
	signed = append(signed, initiatorPub[:]...)

	sig, err := crypto.Sign(signed, initiatorPriv)
	if err != nil {
		return nil, err
	}

	return append(signed, sig[:]...), nil
}

// DecodeHello parses and verifies a HELLO message, checking the embedded
// signature against the embedded initiator public key. It does not know
// whether that public key belongs to a known contact — that lookup is the
// caller's responsibility (an unknown pubkey diverts to the AddMe flow).
func DecodeHello(data []byte) (*Hello, error) {
	if len(data) != limits.HelloSize {
		return nil, ErrBadLength
	}
	if data[0] != Version {
		return nil, ErrBadVersion
	}

	h := &Hello{}
	off := 1
	copy(h.TxKey[:], data[off:off+32])
	off += 32
	copy(h.TxHeader[:], data[off:off+crypto.HeaderSize])
	off += crypto.HeaderSize
	copy(h.InitiatorPubKey[:], data[off:off+32])
	off += 32
	copy(h.Signature[:], data[off:off+crypto.SignatureSize])

	ok, err := crypto.Verify(data[:off], h.Signature, h.InitiatorPubKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBadSignature
	}

	return h, nil
}

// Olleh is the responder→initiator handshake message. The responder's
// identity is not carried on the wire: the initiator already knows which
// hidden service it dialed and verifies against that contact's known
// public key.
type Olleh struct {
	TxKey     [32]byte
	TxHeader  [crypto.HeaderSize]byte
	Signature crypto.Signature
}

// EncodeOlleh builds and signs an OLLEH message using the responder's
// signing key.
func EncodeOlleh(txKey [32]byte, txHeader [crypto.HeaderSize]byte, responderPriv [32]byte) ([]byte, error) {
	signed := make([]byte, 0, limits.OllehSize-crypto.SignatureSize)
	signed = append(signed, Version)
	signed = append(signed, txKey[:]...)
	signed = append(signed, txHeader[:]...)

	sig, err := crypto.Sign(signed, responderPriv)
	if err != nil {
		return nil, err
	}

	return append(signed, sig[:]...), nil
}

// DecodeOlleh parses and verifies an OLLEH message against the expected
// responder public key — the one the initiator already trusts for the
// contact it dialed.
func DecodeOlleh(data []byte, expectedResponderPub [32]byte) (*Olleh, error) {
	if len(data) != limits.OllehSize {
		return nil, ErrBadLength
	}
	if data[0] != Version {
		return nil, ErrBadVersion
	}

	o := &Olleh{}
	off := 1
	copy(o.TxKey[:], data[off:off+32])
	off += 32
	copy(o.TxHeader[:], data[off:off+crypto.HeaderSize])
	off += crypto.HeaderSize
	copy(o.Signature[:], data[off:off+crypto.SignatureSize])

	ok, err := crypto.Verify(data[:off], o.Signature, expectedResponderPub)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBadSignature
	}

	return o, nil
}
