package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// Tag identifies the kind of frame carried by a single Push/Pull of a
// stream. TagMessage marks an ordinary frame; TagFinal marks the last frame
// the encryptor will ever send on this stream.
type Tag byte

const (
	TagMessage Tag = 0
	TagFinal   Tag = 1
)

// HeaderSize is the size in bytes of a stream header.
const HeaderSize = 24

// TagOverhead is the number of bytes a Push adds to the plaintext: the
// Poly1305 authentication tag (16 bytes) plus the one-byte frame tag.
const TagOverhead = chacha20poly1305.Overhead + 1

var (
	// ErrUnknownTag is returned when a received frame carries a tag other
	// than TagMessage or TagFinal.
	ErrUnknownTag = errors.New("crypto: unknown stream tag")
	// ErrAuthenticationFailed is returned when a frame fails to decrypt
	// and authenticate, whether due to tampering or reordering.
	ErrAuthenticationFailed = errors.New("crypto: stream authentication failed")
	// ErrShortCiphertext is returned when a frame is too short to contain
	// even an empty authenticated payload and its tag byte.
	ErrShortCiphertext = errors.New("crypto: ciphertext shorter than minimum frame size")
)

type streamState struct {
	aead    cipher.AEAD
	header  [HeaderSize]byte
	counter uint64
}

func (s *streamState) nonce() [HeaderSize]byte {
	nonce := s.header
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], s.counter)
	for i := 0; i < 8; i++ {
		nonce[HeaderSize-8+i] ^= ctr[i]
	}
	return nonce
}

// EncryptStream is the push half of one direction's authenticated stream.
// It is initialized with a random key and header chosen by the encryptor
// and exchanged with the peer (in the clear, but signed) during the
// handshake. The same (key, header) pair may never be reused.
type EncryptStream struct {
	state streamState
}

// NewEncryptStream creates an EncryptStream with a fresh random header,
// ready to push frames under key.
func NewEncryptStream(key [32]byte) (*EncryptStream, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}

	var header [HeaderSize]byte
	if _, err := rand.Read(header[:]); err != nil {
		return nil, err
	}

	return &EncryptStream{state: streamState{aead: aead, header: header}}, nil
}

// Header returns the 24-byte header the peer needs to initialize its
// matching DecryptStream.
func (s *EncryptStream) Header() [HeaderSize]byte {
	return s.state.header
}

// Push encrypts plaintext as one frame of the stream, tagged with tag.
// The returned ciphertext is len(plaintext) + TagOverhead bytes.
func (s *EncryptStream) Push(plaintext []byte, tag Tag) []byte {
	nonce := s.state.nonce()
	aad := []byte{byte(tag)}
	sealed := s.state.aead.Seal(nil, nonce[:], plaintext, aad)
	s.state.counter++

	out := make([]byte, len(sealed)+1)
	copy(out, sealed)
	out[len(sealed)] = byte(tag)
	return out
}

// DecryptStream is the pull half of one direction's authenticated stream,
// initialized from the peer's announced (key, header).
type DecryptStream struct {
	state streamState
}

// NewDecryptStream creates a DecryptStream for key and the peer-announced
// header.
func NewDecryptStream(key [32]byte, header [HeaderSize]byte) (*DecryptStream, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	return &DecryptStream{state: streamState{aead: aead, header: header}}, nil
}

// Pull decrypts and authenticates one frame, returning its plaintext and
// tag. It fails with ErrAuthenticationFailed if any byte was tampered with
// or the frame was reordered, and with ErrUnknownTag if the trailing tag
// byte is neither TagMessage nor TagFinal.
func (s *DecryptStream) Pull(ciphertext []byte) ([]byte, Tag, error) {
	if len(ciphertext) < TagOverhead {
		return nil, 0, ErrShortCiphertext
	}

	tagByte := ciphertext[len(ciphertext)-1]
	if tagByte != byte(TagMessage) && tagByte != byte(TagFinal) {
		return nil, 0, ErrUnknownTag
	}

	sealed := ciphertext[:len(ciphertext)-1]
	nonce := s.state.nonce()
	plaintext, err := s.state.aead.Open(nil, nonce[:], sealed, []byte{tagByte})
	if err != nil {
		return nil, 0, ErrAuthenticationFailed
	}
	s.state.counter++

	return plaintext, Tag(tagByte), nil
}
