package protocol

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/pkg/errors"
)

const (
	// lengthFieldSize is the width, in bytes, of the length prefix that
	// precedes every framed message's payload.
	lengthFieldSize = 8
	// lengthMask clears the reserved top bit of the length field, per
	// spec.md §3: "length: u64 (top bit reserved)".
	lengthMask = uint64(1)<<63 - 1
)

// Encoder provides framed message encoding over a single underlying writer.
// A single message is written with one Write call so that, combined with
// Encoder's internal lock, writers on different goroutines never interleave
// bytes from two messages (spec.md §4.1's write contract).
type Encoder struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewEncoder creates a new framing encoder writing to writer.
func NewEncoder(writer io.Writer) *Encoder {
	return &Encoder{writer: writer}
}

// EncodeWatchRequest encodes and transmits a WatchRequest.
func (e *Encoder) EncodeWatchRequest(m WatchRequest) error {
	buf := make([]byte, lengthFieldSize+watchRequestHeadSize+len(m.Path))
	body := buf[lengthFieldSize:]
	body[0] = byte(TagWatchRequest)
	binary.LittleEndian.PutUint64(body[1:9], m.Directory)
	binary.LittleEndian.PutUint32(body[9:13], m.Filter)
	if m.Recursive {
		body[13] = 1
	}
	copy(body[watchRequestHeadSize:], m.Path)
	return e.write(buf)
}

// EncodeUnwatchRequest encodes and transmits an UnwatchRequest.
func (e *Encoder) EncodeUnwatchRequest(m UnwatchRequest) error {
	buf := make([]byte, lengthFieldSize+unwatchRequestHeadSize)
	body := buf[lengthFieldSize:]
	body[0] = byte(TagUnwatchRequest)
	binary.LittleEndian.PutUint64(body[1:9], m.Directory)
	return e.write(buf)
}

// EncodeEvent encodes and transmits an Event.
func (e *Encoder) EncodeEvent(m Event) error {
	buf := make([]byte, lengthFieldSize+eventHeadSize+len(m.Path))
	body := buf[lengthFieldSize:]
	body[0] = byte(TagEvent)
	binary.LittleEndian.PutUint64(body[1:9], m.Directory)
	binary.LittleEndian.PutUint32(body[9:13], uint32(m.Action))
	copy(body[eventHeadSize:], m.Path)
	return e.write(buf)
}

// write prepends the length header (the payload is everything after the
// first lengthFieldSize bytes of buf) and transmits the whole frame in a
// single Write call.
func (e *Encoder) write(buf []byte) error {
	payloadLength := uint64(len(buf) - lengthFieldSize)
	if payloadLength&^lengthMask != 0 {
		return errors.New("encoded message too large to frame")
	}
	binary.LittleEndian.PutUint64(buf[:lengthFieldSize], payloadLength)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.writer.Write(buf); err != nil {
		return errors.Wrap(err, "unable to transmit framed message")
	}
	return nil
}

// SendHandshake writes a raw, non-length-prefixed handshake token. It is
// used for both the client hello (host → guest) and the server hello
// (guest → host); the token itself determines the direction.
func SendHandshake(w io.Writer, token [HelloLength]byte) error {
	if _, err := w.Write(token[:]); err != nil {
		return errors.Wrap(err, "unable to transmit handshake")
	}
	return nil
}

// ReadHandshake reads a raw handshake token and compares it against want. It
// returns ErrHandshakeFailed (wrapped) on any read error or mismatch.
func ReadHandshake(r io.Reader, want [HelloLength]byte) error {
	var got [HelloLength]byte
	if _, err := io.ReadFull(r, got[:]); err != nil {
		return errors.Wrap(ErrHandshakeFailed, err.Error())
	}
	if got != want {
		return errors.Wrap(ErrHandshakeFailed, "unexpected handshake token")
	}
	return nil
}

// Decode parses a raw, already-deframed payload (as produced by Reader in
// stream.go) into a concrete Message. An unrecognized tag is reported as an
// error so that callers can choose to ignore it for forward-compatibility
// (spec.md §7: "Unknown message tag: silently ignored").
func Decode(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return nil, errors.New("empty message payload")
	}
	switch Tag(payload[0]) {
	case TagWatchRequest:
		if len(payload) < watchRequestHeadSize {
			return nil, errors.New("truncated watch request")
		}
		return WatchRequest{
			Directory: binary.LittleEndian.Uint64(payload[1:9]),
			Filter:    binary.LittleEndian.Uint32(payload[9:13]),
			Recursive: payload[13] != 0,
			Path:      string(payload[watchRequestHeadSize:]),
		}, nil
	case TagUnwatchRequest:
		if len(payload) < unwatchRequestHeadSize {
			return nil, errors.New("truncated unwatch request")
		}
		return UnwatchRequest{
			Directory: binary.LittleEndian.Uint64(payload[1:9]),
		}, nil
	case TagEvent:
		if len(payload) < eventHeadSize {
			return nil, errors.New("truncated event")
		}
		return Event{
			Directory: binary.LittleEndian.Uint64(payload[1:9]),
			Action:    Action(binary.LittleEndian.Uint32(payload[9:13])),
			Path:      string(payload[eventHeadSize:]),
		}, nil
	default:
		return nil, errors.Errorf("unrecognized message tag 0x%02x", payload[0])
	}
}
