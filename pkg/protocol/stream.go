package protocol

import (
	"encoding/binary"
	"io"
)

// noMessage is the sentinel value for Reader.nextLength indicating that the
// reader is awaiting an 8-byte length header rather than payload bytes.
const noMessage = -1

// pullChunkSize is the scratch-buffer size used by PullMessage's blocking
// reads, per spec.md §4.2 ("up to 4 KiB").
const pullChunkSize = 4096

// compactThreshold bounds how much consumed-but-unreclaimed space Reader
// will tolerate before shifting the buffer down, so that a long-lived stream
// of many small messages doesn't grow its backing array without bound.
const compactThreshold = 64 * 1024

// Reader accumulates bytes from a file descriptor or handle and yields
// complete framed messages. It holds one of two states: awaiting the 8-byte
// header, or awaiting the payload of a known length. It is not safe for
// concurrent use.
type Reader struct {
	// buf holds all fed-but-not-yet-consumed bytes, starting at index read.
	buf []byte
	// read is the consumption cursor into buf.
	read int
	// nextLength is the masked length of the payload currently being
	// awaited, or noMessage if a header hasn't been read yet.
	nextLength int64
}

// NewReader creates an empty Reader, initially awaiting a header.
func NewReader() *Reader {
	return &Reader{nextLength: noMessage}
}

// Feed appends bytes to the reader's internal buffer.
func (r *Reader) Feed(data []byte) {
	r.buf = append(r.buf, data...)
}

// available returns the number of unconsumed bytes currently buffered.
func (r *Reader) available() int {
	return len(r.buf) - r.read
}

// tryHeader ensures nextLength is populated, reading and caching the 8-byte
// header if one is fully buffered. It returns false if more bytes are
// needed.
func (r *Reader) tryHeader() bool {
	if r.nextLength != noMessage {
		return true
	}
	if r.available() < lengthFieldSize {
		return false
	}
	raw := binary.LittleEndian.Uint64(r.buf[r.read : r.read+lengthFieldSize])
	r.read += lengthFieldSize
	r.nextLength = int64(raw & lengthMask)
	return true
}

// compact reclaims consumed buffer space, either fully (if everything has
// been consumed) or by shifting remaining bytes to the front once enough
// consumed space has accumulated.
func (r *Reader) compact() {
	if r.read == len(r.buf) {
		r.buf = r.buf[:0]
		r.read = 0
		return
	}
	if r.read >= compactThreshold {
		copy(r.buf, r.buf[r.read:])
		r.buf = r.buf[:len(r.buf)-r.read]
		r.read = 0
	}
}

// TryMessage returns a complete message's raw payload if one is fully
// buffered, advancing past it; otherwise it returns (nil, false) without
// blocking.
func (r *Reader) TryMessage() ([]byte, bool) {
	if !r.tryHeader() {
		return nil, false
	}
	if int64(r.available()) < r.nextLength {
		return nil, false
	}

	payload := make([]byte, r.nextLength)
	copy(payload, r.buf[r.read:r.read+int(r.nextLength)])
	r.read += int(r.nextLength)
	r.nextLength = noMessage
	r.compact()
	return payload, true
}

// PullMessage returns a complete message's raw payload, performing blocking
// reads from source (in pullChunkSize chunks) until one is available. It
// returns (nil, false) if source reaches EOF or returns an error before a
// full message is assembled — mid-message EOF is indistinguishable from
// clean EOF at this layer, per spec.md §4.2.
func (r *Reader) PullMessage(source io.Reader) ([]byte, bool) {
	if payload, ok := r.TryMessage(); ok {
		return payload, true
	}

	scratch := make([]byte, pullChunkSize)
	for {
		n, err := source.Read(scratch)
		if n > 0 {
			r.Feed(scratch[:n])
			if payload, ok := r.TryMessage(); ok {
				return payload, true
			}
		}
		if err != nil {
			return nil, false
		}
	}
}
