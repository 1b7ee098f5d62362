package protocol

import (
	"bytes"
	"io"
	"testing"
)

// concatenatedMessages builds a single byte stream containing several valid
// framed messages back-to-back.
func concatenatedMessages(t *testing.T) []byte {
	t.Helper()
	buffer := &bytes.Buffer{}
	encoder := NewEncoder(buffer)
	if err := encoder.EncodeWatchRequest(WatchRequest{Directory: 1, Path: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := encoder.EncodeEvent(Event{Directory: 1, Action: ActionAdded, Path: "a/b"}); err != nil {
		t.Fatal(err)
	}
	if err := encoder.EncodeUnwatchRequest(UnwatchRequest{Directory: 1}); err != nil {
		t.Fatal(err)
	}
	return buffer.Bytes()
}

// TestReaderWholeFeed verifies that feeding a concatenated stream in one
// shot yields every message, in the order it was encoded.
func TestReaderWholeFeed(t *testing.T) {
	data := concatenatedMessages(t)

	reader := NewReader()
	reader.Feed(data)

	var tags []Tag
	for {
		payload, ok := reader.TryMessage()
		if !ok {
			break
		}
		tags = append(tags, Tag(payload[0]))
	}

	want := []Tag{TagWatchRequest, TagEvent, TagUnwatchRequest}
	if len(tags) != len(want) {
		t.Fatalf("got %d messages, want %d", len(tags), len(want))
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("message %d: got tag %v, want %v", i, tags[i], want[i])
		}
	}
}

// TestReaderArbitraryChunking verifies that feeding the same byte stream in
// arbitrary small chunks yields the same sequence of messages as feeding it
// whole (spec.md §8's round-trip law for the framed reader).
func TestReaderArbitraryChunking(t *testing.T) {
	data := concatenatedMessages(t)

	for _, chunkSize := range []int{1, 3, 7} {
		reader := NewReader()
		var tags []Tag
		for offset := 0; offset < len(data); offset += chunkSize {
			end := offset + chunkSize
			if end > len(data) {
				end = len(data)
			}
			reader.Feed(data[offset:end])
			for {
				payload, ok := reader.TryMessage()
				if !ok {
					break
				}
				tags = append(tags, Tag(payload[0]))
			}
		}

		want := []Tag{TagWatchRequest, TagEvent, TagUnwatchRequest}
		if len(tags) != len(want) {
			t.Fatalf("chunk size %d: got %d messages, want %d", chunkSize, len(tags), len(want))
		}
		for i := range want {
			if tags[i] != want[i] {
				t.Errorf("chunk size %d: message %d: got tag %v, want %v", chunkSize, i, tags[i], want[i])
			}
		}
	}
}

// TestPullMessageEOFMidMessage verifies that a source that reaches EOF
// before a full message is assembled causes PullMessage to report no
// message available, per spec.md §4.2's error-signalling rule.
func TestPullMessageEOFMidMessage(t *testing.T) {
	data := concatenatedMessages(t)
	truncated := data[:len(data)-2]

	reader := NewReader()
	source := bytes.NewReader(truncated)

	var count int
	for {
		_, ok := reader.PullMessage(source)
		if !ok {
			break
		}
		count++
	}
	if count != 2 {
		t.Fatalf("got %d complete messages before truncation, want 2", count)
	}
}

type errorReader struct{}

func (errorReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestPullMessageImmediateError(t *testing.T) {
	reader := NewReader()
	if _, ok := reader.PullMessage(errorReader{}); ok {
		t.Fatal("expected no message from a failing source")
	}
}
