package protocol

import (
	"bytes"
	"testing"
)

func TestWatchRequestRoundTrip(t *testing.T) {
	buffer := &bytes.Buffer{}
	encoder := NewEncoder(buffer)

	want := WatchRequest{
		Directory: 0xdeadbeefcafebabe,
		Filter:    7,
		Recursive: true,
		Path:      `\\?\UNC\wsl$\Ubuntu\home\user\project`,
	}
	if err := encoder.EncodeWatchRequest(want); err != nil {
		t.Fatal("unable to encode watch request:", err)
	}

	reader := NewReader()
	reader.Feed(buffer.Bytes())
	payload, ok := reader.TryMessage()
	if !ok {
		t.Fatal("expected a complete message")
	}

	got, err := Decode(payload)
	if err != nil {
		t.Fatal("unable to decode watch request:", err)
	}
	if got != Message(want) {
		t.Errorf("decoded message does not match: got %+v, want %+v", got, want)
	}
}

func TestEventRoundTripEmptyPath(t *testing.T) {
	buffer := &bytes.Buffer{}
	encoder := NewEncoder(buffer)

	want := Event{Directory: 42, Action: ActionFailed, Path: ""}
	if err := encoder.EncodeEvent(want); err != nil {
		t.Fatal("unable to encode event:", err)
	}

	reader := NewReader()
	reader.Feed(buffer.Bytes())
	payload, ok := reader.TryMessage()
	if !ok {
		t.Fatal("expected a complete message")
	}

	got, err := Decode(payload)
	if err != nil {
		t.Fatal("unable to decode event:", err)
	}
	if got != Message(want) {
		t.Errorf("decoded message does not match: got %+v, want %+v", got, want)
	}
}

func TestUnwatchRequestRoundTrip(t *testing.T) {
	buffer := &bytes.Buffer{}
	encoder := NewEncoder(buffer)

	want := UnwatchRequest{Directory: 123456789}
	if err := encoder.EncodeUnwatchRequest(want); err != nil {
		t.Fatal("unable to encode unwatch request:", err)
	}

	reader := NewReader()
	reader.Feed(buffer.Bytes())
	payload, ok := reader.TryMessage()
	if !ok {
		t.Fatal("expected a complete message")
	}

	got, err := Decode(payload)
	if err != nil {
		t.Fatal("unable to decode unwatch request:", err)
	}
	if got != Message(want) {
		t.Errorf("decoded message does not match: got %+v, want %+v", got, want)
	}
}

func TestDecodeUnknownTagIgnored(t *testing.T) {
	// Per spec.md §7, unknown tags should be easy for callers to treat as
	// forward-compatible no-ops: Decode reports an error, and callers are
	// expected to drop the message and continue.
	if _, err := Decode([]byte{'Z', 1, 2, 3}); err == nil {
		t.Fatal("expected an error for an unrecognized tag")
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatal("expected an error for an empty payload")
	}
}
