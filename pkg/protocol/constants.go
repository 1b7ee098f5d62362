// Package protocol defines the wire format shared by the guest helper and
// the host shim: message tags, action codes, the startup handshake, and the
// host-visible custom error codes. See Message, WatchRequest, UnwatchRequest,
// and Event in messages.go for the framed message bodies, and Encoder/Decode
// in codec.go and Reader in stream.go for the framing itself.
package protocol

import "fmt"

// Tag identifies the type of a framed message's payload. It is always the
// first byte of a message's payload.
type Tag byte

const (
	// TagWatchRequest identifies a WatchRequest message ('D' for directory).
	TagWatchRequest Tag = 'D'
	// TagUnwatchRequest identifies an UnwatchRequest message ('S' for stop).
	TagUnwatchRequest Tag = 'S'
	// TagEvent identifies an Event message ('U' for update).
	TagEvent Tag = 'U'
)

// String returns a human-readable name for the tag.
func (t Tag) String() string {
	switch t {
	case TagWatchRequest:
		return "watch"
	case TagUnwatchRequest:
		return "unwatch"
	case TagEvent:
		return "event"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Action identifies the kind of filesystem change an Event reports. The
// numeric values match the host's FILE_ACTION_* constants exactly, since
// they flow unmodified into FILE_NOTIFY_INFORMATION records on the host.
type Action uint32

const (
	// ActionAdded indicates a file or directory was created.
	ActionAdded Action = 1
	// ActionRemoved indicates a file or directory was removed.
	ActionRemoved Action = 2
	// ActionModified indicates a file's contents or attributes changed.
	ActionModified Action = 3
	// ActionRenamedOldName indicates the old name half of a rename.
	ActionRenamedOldName Action = 4
	// ActionRenamedNewName indicates the new name half of a rename.
	ActionRenamedNewName Action = 5
	// ActionFailed indicates the Watcher has given up; it is always sent
	// with an empty path and is always the last Event for its directory.
	ActionFailed Action = 0xffffffff
)

// String returns a human-readable name for the action.
func (a Action) String() string {
	switch a {
	case ActionAdded:
		return "added"
	case ActionRemoved:
		return "removed"
	case ActionModified:
		return "modified"
	case ActionRenamedOldName:
		return "renamed-old"
	case ActionRenamedNewName:
		return "renamed-new"
	case ActionFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(0x%08x)", uint32(a))
	}
}

const (
	// HelloLength is the fixed length, in bytes, of each handshake token.
	// Handshake tokens are sent raw, without the usual 8-byte length prefix.
	HelloLength = 5
)

// ClientHello is the first five bytes the guest helper expects to read from
// stdin, sent by the host shim before the framed stream begins.
var ClientHello = [HelloLength]byte{'W', 'F', 'N', '\n', 0}

// ServerHello is the first five bytes the host shim expects to read from a
// guest's stdout, sent by the guest helper in response to ClientHello.
var ServerHello = [HelloLength]byte{'W', 'F', 'N', '\n', 1}

// Code is a host-visible custom error code, reported through the host's
// last-error mechanism (SetLastError) when the shim fails to establish or
// maintain a guest instance. Codes have bit 29 set (the 0x2000_0000 family,
// Windows' application-defined error bit) to avoid colliding with standard
// Win32 error codes.
type Code uint32

const (
	// ErrWSLStartFailed indicates that pipe creation or launching the guest
	// helper command inside the distro failed.
	ErrWSLStartFailed Code = (1 << 29) | 1
	// ErrHandshakeFailed indicates the guest's hello token didn't match, or
	// no hello was received at all.
	ErrHandshakeFailed Code = (1 << 29) | 2
	// ErrModeChange indicates an attempt to reuse a handle with
	// incompatible watch parameters (reserved for future use; not currently
	// produced by this implementation, but kept for host-side parity with
	// the original error taxonomy).
	ErrModeChange Code = (1 << 29) | 3
	// ErrInotifyFailed indicates the guest could not create an inotify
	// instance or install the root watch.
	ErrInotifyFailed Code = (1 << 29) | 4
)

// Error implements the error interface so that Code values can be wrapped
// and compared like any other Go error while still carrying the numeric
// code the host's SetLastError call needs.
func (c Code) Error() string {
	switch c {
	case ErrWSLStartFailed:
		return "WSL start failed"
	case ErrHandshakeFailed:
		return "handshake failed"
	case ErrModeChange:
		return "mode change"
	case ErrInotifyFailed:
		return "inotify failed"
	default:
		return fmt.Sprintf("unknown protocol error (0x%08x)", uint32(c))
	}
}
