package protocol

// Message is implemented by WatchRequest, UnwatchRequest, and Event — the
// three payload types that travel over the framed stream once the handshake
// completes (see codec.go and stream.go).
type Message interface {
	// MessageTag returns the wire tag identifying this message's type.
	MessageTag() Tag
	isMessage()
}

const (
	// watchRequestHeadSize is the packed, no-padding size of a
	// WatchRequest's fixed fields: tag(1) + directory(8) + filter(4) +
	// recursive(1).
	watchRequestHeadSize = 14
	// unwatchRequestHeadSize is the packed size of an UnwatchRequest's
	// fixed fields: tag(1) + directory(8).
	unwatchRequestHeadSize = 9
	// eventHeadSize is the packed size of an Event's fixed fields:
	// tag(1) + directory(8) + action(4).
	eventHeadSize = 13
)

// WatchRequest ('D') asks the guest to install a (possibly recursive) watch
// on Path, echoing Directory back on every resulting Event.
type WatchRequest struct {
	// Directory is the host's opaque 64-bit handle for this watch. It is
	// never dereferenced or interpreted by the guest.
	Directory uint64
	// Filter is the host's notification filter mask. It is carried across
	// the wire for forward-compatibility but currently ignored by the
	// guest engine, which always uses a fixed inotify mask (see
	// pkg/guestwatch). See the Open Questions in SPEC_FULL.md §9 / spec.md.
	Filter uint32
	// Recursive indicates whether subdirectories should also be watched.
	Recursive bool
	// Path is the absolute path to watch, already translated by the host
	// shim into a forward-slash POSIX path usable directly inside the
	// distro (see hostshim.translateWSLPath).
	Path string
}

// MessageTag implements Message.MessageTag.
func (WatchRequest) MessageTag() Tag { return TagWatchRequest }
func (WatchRequest) isMessage()      {}

// UnwatchRequest ('S') asks the guest to drop the Watcher associated with
// Directory, tearing down its entire watch tree.
type UnwatchRequest struct {
	// Directory is the opaque handle previously supplied in a WatchRequest.
	Directory uint64
}

// MessageTag implements Message.MessageTag.
func (UnwatchRequest) MessageTag() Tag { return TagUnwatchRequest }
func (UnwatchRequest) isMessage()      {}

// Event ('U') reports a single filesystem change, or — when Action is
// ActionFailed — the terminal failure of a Watcher.
type Event struct {
	// Directory is the opaque handle this event belongs to.
	Directory uint64
	// Action identifies the kind of change.
	Action Action
	// Path is a forward-slash-separated path relative to the watch root.
	// Empty for ActionFailed events.
	Path string
}

// MessageTag implements Message.MessageTag.
func (Event) MessageTag() Tag { return TagEvent }
func (Event) isMessage()      {}
