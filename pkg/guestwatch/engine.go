//go:build linux

package guestwatch

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/DanShaders/wsl-fs-notify/pkg/logging"
	"github.com/DanShaders/wsl-fs-notify/pkg/protocol"
)

// Engine is the guest helper's top-level dispatcher. It owns exactly one
// goroutine: a single-threaded poll loop over stdin (the framed command
// stream from the host shim) and every active Watcher's inotify fd. This
// mirrors the reference implementation's single-threaded libev loop rather
// than a goroutine-per-fd/channel-fan-in design, because scanDirectory must
// be able to force a synchronous inline drain of a Watcher's inotify fd
// (spec.md §4.3 step 4) independent of when the poll loop would otherwise
// have noticed it was readable; a channel-based design would need an
// additional synchronization layer to support that without data races.
type Engine struct {
	stdin       *os.File
	stdout      io.Writer
	reader      *protocol.Reader
	encoder     *protocol.Encoder
	logger      *logging.Logger
	maxFailCnt  int
	watchers    map[uint64]*Watcher
	fdToWatcher map[int]*Watcher
}

// NewEngine creates an Engine reading commands from stdin and writing events
// to stdout (already wrapped in encoder).
func NewEngine(stdin *os.File, stdout io.Writer, encoder *protocol.Encoder, logger *logging.Logger, maxFailCnt int) *Engine {
	return &Engine{
		stdin:       stdin,
		stdout:      stdout,
		reader:      protocol.NewReader(),
		encoder:     encoder,
		logger:      logger,
		maxFailCnt:  maxFailCnt,
		watchers:    make(map[uint64]*Watcher),
		fdToWatcher: make(map[int]*Watcher),
	}
}

// Handshake performs the fixed startup exchange: read the host's client
// hello, then send the guest's server hello in reply (spec.md §4.2 /
// SPEC_FULL.md §11).
func (e *Engine) Handshake() error {
	if err := protocol.ReadHandshake(e.stdin, protocol.ClientHello); err != nil {
		return err
	}
	return protocol.SendHandshake(e.stdout, protocol.ServerHello)
}

// Run drives the poll loop until stdin is closed (the host shim tore down
// the pipe, normally because the watched handle closed or the process is
// exiting) or an unrecoverable error occurs.
func (e *Engine) Run() error {
	stdinFd := int(e.stdin.Fd())

	for {
		pollFds := e.buildPollFds(stdinFd)
		_, err := unix.Poll(pollFds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return errors.Wrap(err, "poll failed")
		}

		for _, pfd := range pollFds {
			if pfd.Revents == 0 {
				continue
			}
			if int(pfd.Fd) == stdinFd {
				if err := e.handleStdinReadable(); err != nil {
					return err
				}
				continue
			}
			if w, ok := e.fdToWatcher[int(pfd.Fd)]; ok {
				w.Drain()
				e.reapIfFailed(w)
			}
		}
	}
}

// buildPollFds assembles the current poll set: stdin plus every active
// Watcher's inotify fd. It is rebuilt on every iteration since watchers come
// and go as WatchRequest/UnwatchRequest messages arrive.
func (e *Engine) buildPollFds(stdinFd int) []unix.PollFd {
	fds := make([]unix.PollFd, 0, 1+len(e.fdToWatcher))
	fds = append(fds, unix.PollFd{Fd: int32(stdinFd), Events: unix.POLLIN})
	for fd := range e.fdToWatcher {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	return fds
}

// handleStdinReadable reads one chunk from stdin, feeds it to the framing
// reader, and dispatches every complete message it yields. A read error
// (including clean EOF) is returned to the caller, which ends Run.
func (e *Engine) handleStdinReadable() error {
	scratch := make([]byte, 4096)
	n, err := e.stdin.Read(scratch)
	if n > 0 {
		e.reader.Feed(scratch[:n])
		for {
			payload, ok := e.reader.TryMessage()
			if !ok {
				break
			}
			e.dispatch(payload)
		}
	}
	return err
}

// dispatch decodes a single message payload and routes it. An unrecognized
// tag is logged and otherwise ignored, per spec.md §7's forward-compatibility
// requirement.
func (e *Engine) dispatch(payload []byte) {
	msg, err := protocol.Decode(payload)
	if err != nil {
		e.logger.Debugf("ignoring malformed message: %v", err)
		return
	}
	switch m := msg.(type) {
	case protocol.WatchRequest:
		e.handleWatch(m)
	case protocol.UnwatchRequest:
		e.handleUnwatch(m)
	default:
		e.logger.Debugf("ignoring unexpected message type from host")
	}
}

// handleWatch installs a new Watcher for a WatchRequest, replacing any
// existing Watcher already registered for the same directory handle (the
// host is expected not to reuse a handle without first unwatching it, but
// replacing rather than erroring keeps the guest resilient to a host that
// does anyway).
func (e *Engine) handleWatch(m protocol.WatchRequest) {
	if existing, ok := e.watchers[m.Directory]; ok {
		delete(e.fdToWatcher, existing.InotifyFd())
		existing.Teardown()
		delete(e.watchers, m.Directory)
	}

	sublogger := e.logger.Sublogger("watch")
	w, err := NewWatcher(m.Directory, m.Recursive, e.maxFailCnt, e.encoder, sublogger)
	if err != nil {
		sublogger.Warn(err)
		if encodeErr := e.encoder.EncodeEvent(protocol.Event{Directory: m.Directory, Action: protocol.ActionFailed}); encodeErr != nil {
			sublogger.Warn(encodeErr)
		}
		return
	}
	if err := w.InstallRoot(m.Path); err != nil {
		sublogger.Warn(err)
		_ = closeFd(w.InotifyFd())
		w.sendEvent(protocol.Event{Directory: m.Directory, Action: protocol.ActionFailed})
		return
	}

	e.watchers[m.Directory] = w
	e.fdToWatcher[w.InotifyFd()] = w
	w.RunInitialScan()
	e.reapIfFailed(w)
}

// handleUnwatch tears down the Watcher registered for an UnwatchRequest's
// directory handle, if any.
func (e *Engine) handleUnwatch(m protocol.UnwatchRequest) {
	w, ok := e.watchers[m.Directory]
	if !ok {
		return
	}
	delete(e.fdToWatcher, w.InotifyFd())
	w.Teardown()
	delete(e.watchers, m.Directory)
}

// reapIfFailed removes a Watcher's now-closed inotify fd from the poll set
// once it has failed. The Watcher itself stays registered in e.watchers
// (spec.md §4.3: it remains addressable by directory handle until an
// explicit Unwatch arrives), so a stray late UnwatchRequest for it is still
// handled cleanly instead of silently ignored.
func (e *Engine) reapIfFailed(w *Watcher) {
	if w.failed {
		delete(e.fdToWatcher, w.InotifyFd())
	}
}
