//go:build linux

// Package guestwatch implements the guest-side recursive watch engine (C3):
// it subscribes to the guest kernel's inotify mechanism, maintains a live
// tree of watched subdirectories under a recursive watch, copes with the
// add-watch/directory-modified race via bounded rescans, and translates
// inotify activity into Event messages keyed by the host's opaque directory
// handle.
package guestwatch

import (
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/DanShaders/wsl-fs-notify/pkg/logging"
	"github.com/DanShaders/wsl-fs-notify/pkg/protocol"
)

// DefaultMaxFailCount is DIR_FAIL_CNT from spec.md §7/§8: the number of
// untrustworthy scans of a single Directory at which its Watcher gives up
// entirely.
const DefaultMaxFailCount = 10

// Watcher tracks one host watch request: an inotify fd, the recursive watch
// tree rooted at the requested path, and the bookkeeping needed to emit
// Event messages for the opaque directory handle the host supplied.
type Watcher struct {
	// directory is the host's opaque handle, echoed back on every Event.
	directory uint64
	// rootPath is the absolute on-disk path of the watch root.
	rootPath string
	// recursive indicates whether subdirectories are tracked.
	recursive bool
	// failed is set once Fail has been called; no further events are
	// sent afterward (spec.md invariant 5).
	failed bool
	// inotifyFd is this watcher's dedicated inotify instance.
	inotifyFd int
	// byWd indexes every live Directory by its watch descriptor.
	byWd map[int32]*Directory
	// queue is the FIFO of directories pending (re)scan.
	queue []*Directory
	// root is the Directory node for rootPath.
	root *Directory
	// drainCookie is the watcher's own monotonically increasing per-drain
	// cookie (distinct from the kernel's per-event move cookie used to
	// correlate MOVED_FROM/MOVED_TO within a single drain).
	drainCookie uint32
	// maxFailCnt bounds retries per Directory (DIR_FAIL_CNT).
	maxFailCnt int
	// encoder writes Event messages to the host.
	encoder *protocol.Encoder
	// logger is this watcher's sublogger.
	logger *logging.Logger
}

// NewWatcher creates a Watcher for directory, allocating a fresh inotify
// instance. It does not yet install any watch; call InstallRoot next.
func NewWatcher(directory uint64, recursive bool, maxFailCnt int, encoder *protocol.Encoder, logger *logging.Logger) (*Watcher, error) {
	fd, err := newInotify()
	if err != nil {
		return nil, errors.Wrap(protocol.ErrInotifyFailed, err.Error())
	}
	if maxFailCnt <= 0 {
		maxFailCnt = DefaultMaxFailCount
	}
	return &Watcher{
		directory:  directory,
		recursive:  recursive,
		inotifyFd:  fd,
		byWd:       make(map[int32]*Directory),
		maxFailCnt: maxFailCnt,
		encoder:    encoder,
		logger:     logger,
	}, nil
}

// InotifyFd returns the watcher's inotify file descriptor, for the engine's
// poll set.
func (w *Watcher) InotifyFd() int {
	return w.inotifyFd
}

// InstallRoot installs the root watch on rootPath and constructs the root
// Directory node. On failure the watcher owns no resources yet beyond the
// inotify fd, which the caller closes.
func (w *Watcher) InstallRoot(rootPath string) error {
	wd, err := addWatch(w.inotifyFd, rootPath)
	if err != nil {
		return errors.Wrap(protocol.ErrInotifyFailed, err.Error())
	}
	w.rootPath = filepath.Clean(rootPath)
	w.root = newDirectory(nil, "", wd)
	w.byWd[wd] = w.root
	return nil
}

// RunInitialScan enqueues and processes the root directory. It is a no-op
// for non-recursive watchers (spec.md §4.3: "only runs if recursive and not
// failed").
func (w *Watcher) RunInitialScan() {
	if !w.recursive || w.failed {
		return
	}
	w.enqueue(w.root)
	w.ProcessQueue()
}

// Fail emits exactly one FAILED event (with an empty path) and marks the
// watcher so that all further sendEvent calls are no-ops (spec.md invariant
// 5). It also closes the inotify fd: no further events will ever be sent
// for this watcher, so there is no reason to keep consuming kernel
// resources for it. The Watcher object itself remains registered — by
// directory handle — until an explicit Unwatch arrives or the process
// exits, per spec.md §4.3.
func (w *Watcher) Fail() {
	if w.failed {
		return
	}
	w.failed = true
	w.sendEvent(protocol.Event{Directory: w.directory, Action: protocol.ActionFailed})
	_ = closeFd(w.inotifyFd)
}

// Teardown dismantles the entire watch tree and releases the inotify fd. It
// is called when an UnwatchRequest arrives for this watcher's directory.
func (w *Watcher) Teardown() {
	if w.root != nil {
		w.detach(w.root)
	}
	if !w.failed {
		_ = closeFd(w.inotifyFd)
	}
}

// sendEvent transmits ev unless the watcher has already failed, in which
// case it's silently dropped — except the FAILED event itself, sent
// directly from Fail before the failed flag observably blocks anything.
func (w *Watcher) sendEvent(ev protocol.Event) {
	if w.failed && ev.Action != protocol.ActionFailed {
		return
	}
	if err := w.encoder.EncodeEvent(ev); err != nil {
		w.logger.Warn(errors.Wrap(err, "unable to send event"))
	}
}

// enqueue appends d to the scan queue if it isn't already present.
func (w *Watcher) enqueue(d *Directory) {
	if d.inQueue {
		return
	}
	d.inQueue = true
	w.queue = append(w.queue, d)
}

// absPath returns the absolute on-disk path for a Directory within this
// watcher's tree.
func (w *Watcher) absPath(d *Directory) string {
	if d.Path() == "" {
		return w.rootPath
	}
	return filepath.Join(w.rootPath, filepath.FromSlash(d.Path()))
}

// Drain performs one full drain of the watcher's inotify fd and, for a
// recursive watcher, then processes any directories the drain queued for
// rescan. Engine's poll loop calls it whenever the fd is readable, and so do
// callers driving a Watcher directly (see cmd/wsl-fs-notify-ctl's watch
// subcommand).
func (w *Watcher) Drain() {
	w.drainOnce()
	if w.recursive {
		w.ProcessQueue()
	}
}

// drainOnce performs one full read-until-EAGAIN drain of the watcher's
// inotify fd, processing every event against a freshly allocated per-drain
// cookie, and returns that cookie. It is called both through Drain (by the
// engine's poll loop, whenever the fd becomes readable) and synchronously
// from within ProcessQueue's per-directory scan (spec.md §4.3 step 4),
// which is why draining is not itself tied to fd readiness: a scan must be
// able to force a drain inline.
func (w *Watcher) drainOnce() uint32 {
	w.drainCookie++
	cookie := w.drainCookie

	events, err := readAllPending(w.inotifyFd)
	if err != nil {
		w.logger.Debugf("inotify read error: %v", err)
	}
	w.processBatch(events, cookie)
	return cookie
}
