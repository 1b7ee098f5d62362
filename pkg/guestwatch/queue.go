//go:build linux

package guestwatch

import (
	"os"

	"golang.org/x/sys/unix"
)

// ProcessQueue drains the scan queue, running scanDirectory on each pending
// Directory until the queue is empty or the watcher has failed. Directories
// discovered or re-enqueued during a scan are appended to the same queue, so
// a single call processes everything reachable at the time it starts (plus
// anything scanning itself turns up).
func (w *Watcher) ProcessQueue() {
	for len(w.queue) > 0 && !w.failed {
		d := w.queue[0]
		w.queue = w.queue[1:]
		w.scanDirectory(d)
	}
}

// scanDirectory implements one iteration of spec.md §4.3's queue processor
// for a single Directory: (1) register it in by_wd, (2) enumerate on-disk
// subdirectories and install watches, classifying races, (3) replace its
// children list, (4) drain pending inotify events with a fresh cookie,
// (5)-(6) detect whether the scan's results are trustworthy, and (7)-(8)
// either commit and fan out to children or retry up to maxFailCnt times.
func (w *Watcher) scanDirectory(d *Directory) {
	// Step 1: register in by_wd (idempotent; it's already registered for
	// every Directory except possibly ones created concurrently with a
	// detach, which can't happen in this single-threaded engine, but the
	// assignment is cheap and keeps the invariant explicit).
	w.byWd[d.wd] = d

	// Step 2: enumerate on-disk children and install watches.
	entries, err := os.ReadDir(w.absPath(d))
	if err != nil {
		// The directory itself vanished between being queued and being
		// scanned; this is exactly the same race the per-child logic
		// below handles, so treat it identically: untrustworthy, retry.
		w.retryOrFail(d)
		return
	}

	trustworthy := true
	var newChildren []*Directory
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()

		wd, addErr := addWatch(w.inotifyFd, w.absPath(d)+"/"+name)
		if addErr == nil {
			child := newDirectory(d, name, wd)
			w.byWd[wd] = child
			newChildren = append(newChildren, child)
			continue
		}

		switch addErr {
		case unix.EEXIST:
			if d.alreadyAdded {
				if existing := d.childNamed(name); existing != nil {
					newChildren = append(newChildren, existing)
					continue
				}
			}
			trustworthy = false
		case unix.ENOTDIR, unix.ENOENT:
			trustworthy = false
		default:
			w.Fail()
			return
		}
	}

	// Step 3: replace the children list unconditionally.
	d.children = newChildren

	// Step 4: drain pending events with a fresh cookie.
	cookie := w.drainOnce()
	if w.failed {
		return
	}

	// Step 5: the directory may have been torn down during draining.
	if d.treeDeleted {
		return
	}

	// Step 6: an ancestor moved during this scan invalidates our results.
	for ancestor := d; ancestor != nil; ancestor = ancestor.parent {
		if ancestor.moveCookie == cookie {
			trustworthy = false
			break
		}
	}

	if trustworthy {
		// Step 7: commit and fan out.
		d.inQueue = false
		d.alreadyAdded = true
		for _, child := range d.children {
			w.enqueue(child)
		}
		return
	}

	// Step 8: retry, bounded.
	w.retryOrFail(d)
}

// retryOrFail implements step 8's bounded-retry policy: increment the
// directory's failure counter, fail the whole watcher once it reaches
// maxFailCnt, otherwise re-enqueue the directory for another attempt.
func (w *Watcher) retryOrFail(d *Directory) {
	d.failCnt++
	if d.failCnt >= w.maxFailCnt {
		w.Fail()
		return
	}
	// d.inQueue is already true (it was true when dequeued and nothing
	// clears it on the retry path), so this just reschedules it.
	w.queue = append(w.queue, d)
}
