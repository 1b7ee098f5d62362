//go:build linux

package guestwatch

import (
	"golang.org/x/sys/unix"

	"github.com/DanShaders/wsl-fs-notify/pkg/protocol"
)

// movedFromEntry remembers a MOVED_FROM event within a single drain so a
// subsequent MOVED_TO bearing the same kernel move cookie can be recognized
// as the other half of an in-tree rename (spec.md §4.3).
type movedFromEntry struct {
	parent *Directory
	name   string
}

// processBatch applies one drain's worth of raw inotify events against the
// watch tree, using cookie as the watcher's own per-drain move-detection
// stamp (distinct from each raw event's kernel-assigned Cookie field, which
// only correlates MOVED_FROM/MOVED_TO pairs within this same batch).
func (w *Watcher) processBatch(events []rawInotifyEvent, cookie uint32) {
	movedFrom := make(map[uint32]movedFromEntry)

	for _, ev := range events {
		d, ok := w.byWd[ev.Wd]
		if !ok {
			// The watch descriptor no longer maps to a live Directory:
			// it was already detached by an earlier event in this (or a
			// prior) drain. Drop silently.
			continue
		}
		isRoot := d == w.root

		switch {
		case ev.Mask&(unix.IN_MOVE_SELF|unix.IN_DELETE_SELF) != 0:
			if isRoot {
				w.Fail()
				return
			}
			d.moveCookie = cookie

		case ev.Mask&(unix.IN_IGNORED|unix.IN_UNMOUNT) != 0:
			if isRoot {
				w.Fail()
				return
			}
			w.detach(d)

		case ev.Mask&(unix.IN_MODIFY|unix.IN_ATTRIB) != 0:
			w.emitChildPath(d, protocol.ActionModified, ev.Name)

		case ev.Mask&unix.IN_MOVED_FROM != 0:
			w.emitChildPath(d, protocol.ActionRemoved, ev.Name)
			movedFrom[ev.Cookie] = movedFromEntry{parent: d, name: ev.Name}

		case ev.Mask&unix.IN_MOVED_TO != 0:
			w.emitChildPath(d, protocol.ActionAdded, ev.Name)
			if from, matched := movedFrom[ev.Cookie]; matched {
				delete(movedFrom, ev.Cookie)
				w.reparentMove(from, d, ev.Name)
			} else if ev.Mask&unix.IN_ISDIR != 0 {
				w.addChildWatch(d, ev.Name)
			}

		case ev.Mask&unix.IN_CREATE != 0:
			w.emitChildPath(d, protocol.ActionAdded, ev.Name)
			if ev.Mask&unix.IN_ISDIR != 0 {
				w.addChildWatch(d, ev.Name)
			}

		case ev.Mask&unix.IN_DELETE != 0:
			w.emitChildPath(d, protocol.ActionRemoved, ev.Name)
			if child := d.childNamed(ev.Name); child != nil {
				w.detach(child)
			}
		}

		if w.failed {
			return
		}
	}

	// Any MOVED_FROM left unmatched at drain end leaves the watched tree
	// (spec.md §8: "a MOVED_FROM with no MOVED_TO is finalized as a
	// delete"). The REMOVED event was already emitted above; what remains
	// is detaching the corresponding child Directory, if one was tracked.
	for _, entry := range movedFrom {
		if child := entry.parent.childNamed(entry.name); child != nil {
			w.detach(child)
		}
	}
}

// emitChildPath sends an Event for name beneath parent.
func (w *Watcher) emitChildPath(parent *Directory, action protocol.Action, name string) {
	parentPath := parent.Path()
	var full string
	if parentPath == "" {
		full = name
	} else {
		full = parentPath + "/" + name
	}
	w.sendEvent(protocol.Event{Directory: w.directory, Action: action, Path: full})
}

// reparentMove relinks the Directory previously at from.parent/from.name (if
// any was tracked — it may have been a plain file) to its new location
// newParent/newName, preserving its watch descriptor and subtree.
func (w *Watcher) reparentMove(from movedFromEntry, newParent *Directory, newName string) {
	child := from.parent.childNamed(from.name)
	if child == nil {
		return
	}
	from.parent.removeChild(child)
	child.parent = newParent
	child.name = newName
	newParent.children = append(newParent.children, child)
}

// addChildWatch installs a watch for a newly-observed subdirectory of
// parent. If installation races with a further filesystem change (the usual
// add-watch-vs-concurrent-modification hazard spec.md §4.3 is built
// around), the new entry is simply left untracked for now and parent is
// re-queued so the bounded-retry scan logic picks up the correct state,
// preserving invariant 4 ("every currently-extant subdirectory ... is
// either watched, queued for rescan, or the Watcher has failed").
func (w *Watcher) addChildWatch(parent *Directory, name string) {
	wd, err := addWatch(w.inotifyFd, w.absPath(parent)+"/"+name)
	if err != nil {
		w.enqueue(parent)
		return
	}
	child := newDirectory(parent, name, wd)
	w.byWd[wd] = child
	parent.children = append(parent.children, child)
}
