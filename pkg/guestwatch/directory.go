//go:build linux

package guestwatch

import "path"

// Directory is a node in a Watcher's recursive watch tree. Unlike the
// reference implementation (which must route parent links through weak
// pointers to avoid reference-counting cycles, see the Design Notes in
// SPEC_FULL.md / spec.md §9), a Go Directory simply holds a plain parent
// pointer: the Go garbage collector tolerates reference cycles directly, so
// there is no ownership hazard in linking child -> parent and parent ->
// child in both directions. Lifetime is instead governed explicitly: a
// Directory is detached (see detach) when its on-disk entry disappears, is
// replaced, or its Watcher is torn down (Teardown, on unwatch). A Watcher
// that fails keeps its tree until that teardown.
type Directory struct {
	// wd is this directory's inotify watch descriptor, or -1 once torn
	// down.
	wd int32
	// name is the basename of this directory relative to its parent; empty
	// for the watch root.
	name string
	// parent is the enclosing Directory, or nil for the watch root.
	parent *Directory
	// children holds the current best-known set of subdirectories.
	children []*Directory
	// failCnt counts untrustworthy scans of this directory (spec.md §4.3's
	// "trustworthy" check). It is never reset, so it bounds the total
	// number of retries over the Directory's lifetime.
	failCnt int
	// moveCookie is stamped with the watcher's current per-drain cookie
	// when a MOVE_SELF or DELETE_SELF is observed for this directory's wd
	// during a drain; used to detect "an ancestor moved out from under
	// this scan" races (spec.md §4.3 step 6).
	moveCookie uint32
	// treeDeleted marks that this directory's subtree was torn down
	// (DELETE_SELF/IGNORED/UNMOUNT observed) during or before its scan.
	treeDeleted bool
	// alreadyAdded marks that this directory has completed at least one
	// trustworthy scan; it changes how an EEXIST error installing a
	// child's watch is interpreted (spec.md §4.3 step 2).
	alreadyAdded bool
	// inQueue marks that this directory is currently present in the
	// watcher's scan queue (pending or retrying).
	inQueue bool
}

// newDirectory creates a Directory with the given parent, basename, and
// already-installed watch descriptor.
func newDirectory(parent *Directory, name string, wd int32) *Directory {
	return &Directory{wd: wd, name: name, parent: parent}
}

// Path returns this directory's path relative to the watch root, using
// forward slashes, with no leading slash, and "" for the root itself — the
// form used in the trailer of Event messages (spec.md §3).
func (d *Directory) Path() string {
	if d.parent == nil {
		return ""
	}
	parentPath := d.parent.Path()
	if parentPath == "" {
		return d.name
	}
	return path.Join(parentPath, d.name)
}

// childNamed returns the existing child with the given basename, or nil.
// Used when an EEXIST race (spec.md §4.3 step 2) indicates the kernel
// already has a watch for a child we're rescanning and that scan is
// trusted: the existing Directory, not a new one, must be kept.
func (d *Directory) childNamed(name string) *Directory {
	for _, child := range d.children {
		if child.name == name {
			return child
		}
	}
	return nil
}

// detach recursively tears down this directory's subtree: every still-live
// watch descriptor beneath it (itself included) is removed from the
// watcher's inotify fd and its by-wd index, and treeDeleted is set so that
// an in-flight scan of this directory (or a descendant) recognizes the
// subtree is gone (spec.md §4.3 step 5).
func (w *Watcher) detach(d *Directory) {
	if d.wd != -1 {
		delete(w.byWd, d.wd)
		_ = rmWatch(w.inotifyFd, d.wd)
		d.wd = -1
	}
	d.treeDeleted = true
	children := d.children
	d.children = nil
	for _, child := range children {
		w.detach(child)
	}

	if d.parent != nil {
		d.parent.removeChild(d)
	}
}

// removeChild removes child from d's children slice, if present.
func (d *Directory) removeChild(child *Directory) {
	for i, c := range d.children {
		if c == child {
			d.children = append(d.children[:i], d.children[i+1:]...)
			return
		}
	}
}
