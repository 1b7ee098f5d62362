//go:build linux

package guestwatch

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// watchMask is the inotify event mask and flag set installed on the watch
// root and on every recursively-discovered subdirectory (spec.md §4.3 step
// 2). Notably it omits IN_ATTRIB even though the event-draining switch in
// spec.md §4.3 also matches ATTRIB events for FILE_ACTION_MODIFIED — that
// branch is defensive/forward-compatible and practically dormant given this
// mask, exactly as specified.
const watchMask uint32 = unix.IN_CREATE | unix.IN_DELETE | unix.IN_DELETE_SELF |
	unix.IN_MODIFY | unix.IN_MOVE | unix.IN_MOVE_SELF |
	unix.IN_DONT_FOLLOW | unix.IN_ONLYDIR | unix.IN_MASK_CREATE | unix.IN_EXCL_UNLINK

// rawInotifyEvent is a decoded inotify_event record: the fixed header plus
// its variable-length name, if any.
type rawInotifyEvent struct {
	Wd     int32
	Mask   uint32
	Cookie uint32
	Name   string
}

// newInotify creates a non-blocking inotify file descriptor.
func newInotify() (int, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK)
	if err != nil {
		return -1, errors.Wrap(err, "unable to create inotify instance")
	}
	return fd, nil
}

// addWatch installs a watch on path, returning its descriptor. Because
// watchMask includes IN_MASK_CREATE, a path that is already watched on fd
// yields EEXIST rather than re-arming the existing watch.
func addWatch(fd int, path string) (int32, error) {
	wd, err := unix.InotifyAddWatch(fd, path, watchMask)
	if err != nil {
		return -1, err
	}
	return int32(wd), nil
}

// closeFd closes a raw file descriptor.
func closeFd(fd int) error {
	return unix.Close(fd)
}

// rmWatch removes a previously-installed watch. Errors are ignored by
// callers: by the time a Directory is detached, the kernel has often
// already invalidated the watch descriptor on its own (e.g. following
// DELETE_SELF), making EINVAL from inotify_rm_watch routine and harmless.
func rmWatch(fd int, wd int32) error {
	_, err := unix.InotifyRmWatch(fd, uint32(wd))
	return err
}

// readAllPending reads every inotify_event record currently available on
// fd, stopping at EAGAIN/EWOULDBLOCK (spec.md §4.3: "Read inotify events
// until EAGAIN"). fd must be non-blocking.
func readAllPending(fd int) ([]rawInotifyEvent, error) {
	const headerSize = unix.SizeofInotifyEvent

	var events []rawInotifyEvent
	buf := make([]byte, headerSize+unix.PathMax+1)

	for {
		n, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return events, nil
			}
			return events, err
		}
		if n == 0 {
			return events, nil
		}

		offset := 0
		for offset+headerSize <= n {
			wd := int32(binary.LittleEndian.Uint32(buf[offset : offset+4]))
			mask := binary.LittleEndian.Uint32(buf[offset+4 : offset+8])
			cookie := binary.LittleEndian.Uint32(buf[offset+8 : offset+12])
			nameLen := int(binary.LittleEndian.Uint32(buf[offset+12 : offset+16]))

			name := ""
			if nameLen > 0 {
				raw := buf[offset+headerSize : offset+headerSize+nameLen]
				if idx := indexZero(raw); idx >= 0 {
					raw = raw[:idx]
				}
				name = string(raw)
			}

			events = append(events, rawInotifyEvent{Wd: wd, Mask: mask, Cookie: cookie, Name: name})
			offset += headerSize + nameLen
		}
	}
}

// indexZero returns the index of the first zero byte in b, or -1.
func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}
