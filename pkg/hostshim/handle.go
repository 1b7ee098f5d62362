//go:build windows

package hostshim

import (
	"sync"
	"unsafe"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/windows"
	"golang.org/x/text/encoding/unicode"

	"github.com/DanShaders/wsl-fs-notify/pkg/protocol"
)

// fileNotifyInformationHeaderSize is sizeof(FILE_NOTIFY_INFORMATION) minus
// its trailing, variable-length FileName array: NextEntryOffset(4) +
// Action(4) + FileNameLength(4).
const fileNotifyInformationHeaderSize = 12

// utf16Encoder transcodes event paths from UTF-8 (the wire format, per
// spec.md §3) to UTF-16LE (the FILE_NOTIFY_INFORMATION FileName encoding),
// replacing the original implementation's MultiByteToWideChar call.
var utf16Encoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()

// Handle is the per-hDirectory overlapped I/O state for one outstanding (or
// most recently completed) ReadDirectoryChangesW call, plus the queue of
// translated Event messages awaiting delivery into that call's buffer. It
// corresponds to the reference implementation's IOOperation.
type Handle struct {
	// directory is the opaque handle value used as the Event.Directory
	// field and as this map key on the Go side (both are just hDirectory
	// reinterpreted as a uint64).
	directory uint64
	// notifyIn is the guest instance's stdin pipe this handle's
	// WatchRequest/UnwatchRequest messages are written to.
	notifyIn windows.Handle

	// mu guards every field below against concurrent access from the
	// pump goroutine (enqueue/flush, on an Event arriving from the
	// guest) and whichever host thread calls ReadDirectoryChangesW or
	// CancelIo against this handle (re-arm/abort). Without it, a re-arm
	// racing a flush could invoke the completion routine twice for one
	// outstanding call, or interleave two partial writes into pending.
	mu sync.Mutex

	// pending holds queued events not yet flushed into a caller buffer.
	pending []protocol.Event

	// buffer/bufferLength/overlapped/completion describe the most recent
	// ReadDirectoryChangesW call still awaiting completion. buffer is 0
	// when there is no call currently outstanding (abort, on CancelIo, and
	// every flush that completes the call reset it).
	buffer         uintptr
	bufferLength   uint32
	overlapped     *windows.Overlapped
	completionProc uintptr
}

// enqueue appends ev to this handle's pending queue and attempts an
// immediate flush, matching the reference implementation's stdout_cb, which
// flushes every affected handle as soon as new events arrive.
func (h *Handle) enqueue(ev protocol.Event) {
	h.mu.Lock()
	h.pending = append(h.pending, ev)
	proc, errorCode, bytesWritten, overlapped, ready := h.flushLocked()
	h.mu.Unlock()
	if ready {
		invokeCompletionRoutine(proc, errorCode, bytesWritten, overlapped)
	}
}

// rearm updates the buffer/overlapped/completion fields describing the
// currently outstanding ReadDirectoryChangesW call (a host thread re-issuing
// the call against an already-tracked handle) and attempts an immediate
// flush, all under h.mu so it can't interleave with a concurrent enqueue or
// abort.
func (h *Handle) rearm(buffer uintptr, bufferLength uint32, overlapped *windows.Overlapped, completionProc uintptr) {
	h.mu.Lock()
	h.buffer = buffer
	h.bufferLength = bufferLength
	h.overlapped = overlapped
	h.completionProc = completionProc
	proc, errorCode, bytesWritten, ov, ready := h.flushLocked()
	h.mu.Unlock()
	if ready {
		invokeCompletionRoutine(proc, errorCode, bytesWritten, ov)
	}
}

// flush drains as many pending events as fit into the currently outstanding
// ReadDirectoryChangesW buffer, packs them as a chain of
// FILE_NOTIFY_INFORMATION records, and completes the overlapped call via its
// completion routine. It is a no-op if there is nothing pending or no call
// is currently outstanding.
func (h *Handle) flush() {
	h.mu.Lock()
	proc, errorCode, bytesWritten, overlapped, ready := h.flushLocked()
	h.mu.Unlock()
	if ready {
		invokeCompletionRoutine(proc, errorCode, bytesWritten, overlapped)
	}
}

// flushLocked is flush's body; callers must hold h.mu and must invoke the
// returned completion routine, if ready is true, only after releasing it —
// the completion routine is host application code that may itself call back
// into ReadDirectoryChangesW/CancelIo against this same handle, which would
// deadlock on h.mu if it were still held.
func (h *Handle) flushLocked() (proc uintptr, errorCode, bytesWritten uint32, overlapped *windows.Overlapped, ready bool) {
	if len(h.pending) == 0 || h.buffer == 0 {
		return 0, 0, 0, nil, false
	}

	buf := unsafe.Slice((*byte)(unsafe.Pointer(h.buffer)), h.bufferLength)
	var offset uint32
	var lastRecordOffset = -1
	consumed := 0

	for _, ev := range h.pending {
		encodedName, err := utf16Encoder.String(ev.Path)
		if err != nil {
			// An unencodable path can't be represented in a
			// FILE_NOTIFY_INFORMATION record; drop just this event rather
			// than stalling the whole queue behind it.
			consumed++
			continue
		}
		nameBytes := []byte(encodedName)
		recordLength := fileNotifyInformationHeaderSize + uint32(len(nameBytes))

		if h.bufferLength-offset < recordLength {
			break
		}

		putUint32(buf[offset:], uint32(recordLength))
		putUint32(buf[offset+4:], uint32(ev.Action))
		putUint32(buf[offset+8:], uint32(len(nameBytes)))
		copy(buf[offset+fileNotifyInformationHeaderSize:], nameBytes)

		lastRecordOffset = int(offset)
		offset += recordLength
		consumed++
	}

	if lastRecordOffset >= 0 {
		// The last record in the chain has NextEntryOffset = 0.
		putUint32(buf[lastRecordOffset:], 0)
	}

	h.pending = h.pending[consumed:]

	bytesWritten = offset
	overlapped = h.overlapped
	proc = h.completionProc
	h.buffer = 0
	h.overlapped = nil
	h.completionProc = 0

	return proc, windows.NO_ERROR, bytesWritten, overlapped, true
}

// abort completes the currently outstanding call (if any) with
// ERROR_OPERATION_ABORTED, used when CancelIo is called against this
// handle.
func (h *Handle) abort() {
	h.mu.Lock()
	if h.buffer == 0 {
		h.mu.Unlock()
		return
	}
	overlapped := h.overlapped
	completion := h.completionProc
	h.buffer = 0
	h.overlapped = nil
	h.completionProc = 0
	h.mu.Unlock()
	invokeCompletionRoutine(completion, uint32(windows.ERROR_OPERATION_ABORTED), 0, overlapped)
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// DebugSummary renders a short human-readable description of this handle's
// pending queue depth, for diagnostic logging.
func (h *Handle) DebugSummary() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return humanize.Comma(int64(len(h.pending))) + " pending event(s)"
}
