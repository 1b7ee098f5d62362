//go:build windows

package hostshim

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/DanShaders/wsl-fs-notify/pkg/protocol"
)

// readDirectoryChangesWDetourImpl replaces the host process's
// ReadDirectoryChangesW import. A call against a non-WSL handle is
// forwarded unchanged to the original function (spec.md §4.1's core
// requirement: transparent passthrough for everything else). A call against
// a \\wsl$\<distro>\... handle is instead translated into a WatchRequest
// sent to that distro's guest helper, with completion deferred until guest
// Event messages arrive (see Handle.flush in handle.go).
//
// All arguments are declared uintptr because this function's address is
// installed directly as the raw IAT entry via windows.NewCallback, which
// requires a flat, fixed-width parameter list matching stdcall/x64 calling
// convention exactly.
func readDirectoryChangesWDetourImpl(
	hDirectory uintptr,
	lpBuffer uintptr,
	nBufferLength uintptr,
	bWatchSubtree uintptr,
	dwNotifyFilter uintptr,
	lpBytesReturned uintptr,
	lpOverlapped uintptr,
	lpCompletionRoutine uintptr,
) uintptr {
	hDir := windows.Handle(hDirectory)

	path, err := getPathByHandle(hDir)
	if err != nil {
		return callOriginalReadDirectoryChangesW(hDirectory, lpBuffer, nBufferLength,
			bWatchSubtree, dwNotifyFilter, lpBytesReturned, lpOverlapped, lpCompletionRoutine)
	}

	distro, posixPath, ok := translateWSLPath(path)
	if !ok {
		return callOriginalReadDirectoryChangesW(hDirectory, lpBuffer, nBufferLength,
			bWatchSubtree, dwNotifyFilter, lpBytesReturned, lpOverlapped, lpCompletionRoutine)
	}

	if lpCompletionRoutine == 0 {
		windows.SetLastError(windows.ERROR_INVALID_FUNCTION)
		return 0
	}

	shimMu.Lock()
	h, exists := handles[hDir]
	shimMu.Unlock()
	if exists {
		h.rearm(lpBuffer, uint32(nBufferLength), (*windows.Overlapped)(unsafe.Pointer(lpOverlapped)), lpCompletionRoutine)
		return 1
	}

	inst, err := getOrLaunchInstance(distro)
	if err != nil {
		shimLogger.Error(err)
		windows.SetLastError(uint32(codeOf(err)))
		return 0
	}

	h = &Handle{
		directory:      uint64(hDirectory),
		notifyIn:       inst.stdinWrite,
		buffer:         lpBuffer,
		bufferLength:   uint32(nBufferLength),
		overlapped:     (*windows.Overlapped)(unsafe.Pointer(lpOverlapped)),
		completionProc: lpCompletionRoutine,
	}

	shimMu.Lock()
	handles[hDir] = h
	shimMu.Unlock()

	encoder := protocol.NewEncoder(pipeWriter{inst.stdinWrite})
	req := protocol.WatchRequest{
		Directory: uint64(hDirectory),
		Filter:    uint32(dwNotifyFilter),
		Recursive: bWatchSubtree != 0,
		Path:      posixPath,
	}
	if err := encoder.EncodeWatchRequest(req); err != nil {
		shimLogger.Error(err)
		shimMu.Lock()
		delete(handles, hDir)
		shimMu.Unlock()
		windows.SetLastError(uint32(protocol.ErrWSLStartFailed))
		return 0
	}

	return 1
}

// cancelIoDetourImpl replaces the host process's CancelIo import, tearing
// down any outstanding translated call for hFile and notifying the guest
// helper to drop its watch, then forwarding to the original CancelIo so the
// host's own bookkeeping (and any non-WSL handles) behave exactly as before.
func cancelIoDetourImpl(hFile uintptr) uintptr {
	hDir := windows.Handle(hFile)

	shimMu.Lock()
	h, ok := handles[hDir]
	if ok {
		delete(handles, hDir)
	}
	shimMu.Unlock()

	if ok {
		h.abort()
		encoder := protocol.NewEncoder(pipeWriter{h.notifyIn})
		_ = encoder.EncodeUnwatchRequest(protocol.UnwatchRequest{Directory: h.directory})
	}

	r1, _, _ := windows.Syscall(originalCancelIo, 1, hFile, 0, 0)
	return r1
}

// callOriginalReadDirectoryChangesW invokes the real kernel32 implementation
// this package's IAT patch displaced.
func callOriginalReadDirectoryChangesW(
	hDirectory, lpBuffer, nBufferLength, bWatchSubtree, dwNotifyFilter,
	lpBytesReturned, lpOverlapped, lpCompletionRoutine uintptr,
) uintptr {
	r1, _, _ := windows.Syscall9(originalReadDirectoryChangesW, 8,
		hDirectory, lpBuffer, nBufferLength, bWatchSubtree, dwNotifyFilter,
		lpBytesReturned, lpOverlapped, lpCompletionRoutine, 0,
	)
	return r1
}
